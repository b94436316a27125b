// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ResultsFileName is the per-batch results table.
	ResultsFileName = "results.csv"

	// ManifestFileName is the per-batch run manifest.
	ManifestFileName = "run_manifest.json"

	// casesDirName holds the per-repetition artifacts.
	casesDirName = "cases"

	// maxNotesLen bounds the joined notes column in the results table.
	maxNotesLen = 1000
)

// resultColumns is the results.csv header, in column order.
var resultColumns = []string{
	"run_id", "tag", "model", "case_id",
	"task_success", "format_ok",
	"tokens_in", "tokens_out",
	"hallucination_flags", "notes",
}

// resultRow is one results.csv data row.
type resultRow struct {
	runID              string
	tag                string
	model              string
	caseID             string
	taskSuccess        int
	formatOK           int
	tokensIn           int
	tokensOut          int
	hallucinationFlags int
	notes              string
}

func rowFromRecord(runID, tag string, record RunRecord) resultRow {
	passed := 0
	if record.PassedAllChecks {
		passed = 1
	}

	notes := strings.Join(record.Notes, " | ")
	if len(notes) > maxNotesLen {
		notes = notes[:maxNotesLen]
	}

	return resultRow{
		runID:              runID,
		tag:                tag,
		model:              record.Model,
		caseID:             record.CaseID,
		taskSuccess:        passed,
		formatOK:           passed,
		tokensIn:           record.Usage.TokensIn,
		tokensOut:          record.Usage.TokensOut,
		hallucinationFlags: record.HallucinationFlags,
		notes:              notes,
	}
}

func (r resultRow) fields() []string {
	return []string{
		r.runID, r.tag, r.model, r.caseID,
		strconv.Itoa(r.taskSuccess), strconv.Itoa(r.formatOK),
		strconv.Itoa(r.tokensIn), strconv.Itoa(r.tokensOut),
		strconv.Itoa(r.hallucinationFlags), r.notes,
	}
}

func ensureBatchDirs(outDir, runID, tag, model string) (string, error) {
	runDir := filepath.Join(outDir, runID, tag, model)
	if err := os.MkdirAll(filepath.Join(runDir, casesDirName), 0755); err != nil {
		return "", fmt.Errorf("creating batch directory: %w", err)
	}
	return runDir, nil
}

func writeManifest(runDir string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run manifest: %w", err)
	}
	path := filepath.Join(runDir, ManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing run manifest: %w", err)
	}
	return nil
}

// writeRecord persists one repetition artifact immediately, before the
// next repetition starts.
func writeRecord(runDir string, record RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	name := fmt.Sprintf("%s.run%d.json", record.CaseID, record.RunIndex)
	path := filepath.Join(runDir, casesDirName, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing run record %s: %w", name, err)
	}
	return nil
}

// writeResults writes the batch results table. Called only for a
// completed batch; an aborted batch produces no table.
func writeResults(runDir string, rows []resultRow) error {
	path := filepath.Join(runDir, ResultsFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(resultColumns); err != nil {
		return fmt.Errorf("writing results header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.fields()); err != nil {
			return fmt.Errorf("writing results row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing results table: %w", err)
	}
	return nil
}
