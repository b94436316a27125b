// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package delta

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsHeader = "run_id,tag,model,case_id,task_success,format_ok,tokens_in,tokens_out,hallucination_flags,notes\n"

// writeResultsCSV lays out <runsDir>/<runID>/<tag>/<model>/results.csv
// with the given data rows.
func writeResultsCSV(t *testing.T, runsDir, runID, tag, model string, rows ...string) {
	t.Helper()
	dir := filepath.Join(runsDir, runID, tag, model)
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := resultsHeader + strings.Join(rows, "\n")
	if len(rows) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.csv"), []byte(content), 0644))
}

func resultLine(runID, tag, model, caseID, taskSuccess, formatOK string) string {
	return strings.Join([]string{runID, tag, model, caseID, taskSuccess, formatOK, "10", "5", "0", ""}, ",")
}

func TestLatestRunDirPicksLexicographicMax(t *testing.T) {
	runsDir := t.TempDir()
	for _, name := range []string{"20260823T090000Z", "20260824T120000Z", "20260101T000000Z"} {
		require.NoError(t, os.Mkdir(filepath.Join(runsDir, name), 0755))
	}

	latest, err := LatestRunDir(runsDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runsDir, "20260824T120000Z"), latest)
}

func TestLatestRunDirIgnoresMalformedNames(t *testing.T) {
	runsDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(runsDir, "20260823T090000Z"), 0755))
	// Sorts after any timestamp but is not a run directory.
	require.NoError(t, os.Mkdir(filepath.Join(runsDir, "archive"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(runsDir, "20260824T120000Z.bak"), 0755))

	latest, err := LatestRunDir(runsDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runsDir, "20260823T090000Z"), latest)
}

func TestLatestRunDirEmpty(t *testing.T) {
	_, err := LatestRunDir(t.TempDir())
	assert.Error(t, err)
}

func TestComputeSignedDeltas(t *testing.T) {
	runsDir := t.TempDir()
	runID := "20260824T120000Z"

	// Baseline mean 0.5 over two repetitions, candidate 0.8 over five.
	writeResultsCSV(t, runsDir, runID, BaselineTag, "base-model",
		resultLine(runID, BaselineTag, "base-model", "case_001", "1", "1"),
		resultLine(runID, BaselineTag, "base-model", "case_001", "0", "1"),
	)
	writeResultsCSV(t, runsDir, runID, CandidateTag, "cand-model",
		resultLine(runID, CandidateTag, "cand-model", "case_001", "1", "1"),
		resultLine(runID, CandidateTag, "cand-model", "case_001", "1", "1"),
		resultLine(runID, CandidateTag, "cand-model", "case_001", "1", "0"),
		resultLine(runID, CandidateTag, "cand-model", "case_001", "1", "0"),
		resultLine(runID, CandidateTag, "cand-model", "case_001", "0", "0"),
	)

	report, err := Compute(context.Background(), runsDir, "base-model", "cand-model")
	require.NoError(t, err)

	assert.Equal(t, runID, report.RunID)
	require.Len(t, report.Rows, 1)

	row := report.Rows[0]
	assert.Equal(t, "case_001", row.CaseID)
	assert.InDelta(t, 0.5, row.TaskSuccess.Baseline, 1e-9)
	assert.InDelta(t, 0.8, row.TaskSuccess.Candidate, 1e-9)
	assert.InDelta(t, 0.3, row.TaskSuccess.Delta, 1e-9)
	// Regression shows up as a negative delta.
	assert.InDelta(t, -0.6, row.FormatOK.Delta, 1e-9)
}

func TestComputeUnionOfCaseIDs(t *testing.T) {
	runsDir := t.TempDir()
	runID := "20260824T120000Z"

	writeResultsCSV(t, runsDir, runID, BaselineTag, "m",
		resultLine(runID, BaselineTag, "m", "case_002", "1", "1"),
	)
	writeResultsCSV(t, runsDir, runID, CandidateTag, "m",
		resultLine(runID, CandidateTag, "m", "case_001", "1", "1"),
		resultLine(runID, CandidateTag, "m", "case_002", "0", "1"),
	)

	report, err := Compute(context.Background(), runsDir, "m", "m")
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	// Sorted ascending by case_id.
	assert.Equal(t, "case_001", report.Rows[0].CaseID)
	assert.Equal(t, "case_002", report.Rows[1].CaseID)

	// case_001 is candidate-only: baseline defaults to 0.0 and the
	// delta equals the candidate value.
	only := report.Rows[0]
	assert.Zero(t, only.TaskSuccess.Baseline)
	assert.InDelta(t, 1.0, only.TaskSuccess.Candidate, 1e-9)
	assert.InDelta(t, 1.0, only.TaskSuccess.Delta, 1e-9)
}

func TestComputeMissingBaselineArtifact(t *testing.T) {
	runsDir := t.TempDir()
	runID := "20260824T120000Z"
	writeResultsCSV(t, runsDir, runID, CandidateTag, "m",
		resultLine(runID, CandidateTag, "m", "case_001", "1", "1"),
	)

	_, err := Compute(context.Background(), runsDir, "m", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArtifact)

	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Path, filepath.Join(runID, BaselineTag, "m", "results.csv"))
}

func TestComputeReadsLatestBatchOnly(t *testing.T) {
	runsDir := t.TempDir()
	old, latest := "20260823T090000Z", "20260824T120000Z"

	for _, runID := range []string{old, latest} {
		score := "0"
		if runID == latest {
			score = "1"
		}
		writeResultsCSV(t, runsDir, runID, BaselineTag, "m",
			resultLine(runID, BaselineTag, "m", "case_001", score, "1"),
		)
		writeResultsCSV(t, runsDir, runID, CandidateTag, "m",
			resultLine(runID, CandidateTag, "m", "case_001", score, "1"),
		)
	}

	report, err := Compute(context.Background(), runsDir, "m", "m")
	require.NoError(t, err)
	assert.Equal(t, latest, report.RunID)
	assert.InDelta(t, 1.0, report.Rows[0].TaskSuccess.Baseline, 1e-9)
}

func TestMarkdownFormatting(t *testing.T) {
	report := &Report{
		RunID:          "20260824T120000Z",
		BaselineModel:  "base-model",
		CandidateModel: "cand-model",
		Rows: []Row{
			{
				CaseID:      "case_001",
				TaskSuccess: Metric{Baseline: 0.5, Candidate: 0.8, Delta: 0.3},
				FormatOK:    Metric{Baseline: 1.0, Candidate: 0.4, Delta: -0.6},
			},
		},
	}

	md := report.Markdown()
	assert.Contains(t, md, "# Delta Table — base-model vs cand-model")
	assert.Contains(t, md, "Run folder: `20260824T120000Z`")
	assert.Contains(t, md, "| case_001 | 0.50 | 0.80 | +0.30 | 1.00 | 0.40 | -0.60 | 0.00 | 0.00 | +0.00 |")
}

func TestWriteMarkdownCreatesParentDirs(t *testing.T) {
	report := &Report{RunID: "20260824T120000Z", BaselineModel: "a", CandidateModel: "b"}
	path := filepath.Join(t.TempDir(), "docs", "delta_table.md")

	require.NoError(t, report.WriteMarkdown(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Delta Table — a vs b")
}
