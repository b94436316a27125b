// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package delta compares the aggregated results of a baseline and a
// candidate model from the most recent run batch and produces a
// per-case signed-difference report.
//
// Batch selection leans on run ids being fixed-width UTC timestamps:
// candidate directories are filtered against that format before taking
// the lexicographic maximum, so stray directories are never selected. A
// missing results table is a loud MissingArtifactError naming the
// expected path, never a silently zero-filled substitute.
package delta

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evalforge/evalforge/services/harness/aggregate"
)

const tracerName = "harness.delta"

const (
	// BaselineTag and CandidateTag are the batch tags the comparison
	// reads beneath the latest run directory.
	BaselineTag  = "baseline"
	CandidateTag = "candidate"

	resultsFileName = "results.csv"
)

// runIDPattern is the enforced batch identifier format. Lexicographic
// order over matching names equals chronological order.
var runIDPattern = regexp.MustCompile(`^\d{8}T\d{6}Z$`)

// ErrMissingArtifact indicates an expected aggregated results table is
// absent.
var ErrMissingArtifact = errors.New("missing results artifact")

// MissingArtifactError names the expected path of an absent table. It
// matches ErrMissingArtifact under errors.Is.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing results table: %s", e.Path)
}

// Is reports whether target is ErrMissingArtifact.
func (e *MissingArtifactError) Is(target error) bool {
	return target == ErrMissingArtifact
}

// Metric is one tracked metric's baseline/candidate pair and its signed
// difference (candidate minus baseline).
type Metric struct {
	Baseline  float64
	Candidate float64
	Delta     float64
}

// Row is the per-case comparison across the three tracked metrics.
type Row struct {
	CaseID             string
	TaskSuccess        Metric
	FormatOK           Metric
	HallucinationFlags Metric
}

// Report is a complete baseline-vs-candidate comparison.
type Report struct {
	RunID          string
	BaselineModel  string
	CandidateModel string
	Rows           []Row
}

// LatestRunDir returns the newest batch directory beneath runsDir,
// judged by identifier. Directories whose names do not match the
// enforced run-id format are ignored.
func LatestRunDir(runsDir string) (string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return "", fmt.Errorf("reading runs directory %s: %w", runsDir, err)
	}

	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() || !runIDPattern.MatchString(entry.Name()) {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no run batches found in %s", runsDir)
	}
	return filepath.Join(runsDir, latest), nil
}

// Compute locates the latest batch and compares baselineModel against
// candidateModel. The case universe is the union of both sides' ids;
// a side missing a case reports 0.0 for every metric. Rows are ordered
// by case_id ascending.
func Compute(ctx context.Context, runsDir, baselineModel, candidateModel string) (*Report, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "delta.Compute")
	defer span.End()

	latest, err := LatestRunDir(runsDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no batch found")
		return nil, err
	}

	basePath := filepath.Join(latest, BaselineTag, baselineModel, resultsFileName)
	candPath := filepath.Join(latest, CandidateTag, candidateModel, resultsFileName)

	base, err := loadAggregated(basePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "baseline load failed")
		return nil, err
	}
	cand, err := loadAggregated(candPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate load failed")
		return nil, err
	}

	caseIDs := unionIDs(base, cand)
	rows := make([]Row, 0, len(caseIDs))
	for _, caseID := range caseIDs {
		b := base[caseID] // zero value when absent: 0.0 per metric
		c := cand[caseID]
		rows = append(rows, Row{
			CaseID:             caseID,
			TaskSuccess:        metricPair(b.TaskSuccess, c.TaskSuccess),
			FormatOK:           metricPair(b.FormatOK, c.FormatOK),
			HallucinationFlags: metricPair(b.HallucinationFlags, c.HallucinationFlags),
		})
	}

	span.SetAttributes(attribute.Int("delta.cases", len(rows)))
	span.SetStatus(codes.Ok, "comparison complete")

	return &Report{
		RunID:          filepath.Base(latest),
		BaselineModel:  baselineModel,
		CandidateModel: candidateModel,
		Rows:           rows,
	}, nil
}

func metricPair(baseline, candidate float64) Metric {
	return Metric{
		Baseline:  baseline,
		Candidate: candidate,
		Delta:     candidate - baseline,
	}
}

func unionIDs(base, cand map[string]aggregate.Case) []string {
	set := make(map[string]bool, len(base)+len(cand))
	for id := range base {
		set[id] = true
	}
	for id := range cand {
		set[id] = true
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// loadAggregated reads one side's results table and reduces it to
// per-case means.
func loadAggregated(path string) (map[string]aggregate.Case, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingArtifactError{Path: path}
		}
		return nil, fmt.Errorf("opening results table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading results header %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"case_id", "task_success", "format_ok", "hallucination_flags"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("results table %s lacks column %q", path, required)
		}
	}

	var rows []aggregate.Row
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading results row in %s: %w", path, err)
		}
		rows = append(rows, aggregate.Row{
			CaseID:             fields[col["case_id"]],
			TaskSuccess:        fields[col["task_success"]],
			FormatOK:           fields[col["format_ok"]],
			HallucinationFlags: fields[col["hallucination_flags"]],
		})
	}

	return aggregate.Reduce(rows), nil
}
