// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalforge/services/harness/adapter"
	"github.com/evalforge/evalforge/services/harness/suite"
)

// stubGenerator replays canned outputs per case prompt and can fail
// after a fixed number of calls.
type stubGenerator struct {
	output    string
	calls     int
	failAfter int // fail on call number failAfter+1; 0 disables
	err       error
}

func (g *stubGenerator) Name() string { return "chat" }

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (*adapter.Result, error) {
	g.calls++
	if g.failAfter > 0 && g.calls > g.failAfter {
		return nil, g.err
	}
	return &adapter.Result{
		Text:  g.output,
		Usage: adapter.Usage{TokensIn: 10, TokensOut: 5},
		Raw:   json.RawMessage(`{}`),
	}, nil
}

func testSpec(nRuns int, randomized bool) suite.Spec {
	spec := suite.DefaultSpec()
	spec.RunPolicy.NRunsPerCase = nRuns
	spec.RunPolicy.RandomizedOrder = randomized
	return spec
}

func testCases() []suite.Case {
	return []suite.Case{
		{CaseID: "case_001", Prompt: "emit json", Checks: []string{"json_parse"}},
		{CaseID: "case_002", Prompt: "say hi", Checks: nil},
	}
}

func newTestRunner(t *testing.T, gen adapter.Generator, spec suite.Spec) *Runner {
	t.Helper()
	r, err := New(Config{Generator: gen, Spec: spec})
	require.NoError(t, err)
	r.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}
	return r
}

func TestRunCompletedBatch(t *testing.T) {
	outDir := t.TempDir()
	gen := &stubGenerator{output: `{"a":1}`}
	r := newTestRunner(t, gen, testSpec(3, false))

	batch, err := r.Run(context.Background(), testCases(), "gpt-4o-mini", "chat", outDir, "baseline")
	require.NoError(t, err)

	assert.Equal(t, "20260824T120000Z", batch.RunID)
	assert.Equal(t, 6, batch.Records)

	// Artifact count == n_runs_per_case × |cases|.
	entries, err := os.ReadDir(filepath.Join(batch.Dir, "cases"))
	require.NoError(t, err)
	assert.Len(t, entries, 6)

	// run_index contiguous 1..3 per case.
	for _, caseID := range []string{"case_001", "case_002"} {
		for i := 1; i <= 3; i++ {
			path := filepath.Join(batch.Dir, "cases", fmt.Sprintf("%s.run%d.json", caseID, i))
			data, err := os.ReadFile(path)
			require.NoError(t, err, "missing artifact for %s run %d", caseID, i)

			var record RunRecord
			require.NoError(t, json.Unmarshal(data, &record))
			assert.Equal(t, caseID, record.CaseID)
			assert.Equal(t, i, record.RunIndex)
			assert.True(t, record.PassedAllChecks)
			assert.Zero(t, record.HallucinationFlags)
		}
	}

	// Results table has a header plus one row per repetition.
	f, err := os.Open(filepath.Join(batch.Dir, ResultsFileName))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 7)
	assert.Equal(t, resultColumns, records[0])
	assert.Equal(t, "20260824T120000Z", records[1][0])
	assert.Equal(t, "baseline", records[1][1])
	assert.Equal(t, "1", records[1][4]) // task_success
}

func TestRunWritesManifest(t *testing.T) {
	outDir := t.TempDir()
	gen := &stubGenerator{output: `{}`}
	r := newTestRunner(t, gen, testSpec(1, true))

	batch, err := r.Run(context.Background(), testCases(), "gpt-4o-mini", "responses", outDir, "candidate")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(batch.Dir, ManifestFileName))
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, batch.RunID, manifest.RunID)
	assert.NotEmpty(t, manifest.BatchUUID)
	assert.Equal(t, "candidate", manifest.Tag)
	assert.Equal(t, "responses", manifest.Interface)
	assert.Equal(t, 1, manifest.NRunsPerCase)
	assert.True(t, manifest.RandomizedOrder)
}

func TestRunShuffledBatchStillRunsEveryCase(t *testing.T) {
	outDir := t.TempDir()
	gen := &stubGenerator{output: `{}`}
	r := newTestRunner(t, gen, testSpec(2, true))
	// Deterministic worst-case shuffle: full reversal.
	r.shuffle = func(n int, swap func(i, j int)) {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			swap(i, j)
		}
	}

	batch, err := r.Run(context.Background(), testCases(), "m", "chat", outDir, "run")
	require.NoError(t, err)
	assert.Equal(t, 4, batch.Records)

	for _, caseID := range []string{"case_001", "case_002"} {
		for i := 1; i <= 2; i++ {
			path := filepath.Join(batch.Dir, "cases", fmt.Sprintf("%s.run%d.json", caseID, i))
			assert.FileExists(t, path)
		}
	}
}

func TestRunCheckFailureDoesNotSkipRepetitions(t *testing.T) {
	outDir := t.TempDir()
	gen := &stubGenerator{output: "hello"} // fails json_parse
	r := newTestRunner(t, gen, testSpec(2, false))

	batch, err := r.Run(context.Background(), testCases(), "m", "chat", outDir, "run")
	require.NoError(t, err)
	assert.Equal(t, 4, batch.Records)

	data, err := os.ReadFile(filepath.Join(batch.Dir, "cases", "case_001.run1.json"))
	require.NoError(t, err)
	var record RunRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.False(t, record.PassedAllChecks)
	assert.Contains(t, record.Notes, "json_parse:json_parse_fail:SyntaxError")
}

func TestRunAbortsOnFatalFailure(t *testing.T) {
	outDir := t.TempDir()
	fatal := errors.New("provider quota exhausted")
	gen := &stubGenerator{output: `{}`, failAfter: 3, err: fatal}
	r := newTestRunner(t, gen, testSpec(3, false))

	_, err := r.Run(context.Background(), testCases(), "m", "chat", outDir, "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)

	runDir := filepath.Join(outDir, "20260824T120000Z", "run", "m")

	// Already-written artifacts survive the abort.
	entries, err := os.ReadDir(filepath.Join(runDir, "cases"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// No results table for an aborted batch.
	assert.NoFileExists(t, filepath.Join(runDir, ResultsFileName))
}

func TestNewRequiresGenerator(t *testing.T) {
	_, err := New(Config{Spec: suite.DefaultSpec()})
	assert.Error(t, err)
}

func TestNotesTruncatedInResultsRow(t *testing.T) {
	record := RunRecord{
		CaseID: "x",
		Notes:  []string{string(make([]byte, 2000))},
	}
	row := rowFromRecord("rid", "tag", record)
	assert.Len(t, row.notes, maxNotesLen)
}
