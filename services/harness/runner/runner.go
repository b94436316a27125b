// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner schedules and executes one benchmark batch: every case
// in the suite, repeated n_runs_per_case times, sequentially and
// single-threaded. Each repetition's record is persisted before the next
// begins, so completed work survives a later failure. A fatal request
// failure (quota exhaustion or retry exhaustion) aborts the whole batch;
// the per-repetition artifacts written so far remain as a progress
// record, but no results table is produced.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evalforge/evalforge/services/harness/adapter"
	"github.com/evalforge/evalforge/services/harness/checks"
	"github.com/evalforge/evalforge/services/harness/suite"
)

const tracerName = "harness.runner"

// RunIDFormat is the layout for batch identifiers. Fixed-width UTC
// timestamps keep identifiers lexicographically monotonic, which the
// delta engine relies on when selecting the latest batch.
const RunIDFormat = "20060102T150405Z"

// RunRecord is one repetition's artifact, written once and never revised.
type RunRecord struct {
	CaseID             string        `json:"case_id"`
	RunIndex           int           `json:"run_index"`
	Model              string        `json:"model"`
	Interface          string        `json:"interface"`
	OutputText         string        `json:"output_text"`
	Usage              adapter.Usage `json:"usage"`
	PassedAllChecks    bool          `json:"passed_all_checks"`
	Notes              []string      `json:"notes"`
	HallucinationFlags int           `json:"hallucination_flags"`
}

// Manifest describes one batch: identity, configuration snapshot, policy.
type Manifest struct {
	RunID           string              `json:"run_id"`
	BatchUUID       string              `json:"batch_uuid"`
	Tag             string              `json:"tag"`
	Model           string              `json:"model"`
	Interface       string              `json:"interface"`
	FixedParams     adapter.FixedParams `json:"fixed_params"`
	NRunsPerCase    int                 `json:"n_runs_per_case"`
	RandomizedOrder bool                `json:"randomized_order"`
	TimestampUTC    string              `json:"timestamp_utc"`
}

// Batch summarizes a completed run for the caller.
type Batch struct {
	RunID    string
	Dir      string
	Manifest Manifest
	Records  int
}

// Config configures a Runner.
type Config struct {
	// Generator produces model output for each repetition. Required.
	Generator adapter.Generator

	// Spec is the loaded suite specification. Required.
	Spec suite.Spec

	// Logger for batch progress. Default: slog.Default().
	Logger *slog.Logger
}

// Runner executes batches. Not safe for concurrent Run calls on the
// same instance; the batch contract is single-threaded anyway.
type Runner struct {
	gen     adapter.Generator
	spec    suite.Spec
	logger  *slog.Logger
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// New creates a Runner for the given configuration.
func New(config Config) (*Runner, error) {
	if config.Generator == nil {
		return nil, errors.New("generator must not be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		gen:     config.Generator,
		spec:    config.Spec,
		logger:  logger,
		now:     time.Now,
		shuffle: rand.Shuffle,
	}, nil
}

// Run executes one batch over cases and persists its artifacts beneath
// outDir/<run_id>/<tag>/<model>/.
//
// The case order is shuffled once, uniformly, when the run policy asks
// for randomization; repetitions of a single case always execute
// back-to-back in increasing run_index order.
func (r *Runner) Run(ctx context.Context, cases []suite.Case, model, iface, outDir, tag string) (*Batch, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Runner.Run")
	defer span.End()

	if len(cases) == 0 {
		return nil, errors.New("no cases to run")
	}

	runID := r.now().UTC().Format(RunIDFormat)
	runDir, err := ensureBatchDirs(outDir, runID, tag, model)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		RunID:           runID,
		BatchUUID:       uuid.NewString(),
		Tag:             tag,
		Model:           model,
		Interface:       iface,
		FixedParams:     r.spec.FixedParams,
		NRunsPerCase:    r.spec.RunPolicy.NRunsPerCase,
		RandomizedOrder: r.spec.RunPolicy.RandomizedOrder,
		TimestampUTC:    runID,
	}
	if err := writeManifest(runDir, manifest); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("runner.run_id", runID),
		attribute.String("runner.model", model),
		attribute.Int("runner.cases", len(cases)),
		attribute.Int("runner.n_runs_per_case", r.spec.RunPolicy.NRunsPerCase),
	)

	ordered := make([]suite.Case, len(cases))
	copy(ordered, cases)
	if r.spec.RunPolicy.RandomizedOrder {
		r.shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	r.logger.Info("batch started",
		"run_id", runID,
		"tag", tag,
		"model", model,
		"interface", iface,
		"cases", len(cases),
		"n_runs_per_case", r.spec.RunPolicy.NRunsPerCase,
	)

	var rows []resultRow
	for _, c := range ordered {
		for i := 1; i <= r.spec.RunPolicy.NRunsPerCase; i++ {
			record, err := r.runRepetition(ctx, c, i, model, iface)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "batch aborted")
				r.logger.Error("batch aborted",
					"run_id", runID,
					"case_id", c.CaseID,
					"run_index", i,
					"error", err.Error(),
				)
				return nil, fmt.Errorf("case %s run %d: %w", c.CaseID, i, err)
			}

			if err := writeRecord(runDir, *record); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "artifact write failed")
				return nil, err
			}
			rows = append(rows, rowFromRecord(runID, tag, *record))
		}
	}

	if err := writeResults(runDir, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "results write failed")
		return nil, err
	}

	r.logger.Info("batch complete", "run_id", runID, "records", len(rows), "dir", runDir)
	span.SetStatus(codes.Ok, "batch complete")

	return &Batch{
		RunID:    runID,
		Dir:      runDir,
		Manifest: manifest,
		Records:  len(rows),
	}, nil
}

// runRepetition executes one (case, run_index) repetition. Check
// failures are recorded as data; only request-layer failures return an
// error, which aborts the batch.
func (r *Runner) runRepetition(ctx context.Context, c suite.Case, runIndex int, model, iface string) (*RunRecord, error) {
	result, err := r.gen.Generate(ctx, c.Prompt)
	if err != nil {
		return nil, err
	}

	checkResult := checks.Run(c.Checks, result.Text, r.spec.Scoring.NoExtraTextStrict)

	r.logger.Debug("repetition complete",
		"case_id", c.CaseID,
		"run_index", runIndex,
		"passed", checkResult.Passed,
		"tokens_out", result.Usage.TokensOut,
	)

	return &RunRecord{
		CaseID:             c.CaseID,
		RunIndex:           runIndex,
		Model:              model,
		Interface:          iface,
		OutputText:         result.Text,
		Usage:              result.Usage,
		PassedAllChecks:    checkResult.Passed,
		Notes:              checkResult.Notes,
		HallucinationFlags: checkResult.HallucinationFlags,
	}, nil
}
