// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/services/harness/adapter"
	"github.com/evalforge/evalforge/services/harness/runner"
	"github.com/evalforge/evalforge/services/harness/secret"
	"github.com/evalforge/evalforge/services/harness/suite"
	"github.com/evalforge/evalforge/services/harness/transport"
)

var (
	runModel     string
	runInterface string
	runOutDir    string
	runTag       string
	runSuiteDir  string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Runs the benchmark suite against one model",
		Long: `Executes every case in the suite against the given model,
n_runs_per_case times each, and writes per-repetition artifacts plus a
results table under the output directory.`,
		RunE: runRunCommand,
	}
)

func init() {
	runCmd.Flags().StringVar(&runModel, "model", "", "Model identifier to benchmark (required)")
	runCmd.Flags().StringVar(&runInterface, "interface", adapter.VariantResponses, "API variant: responses or chat")
	runCmd.Flags().StringVar(&runOutDir, "outdir", "runs", "Directory run batches are written under")
	runCmd.Flags().StringVar(&runTag, "tag", "run", "Batch tag, e.g. baseline or candidate")
	runCmd.Flags().StringVar(&runSuiteDir, "suite", "suite", "Directory holding suite_spec.yaml and cases.jsonl")
	_ = runCmd.MarkFlagRequired("model")
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	key, err := secret.Resolve(secret.DefaultEnvVar, logger.Slog())
	if err != nil {
		return err
	}
	apiKey, err := key.Reveal()
	if err != nil {
		return err
	}

	spec, err := suite.LoadSpec(filepath.Join(runSuiteDir, "suite_spec.yaml"))
	if err != nil {
		return err
	}
	cases, err := suite.LoadCases(filepath.Join(runSuiteDir, "cases.jsonl"))
	if err != nil {
		return err
	}

	client := transport.NewClient(transport.Config{Logger: logger.Slog()})
	gen, err := adapter.New(runInterface, client, runModel, apiKey, spec.FixedParams)
	if err != nil {
		return err
	}

	r, err := runner.New(runner.Config{
		Generator: gen,
		Spec:      spec,
		Logger:    logger.Slog(),
	})
	if err != nil {
		return err
	}

	batch, err := r.Run(cmd.Context(), cases, runModel, runInterface, runOutDir, runTag)
	if err != nil {
		return err
	}

	fmt.Printf("Batch %s complete: %d records under %s\n", batch.RunID, batch.Records, batch.Dir)
	return nil
}
