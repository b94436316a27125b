// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/services/harness/delta"
)

var (
	deltaBaseline string
	deltaCand     string
	deltaRunsDir  string
	deltaOut      string

	deltaCmd = &cobra.Command{
		Use:   "delta",
		Short: "Compares baseline and candidate results from the latest run",
		Long: `Reads the baseline and candidate results tables from the most
recent run batch and writes a per-case signed-delta markdown table.`,
		RunE: runDeltaCommand,
	}
)

func init() {
	deltaCmd.Flags().StringVar(&deltaBaseline, "baseline", "", "Baseline model identifier (required)")
	deltaCmd.Flags().StringVar(&deltaCand, "candidate", "", "Candidate model identifier (required)")
	deltaCmd.Flags().StringVar(&deltaRunsDir, "runs-dir", "runs", "Directory run batches are read from")
	deltaCmd.Flags().StringVar(&deltaOut, "out", "docs/delta_table.md", "Output path for the delta table")
	_ = deltaCmd.MarkFlagRequired("baseline")
	_ = deltaCmd.MarkFlagRequired("candidate")
}

func runDeltaCommand(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	report, err := delta.Compute(cmd.Context(), deltaRunsDir, deltaBaseline, deltaCand)
	if err != nil {
		return err
	}
	if err := report.WriteMarkdown(deltaOut); err != nil {
		return err
	}

	logger.Info("delta table written",
		"run_id", report.RunID,
		"baseline", report.BaselineModel,
		"candidate", report.CandidateModel,
		"cases", len(report.Rows),
	)
	fmt.Printf("Wrote: %s\n", deltaOut)
	return nil
}
