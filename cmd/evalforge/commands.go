// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "evalforge",
		Short: "A CLI to run prompt benchmark suites and compare model results",
		Long: `Evalforge runs a fixed suite of prompt cases against a model,
scores each output with declarative checks, persists per-repetition
artifacts, and compares baseline against candidate results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logLevel string
	logJSON  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON instead of text")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deltaCmd)
}

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	switch logLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "evalforge",
		JSON:    logJSON,
	})
}
