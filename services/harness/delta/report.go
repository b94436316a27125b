// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package delta

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Markdown renders the report as a per-case comparison table. Means are
// printed with two decimals; deltas carry an explicit sign.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Delta Table — %s vs %s\n\n", r.BaselineModel, r.CandidateModel)
	fmt.Fprintf(&b, "Run folder: `%s`\n\n", r.RunID)

	b.WriteString("| case_id | TASK_SUCCESS (base) | TASK_SUCCESS (cand) | Δ | FORMAT_OK (base) | FORMAT_OK (cand) | Δ | HALLUC_FLAGS (base) | HALLUC_FLAGS (cand) | Δ |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|---:|---:|\n")

	for _, row := range r.Rows {
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %+.2f | %.2f | %.2f | %+.2f | %.2f | %.2f | %+.2f |\n",
			row.CaseID,
			row.TaskSuccess.Baseline, row.TaskSuccess.Candidate, row.TaskSuccess.Delta,
			row.FormatOK.Baseline, row.FormatOK.Candidate, row.FormatOK.Delta,
			row.HallucinationFlags.Baseline, row.HallucinationFlags.Candidate, row.HallucinationFlags.Delta,
		)
	}

	return b.String()
}

// WriteMarkdown writes the rendered report to path, creating parent
// directories as needed.
func (r *Report) WriteMarkdown(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(r.Markdown()), 0644); err != nil {
		return fmt.Errorf("writing delta report: %w", err)
	}
	return nil
}
