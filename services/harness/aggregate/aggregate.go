// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregate reduces repeated per-case result rows into per-case
// mean metrics. The reduction is a pure function: deterministic for any
// repetition order, with non-numeric samples excluded from the mean
// rather than treated as zero.
package aggregate

import (
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Row carries the tracked metric fields of one result-table row. Values
// are raw table fields; anything that does not parse as a float is
// excluded from the mean.
type Row struct {
	CaseID             string
	TaskSuccess        string
	FormatOK           string
	HallucinationFlags string
}

// Case holds the per-case means for the three tracked metrics.
type Case struct {
	CaseID             string
	TaskSuccess        float64
	FormatOK           float64
	HallucinationFlags float64
}

// Reduce groups rows by case_id and computes the arithmetic mean of each
// tracked metric. A case with zero valid samples for a metric reports
// 0.0 by convention.
func Reduce(rows []Row) map[string]Case {
	byCase := make(map[string][]Row)
	for _, row := range rows {
		byCase[row.CaseID] = append(byCase[row.CaseID], row)
	}

	result := make(map[string]Case, len(byCase))
	for caseID, group := range byCase {
		result[caseID] = Case{
			CaseID:             caseID,
			TaskSuccess:        meanOf(group, func(r Row) string { return r.TaskSuccess }),
			FormatOK:           meanOf(group, func(r Row) string { return r.FormatOK }),
			HallucinationFlags: meanOf(group, func(r Row) string { return r.HallucinationFlags }),
		}
	}
	return result
}

func meanOf(rows []Row, field func(Row) string) float64 {
	var samples []float64
	for _, row := range rows {
		v, err := strconv.ParseFloat(field(row), 64)
		if err != nil {
			continue
		}
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return 0.0
	}
	return stat.Mean(samples, nil)
}
