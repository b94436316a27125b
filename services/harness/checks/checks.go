// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package checks validates model output against the declarative per-case
// rules of the suite. Checks are data, not control flow: every declared
// check runs unconditionally so every failure lands in the notes, and a
// failure never propagates as an error.
package checks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Declarative check identifiers understood by the engine. Anything else
// is treated as a manual check: recorded, never auto-failed.
const (
	CheckJSONParse   = "json_parse"
	CheckNoExtraText = "no_extra_text"
)

const codeFence = "```"

// Result is the outcome of evaluating one output against one case's
// check set.
type Result struct {
	// Passed is the conjunction of the global strict policy (when
	// enabled) and every declared check.
	Passed bool

	// Notes are ordered diagnostics, one per recorded observation.
	Notes []string

	// HallucinationFlags is a declared placeholder metric. It is always
	// zero today; the field is kept so record and table schemas stay
	// stable when detection lands.
	HallucinationFlags int
}

// Run evaluates output against the declared checks plus the independent
// strict no-extra-text policy.
func Run(declared []string, output string, strictNoExtraText bool) Result {
	result := Result{Passed: true}

	if strictNoExtraText {
		if ok, msg := checkNoExtraText(output); !ok {
			result.Passed = false
			result.Notes = append(result.Notes, msg)
		}
	}

	for _, name := range declared {
		ok, msg := true, ""
		switch name {
		case CheckJSONParse:
			ok, msg = checkJSONParse(output)
		case CheckNoExtraText:
			ok, msg = checkNoExtraText(output)
		default:
			msg = "manual_check:" + name
		}

		if !ok {
			result.Passed = false
		}
		if msg != "" {
			result.Notes = append(result.Notes, name+":"+msg)
		}
	}

	return result
}

// checkJSONParse requires output to parse as a single JSON value.
func checkJSONParse(output string) (bool, string) {
	var v any
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		return false, "json_parse_fail:" + jsonErrorClass(err)
	}
	return true, ""
}

// checkNoExtraText forbids fenced-code delimiters anywhere in the output.
func checkNoExtraText(output string) (bool, string) {
	if strings.Contains(output, codeFence) {
		return false, "contains_code_fence"
	}
	return true, ""
}

// jsonErrorClass names the concrete decode error type, mirroring the
// exception-class suffix in the recorded note.
func jsonErrorClass(err error) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "SyntaxError"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return "UnmarshalTypeError"
	}
	return fmt.Sprintf("%T", err)
}
