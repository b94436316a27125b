// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExhausted marks a 429 that is billing- or credit-related.
	// Retrying such a response cannot succeed, so the client fails fast
	// without consuming retry budget.
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrRetriesExhausted marks a request that consumed the full attempt
	// ceiling without a final response.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// QuotaError carries the provider's error code and message from a
// quota-related 429. It matches ErrQuotaExhausted under errors.Is.
type QuotaError struct {
	Code    string
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("provider returned 429, likely quota/billing related (code=%q, message=%q); add credits and re-run", e.Code, e.Message)
}

// Is reports whether target is ErrQuotaExhausted.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExhausted
}

// ExhaustedError wraps the last underlying failure after the attempt
// ceiling was reached. It matches ErrRetriesExhausted under errors.Is
// and unwraps to the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrRetriesExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// HTTPError is a non-2xx response that is not independently retryable,
// or the last retryable status when the ceiling is reached.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}
