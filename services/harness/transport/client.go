// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport implements the harness's resilient request client.
//
// Transient failures (429, 500, 502, 503, 504, timeouts, connection
// errors) are retried with exponential backoff and jitter, honoring a
// numeric Retry-After header when the provider sends one. A 429 whose
// error payload is quota/billing related fails fast as ErrQuotaExhausted
// instead of burning the retry budget. Exhausting the attempt ceiling
// surfaces the last failure wrapped in ExhaustedError.
//
// The retry loop is an explicit state machine rather than a
// sleep-and-continue loop, so every transition is driven by a classified
// response outcome.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const tracerName = "harness.transport"

const (
	defaultMaxAttempts = 8
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 60 * time.Second
	defaultTimeout     = 120 * time.Second
)

// retryableStatuses are the HTTP statuses retried with backoff.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// quotaCodeKeywords and quotaMessageKeywords identify a 429 that is
// attributable to billing/credit limits rather than transient load.
var (
	quotaCodeKeywords    = []string{"insufficient", "quota", "billing", "payment"}
	quotaMessageKeywords = []string{"insufficient", "quota", "billing", "payment", "credits"}
)

// attemptState is the state of the retry machine for one request.
//
//	ATTEMPTING ──[retryable]──► BACKOFF ──► ATTEMPTING
//	    │  │  └──[2xx]──► SUCCEEDED
//	    │  └──[quota 429]──► QUOTA_ABORTED
//	    └──[ceiling hit]──► EXHAUSTED
type attemptState int

const (
	stateAttempting attemptState = iota
	stateBackoff
	stateQuotaAborted
	stateSucceeded
	stateExhausted
)

// String returns a human-readable state name.
func (s attemptState) String() string {
	switch s {
	case stateAttempting:
		return "ATTEMPTING"
	case stateBackoff:
		return "BACKOFF"
	case stateQuotaAborted:
		return "QUOTA_ABORTED"
	case stateSucceeded:
		return "SUCCEEDED"
	case stateExhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config controls retry behavior. Zero values fall back to defaults.
type Config struct {
	// MaxAttempts is the attempt ceiling including the first try.
	// Default: 8.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff. Default: 2s.
	BaseDelay time.Duration

	// MaxDelay caps both the computed backoff and the final sleep.
	// Default: 60s.
	MaxDelay time.Duration

	// Timeout bounds each individual attempt, not the cumulative retry
	// sequence. Default: 120s.
	Timeout time.Duration

	// Limiter optionally paces outgoing attempts. Nil disables pacing.
	Limiter *rate.Limiter

	// Logger receives one diagnostic line per retry. Default: slog.Default().
	Logger *slog.Logger
}

// Response is the final body and status of a successful request.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client issues POST requests with retry, backoff, and failure
// classification. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() float64
}

// NewClient creates a Client, applying defaults for zero config values.
func NewClient(config Config) *Client {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     logger,
		sleep:      sleepContext,
		jitter:     rand.Float64,
	}
}

// Post sends payload as JSON to url and returns the final response.
//
// Retryable failures are handled internally; only ErrQuotaExhausted,
// ErrRetriesExhausted (via their typed wrappers), and non-retryable
// HTTP statuses propagate to the caller.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, payload any) (*Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "transport.Client.Post")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request payload: %w", err)
	}

	state := stateAttempting
	attempt := 0
	var (
		resp      *Response
		lastErr   error
		wait      time.Duration
		lastState int
	)

	for {
		switch state {
		case stateAttempting:
			attempt++
			out := c.attempt(ctx, url, headers, body)
			switch {
			case out.fatal != nil:
				span.RecordError(out.fatal)
				span.SetStatus(codes.Error, "request failed")
				return nil, out.fatal
			case out.quota != nil:
				lastErr = out.quota
				state = stateQuotaAborted
			case out.resp != nil:
				resp = out.resp
				state = stateSucceeded
			default:
				lastErr = out.retryable
				lastState = out.status
				if attempt >= c.config.MaxAttempts {
					state = stateExhausted
				} else {
					wait = c.delayFor(attempt, out.retryAfter)
					state = stateBackoff
				}
			}

		case stateBackoff:
			c.logger.Warn("retrying request",
				"attempt", attempt,
				"max_attempts", c.config.MaxAttempts,
				"status", lastState,
				"wait", wait.Round(100*time.Millisecond).String(),
			)
			if err := c.sleep(ctx, wait); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "canceled during backoff")
				return nil, err
			}
			state = stateAttempting

		case stateSucceeded:
			span.SetAttributes(attribute.Int("transport.attempts", attempt))
			span.SetStatus(codes.Ok, "request succeeded")
			return resp, nil

		case stateQuotaAborted:
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, "quota exhausted")
			return nil, lastErr

		case stateExhausted:
			err := &ExhaustedError{Attempts: attempt, Last: lastErr}
			span.RecordError(err)
			span.SetStatus(codes.Error, "retries exhausted")
			return nil, err
		}
	}
}

// outcome is one classified attempt result. Exactly one field group is
// populated: resp (success), quota, fatal, or retryable(+status/retryAfter).
type outcome struct {
	resp       *Response
	quota      *QuotaError
	fatal      error
	retryable  error
	status     int
	retryAfter *time.Duration
}

func (c *Client) attempt(ctx context.Context, url string, headers map[string]string, body []byte) outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if c.config.Limiter != nil {
		if err := c.config.Limiter.Wait(attemptCtx); err != nil {
			return outcome{retryable: fmt.Errorf("waiting for rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return outcome{fatal: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return outcome{retryable: fmt.Errorf("network error: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return outcome{retryable: fmt.Errorf("reading response body: %w", err)}
	}

	status := httpResp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return outcome{resp: &Response{StatusCode: status, Body: respBody}}

	case retryableStatuses[status]:
		if status == http.StatusTooManyRequests {
			if code, msg, ok := quotaRelated(respBody); ok {
				return outcome{quota: &QuotaError{Code: code, Message: msg}}
			}
		}
		return outcome{
			retryable:  &HTTPError{StatusCode: status, Body: respBody},
			status:     status,
			retryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}

	default:
		return outcome{fatal: &HTTPError{StatusCode: status, Body: respBody}}
	}
}

// delayFor computes the backoff before the next attempt. A numeric
// Retry-After overrides the computed delay; otherwise the delay is
// min(maxDelay, base·2^(attempt−1)) plus uniform jitter in [0,1)s,
// capped again at maxDelay.
func (c *Client) delayFor(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	backoff := c.config.BaseDelay << uint(attempt-1)
	if backoff > c.config.MaxDelay || backoff <= 0 {
		backoff = c.config.MaxDelay
	}
	jitter := time.Duration(c.jitter() * float64(time.Second))
	if backoff+jitter > c.config.MaxDelay {
		return c.config.MaxDelay
	}
	return backoff + jitter
}

// apiError is the JSON error envelope shared by both provider protocols.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// quotaRelated reports whether a 429 body identifies a billing/credit
// failure rather than transient load.
func quotaRelated(body []byte) (code, msg string, ok bool) {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", "", false
	}
	code = envelope.Error.Code
	msg = envelope.Error.Message

	codeLower := strings.ToLower(code)
	for _, kw := range quotaCodeKeywords {
		if strings.Contains(codeLower, kw) {
			return code, msg, true
		}
	}
	msgLower := strings.ToLower(msg)
	for _, kw := range quotaMessageKeywords {
		if strings.Contains(msgLower, kw) {
			return code, msg, true
		}
	}
	return code, msg, false
}

// parseRetryAfter handles numeric Retry-After values only; HTTP dates
// are ignored.
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil {
		return nil
	}
	d := time.Duration(seconds * float64(time.Second))
	return &d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
