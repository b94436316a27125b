// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package secret resolves the provider credential at startup. The key is
// read from the environment with a container-secrets file fallback and
// held in an mlocked memguard enclave so it never sits in swappable heap
// memory between calls. A missing credential is a fatal startup error.
package secret

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// DefaultEnvVar is the environment variable holding the provider key.
const DefaultEnvVar = "OPENAI_API_KEY"

// secretsDir is where container runtimes mount file-based secrets.
const secretsDir = "/run/secrets"

// ErrMissingCredential indicates no credential could be resolved from
// the environment or the secrets directory.
var ErrMissingCredential = errors.New("missing API credential")

// Key is a resolved credential held in a sealed enclave.
type Key struct {
	enclave *memguard.Enclave
}

// Resolve loads the credential named by envVar, falling back to
// /run/secrets/<lowercased envVar>.
func Resolve(envVar string, logger *slog.Logger) (*Key, error) {
	if logger == nil {
		logger = slog.Default()
	}

	value := os.Getenv(envVar)
	if value == "" {
		secretPath := filepath.Join(secretsDir, strings.ToLower(envVar))
		if content, err := os.ReadFile(secretPath); err == nil {
			value = strings.TrimSpace(string(content))
			logger.Info("read API key from secrets file", "path", secretPath)
		}
	}
	if value == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingCredential, envVar)
	}

	checkMlockLimit(logger)

	// NewEnclave wipes the source buffer after sealing.
	return &Key{enclave: memguard.NewEnclave([]byte(value))}, nil
}

// Reveal opens the enclave and returns the key material. The caller
// should not retain the returned string beyond building a request header.
func (k *Key) Reveal() (string, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening credential enclave: %w", err)
	}
	defer buf.Destroy()
	// The buffer's backing memory is wiped on Destroy; hand back a copy.
	return strings.Clone(buf.String()), nil
}

// checkMlockLimit warns when the mlock rlimit is too small for memguard
// to pin its pages. The harness still runs; the key may just be
// swappable on constrained systems.
func checkMlockLimit(logger *slog.Logger) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return
	}
	const minBytes = 64 * 1024
	if limit.Cur != unix.RLIM_INFINITY && limit.Cur < minBytes {
		logger.Warn("mlock limit is low, credential pages may be swappable",
			"cur_bytes", limit.Cur,
			"min_bytes", minBytes,
		)
	}
}
