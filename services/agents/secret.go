// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
)

// secretsDir is where container runtimes mount secrets.
var secretsDir = "/run/secrets"

// Secret holds a credential in an encrypted memguard enclave. The plaintext
// exists in locked memory only while Reveal runs.
//
// Thread Safety: Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. An empty value yields nil.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes the slice it is given.
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// Reveal returns a copy of the plaintext.
func (s *Secret) Reveal() (string, error) {
	if s == nil || s.enclave == nil {
		return "", ErrMissingAPIKey
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}

// resolveAPIKey looks for a key in args["api_key"], then envVar, then
// secretsDir/secretFile.
func resolveAPIKey(args Args, envVar, secretFile string) (*Secret, error) {
	if v := args.String("api_key", ""); v != "" {
		return NewSecret(v), nil
	}
	if v := os.Getenv(envVar); v != "" {
		return NewSecret(v), nil
	}
	if content, err := os.ReadFile(filepath.Join(secretsDir, secretFile)); err == nil {
		if v := strings.TrimSpace(string(content)); v != "" {
			slog.Info("Read API key from secrets mount", "file", secretFile)
			return NewSecret(v), nil
		}
	}
	return nil, fmt.Errorf("%w: set %s or pass api_key", ErrMissingAPIKey, envVar)
}

// bearerDoer injects an Authorization header from a Secret on every
// request, so the key is never stored in client configuration.
type bearerDoer struct {
	secret *Secret
	client *http.Client
}

func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	key, err := d.secret.Reveal()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	return d.client.Do(req)
}
