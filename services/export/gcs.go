// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/semiosis/pkg/validation"
)

// GCSConfig locates the bucket reports are archived to.
type GCSConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`

	// Prefix is prepended to object names, e.g. "runs".
	Prefix string `yaml:"prefix" json:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" json:"-"`
}

// GCSUploader copies reports to Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a storage client for cfg.Bucket.
//
// Inputs:
//   - ctx: Used for client construction.
//   - cfg: Bucket settings. A CredentialsFile that does not exist is an
//     error rather than a silent fallback to default credentials.
//   - opts: Extra client options.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if err := validation.ValidateObjectPrefix(cfg.Prefix); err != nil {
		return nil, err
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName joins the configured prefix and name.
func (u *GCSUploader) ObjectName(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload copies a local file and returns its gs:// URI.
func (u *GCSUploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer f.Close()

	return u.put(ctx, u.ObjectName(name), "application/json", func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
}

// UploadJSON encodes v directly into an object and returns its gs:// URI.
func (u *GCSUploader) UploadJSON(ctx context.Context, name string, v any) (string, error) {
	return u.put(ctx, u.ObjectName(name), "application/json", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func (u *GCSUploader) put(ctx context.Context, object, contentType string, fill func(io.Writer) error) (string, error) {
	// Cancelling before Close abandons the upload instead of committing a
	// partial object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if err := fill(w); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", u.bucket, object)
	slog.Info("Uploaded results", "uri", uri)
	return uri, nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
