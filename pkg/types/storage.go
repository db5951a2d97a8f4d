// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"io"
	"strings"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
)

// StorageType identifies the backend storage implementation
type StorageType string

const (
	StorageTypeMemory StorageType = "memory" // In-process, tests and local runs
	StorageTypeLocal  StorageType = "local"  // Local filesystem
	StorageTypeS3     StorageType = "s3"     // S3-compatible
)

// BackendStorage holds node bytes keyed by StorageKey.
type BackendStorage interface {
	// Type returns the storage type
	Type() StorageType

	// Write stores data under key, replacing any previous bytes.
	// size may be -1 when unknown. Returns the number of bytes stored.
	Write(ctx context.Context, key string, data io.Reader, size int64) (int64, error)

	// Read opens the bytes stored under key.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data from the backend; missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the size of the stored data
	Size(ctx context.Context, key string) (int64, error)

	// Close releases any resources
	Close() error
}

// BackendConfig contains configuration for creating a backend storage instance
type BackendConfig struct {
	Type      StorageType       `mapstructure:"type" json:"type"`
	Endpoint  string            `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Bucket    string            `mapstructure:"bucket" json:"bucket,omitempty"`
	Path      string            `mapstructure:"path" json:"path,omitempty"`
	Region    string            `mapstructure:"region" json:"region,omitempty"`
	AccessKey string            `mapstructure:"access_key" json:"access_key,omitempty"`
	SecretKey string            `mapstructure:"secret_key" json:"secret_key,omitempty"`
	Options   map[string]string `mapstructure:"options" json:"options,omitempty"`
}

// StorageKey is the backend key for the bytes of a data node:
// "{owner}/{container}/{relative path}".
func StorageKey(owner string, p node.Path) string {
	var b strings.Builder
	b.WriteString(owner)
	b.WriteByte('/')
	b.WriteString(p.Container())
	if rel := p.RelativePath(); rel != "" {
		b.WriteByte('/')
		b.WriteString(rel)
	}
	return b.String()
}
