// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the multipart-upload contract consumed by the
// engine, with an S3-compatible implementation and an in-memory fake.
package backend

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Type identifies the backend implementation.
type Type string

const (
	TypeS3     Type = "s3"
	TypeMemory Type = "memory" // testing only
)

// Config selects and configures a backend.
type Config struct {
	Type      Type   `json:"type" mapstructure:"type"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Region    string `json:"region,omitempty" mapstructure:"region"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"-" mapstructure:"secret_key"`
}

// CompletedPart pairs a part number with the acknowledgment tag the backend
// returned for it; the completion call requires both.
type CompletedPart struct {
	PartNumber int
	ContentTag string
}

// PartInfo describes one part the backend has acknowledged for an open
// multipart session.
type PartInfo struct {
	PartNumber int
	ContentTag string
	Size       int64
}

// ObjectInfo is the metadata the validator needs about a completed object.
type ObjectInfo struct {
	Size      int64
	PartCount int
}

// Backend is the remote multipart-upload API. Part numbers are 1-based and
// uploads of the same part number overwrite safely.
type Backend interface {
	InitiateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body []byte) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	ListUploadedParts(ctx context.Context, key, uploadID string) ([]PartInfo, error)
	GetObjectInfo(ctx context.Context, key string) (*ObjectInfo, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	GenerateDownloadReference(ctx context.Context, key string, ttl time.Duration) (string, error)
	Close() error
}

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[Type]Factory)
)

// Factory creates a Backend from config
type Factory func(cfg Config) (Backend, error)

// Register adds a factory for a backend type
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Backend from config
func New(cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
	return f(cfg)
}
