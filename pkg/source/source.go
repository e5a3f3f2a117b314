// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package source abstracts where upload bytes come from. The engine only ever
// asks for exact byte ranges, so a source is little more than a sized ReaderAt
// that can be re-attached to a stored record after a restart.
package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidRange = errors.New("invalid byte range")
	ErrShortRead    = errors.New("short read")
)

// Source provides exact byte-range reads over the file being uploaded.
type Source interface {
	// Name returns the file name used to re-attach the source to a record.
	Name() string
	// Size returns the total size in bytes.
	Size() int64
	// ReadRange returns exactly the bytes in [start, end). A short read is an
	// error, never a truncated result. The slice is owned by the caller and
	// may be released with utils.PutBuffer once consumed.
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
	Close() error
}

// Matches reports whether src can serve a stored record. Re-attachment after
// a restart keys on file name plus size.
func Matches(src Source, fileName string, fileSize int64) bool {
	return src.Name() == fileName && src.Size() == fileSize
}

func checkRange(start, end, size int64) error {
	if start < 0 || end > size || start >= end {
		return fmt.Errorf("range [%d, %d) of %d bytes: %w", start, end, size, ErrInvalidRange)
	}
	return nil
}
