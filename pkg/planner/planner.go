// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner turns a file size into a deterministic partition of byte
// ranges. Re-planning after a restart must reproduce the identical partition,
// so the plan is a pure function of the size.
package planner

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

const (
	// MinFileSize is the smallest file accepted for multipart transfer.
	MinFileSize = 5 * 1024 * 1024
	// MaxFileSize bounds plans to the backend's addressable object size.
	MaxFileSize = 200 * 1024 * 1024 * 1024
	// MinPartSize is the backend's minimum part size; every chunk except the
	// final one must meet it.
	MinPartSize = 5 * 1024 * 1024
	// MaxPartCount is the backend's hard limit on part numbers.
	MaxPartCount = 10000
)

var (
	ErrNonPositiveSize = errors.New("file size must be positive")
	ErrFileTooLarge    = errors.New("file size exceeds maximum")
)

// Size tiers. Picking the chunk size from the total size keeps part counts
// small for huge files while letting small files finish in few round trips.
var tiers = []struct {
	limit     int64
	chunkSize int64
}{
	{50 * 1024 * 1024, 5 * 1024 * 1024},          // <= 50MB: 5MB chunks
	{500 * 1024 * 1024, 10 * 1024 * 1024},        // <= 500MB: 10MB chunks
	{5 * 1024 * 1024 * 1024, 25 * 1024 * 1024},   // <= 5GB: 25MB chunks
	{50 * 1024 * 1024 * 1024, 50 * 1024 * 1024},  // <= 50GB: 50MB chunks
}

// chunkSizeMax applies beyond the last tier.
const chunkSizeMax = 100 * 1024 * 1024

// ChunkSizeFor returns the chunk size tier for a file of the given size.
func ChunkSizeFor(fileSize int64) int64 {
	for _, t := range tiers {
		if fileSize <= t.limit {
			return t.chunkSize
		}
	}
	return chunkSizeMax
}

// Plan partitions [0, fileSize) into contiguous, non-overlapping chunks with
// 1-based indices. All chunks share the tier size except the final one, which
// holds the remainder and may be smaller.
func Plan(fileSize int64) ([]types.Chunk, error) {
	if fileSize <= 0 {
		return nil, fmt.Errorf("plan %d bytes: %w", fileSize, ErrNonPositiveSize)
	}
	if fileSize > MaxFileSize {
		return nil, fmt.Errorf("plan %d bytes: %w", fileSize, ErrFileTooLarge)
	}

	chunkSize := ChunkSizeFor(fileSize)
	count := (fileSize + chunkSize - 1) / chunkSize
	if count > MaxPartCount {
		return nil, fmt.Errorf("plan %d bytes: %d parts exceed backend limit %d", fileSize, count, MaxPartCount)
	}

	chunks := make([]types.Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		chunks = append(chunks, types.Chunk{
			Index:     int(i) + 1,
			StartByte: start,
			EndByte:   end,
			Size:      end - start,
		})
	}
	return chunks, nil
}
