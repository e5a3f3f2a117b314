// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/LeeDigitalWorks/zapload/pkg/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFile_ReadRange(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	path := writeTempFile(t, "payload.bin", data)

	src, err := source.Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "payload.bin", src.Name())
	assert.Equal(t, int64(len(data)), src.Size())

	got, err := src.ReadRange(context.Background(), 4, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)

	tail, err := src.ReadRange(context.Background(), 10, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), tail)

	whole, err := src.ReadRange(context.Background(), 0, 16)
	require.NoError(t, err)
	assert.Equal(t, data, whole)
}

func TestFile_ReadRange_InvalidRanges(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "payload.bin", []byte("0123456789"))
	src, err := source.Open(path)
	require.NoError(t, err)
	defer src.Close()

	for _, r := range [][2]int64{{-1, 5}, {0, 11}, {5, 5}, {7, 3}} {
		_, err := src.ReadRange(context.Background(), r[0], r[1])
		assert.ErrorIs(t, err, source.ErrInvalidRange)
	}
}

func TestFile_ReadRange_CancelledContext(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "payload.bin", []byte("0123456789"))
	src, err := source.Open(path)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ReadRange(ctx, 0, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_RejectsDirectory(t *testing.T) {
	t.Parallel()

	_, err := source.Open(t.TempDir())
	assert.Error(t, err)
}

func TestMemory_ReadRangeCopies(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	src := source.Bytes("greeting.txt", data)

	got, err := src.ReadRange(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got[0] = 'X'
	again, err := src.ReadRange(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), again, "callers must not be able to mutate the source")
}

func TestMatches(t *testing.T) {
	t.Parallel()

	src := source.Bytes("video.mp4", make([]byte, 64))
	assert.True(t, source.Matches(src, "video.mp4", 64))
	assert.False(t, source.Matches(src, "video.mp4", 65))
	assert.False(t, source.Matches(src, "other.mp4", 64))
}
