// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package integrity_test

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/checksum"
	"github.com/LeeDigitalWorks/zapload/pkg/integrity"
	"github.com/LeeDigitalWorks/zapload/pkg/planner"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "validate/payload.bin"

type fixture struct {
	store  *backend.Memory
	upload *types.Upload
	digest string
}

// storedObject assembles a real multipart object in the memory backend and
// the matching upload record, digest included.
func storedObject(t *testing.T, size int) *fixture {
	t.Helper()
	ctx := context.Background()

	data := make([]byte, size)
	_, err := rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, err)

	chunks, err := planner.Plan(int64(size))
	require.NoError(t, err)

	store := backend.NewMemory()
	uploadID, err := store.InitiateMultipartUpload(ctx, testKey, "application/octet-stream", nil)
	require.NoError(t, err)

	completed := make([]backend.CompletedPart, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		tag, err := store.UploadPart(ctx, testKey, uploadID, c.Index, data[c.StartByte:c.EndByte])
		require.NoError(t, err)
		c.Uploaded = true
		c.ContentTag = tag
		completed = append(completed, backend.CompletedPart{PartNumber: c.Index, ContentTag: tag})
	}
	location, err := store.CompleteMultipartUpload(ctx, testKey, uploadID, completed)
	require.NoError(t, err)

	digest, err := checksum.New(checksum.Config{}).StreamDigest(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	u := &types.Upload{
		ID:       "up-validate",
		FileName: "payload.bin",
		FileSize: int64(size),
		Key:      testKey,
		Location: location,
		Status:   types.StatusValidating,
		Checksum: digest,
		Chunks:   chunks,
	}
	u.RecomputeDerived()
	return &fixture{store: store, upload: u, digest: digest}
}

func newValidator(f *fixture) *integrity.Validator {
	return integrity.New(f.store, checksum.New(checksum.Config{}))
}

func TestValidate_CleanObject(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.Equal(t, f.digest, result.ExpectedChecksum)
	assert.Equal(t, f.digest, result.ActualChecksum, "small objects get the digest re-check")
	assert.Empty(t, result.CorruptedChunks)
	assert.Empty(t, result.Error)
}

func TestValidate_SizeMismatchShortCircuits(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.store.SizeOverride = map[string]int64{testKey: f.upload.FileSize - 1}
	// A missing tag further down must not surface; size decides first.
	f.upload.Chunks[1].ContentTag = ""

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "size mismatch")
	assert.Contains(t, result.Error, "12582912")
	assert.Contains(t, result.Error, "12582911")
	assert.Empty(t, result.CorruptedChunks)
}

func TestValidate_UnacknowledgedChunks(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.upload.Chunks[1].ContentTag = ""
	f.upload.Chunks[2].ContentTag = ""

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Equal(t, []int{2, 3}, result.CorruptedChunks)
	assert.Contains(t, result.Error, "acknowledgment")
}

func TestValidate_DigestMismatch(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.upload.Checksum = strings.Repeat("0", 64)

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Equal(t, strings.Repeat("0", 64), result.ExpectedChecksum)
	assert.Equal(t, f.digest, result.ActualChecksum)
	assert.Contains(t, result.Error, "digest")
}

func TestValidate_DownloadFailureDoesNotInvalidate(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.store.GetObjectFailures = 1

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.True(t, result.IsValid, "an unreadable object is not a corrupt object")
	assert.Empty(t, result.ActualChecksum, "no digest was recomputed")
}

func TestValidate_DeferredDigestSkipsRecheck(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.upload.Checksum = types.ChecksumDeferred
	f.store.GetObjectFailures = 1

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.Equal(t, 1, f.store.GetObjectFailures, "object must not be downloaded while the digest is deferred")
}

func TestValidate_LargeObjectSkipsRecheck(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.upload.FileSize = integrity.DigestRecheckLimit
	f.store.SizeOverride = map[string]int64{testKey: integrity.DigestRecheckLimit}
	f.upload.Checksum = strings.Repeat("0", 64)

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.True(t, result.IsValid, "objects at the limit rely on size and acknowledgments alone")
}

func TestValidate_PartCountMismatch(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.store.PartCountOverride = map[string]int{testKey: f.upload.TotalCount + 1}

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "part count")
}

func TestValidate_UnreportedPartCountSkipsCheck(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	f.store.PartCountOverride = map[string]int{testKey: 0}

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestValidate_MetadataErrorIsNotAVerdict(t *testing.T) {
	t.Parallel()

	f := storedObject(t, 12*1024*1024)
	require.NoError(t, f.store.Close()) // drops the stored object

	result, err := newValidator(f).Validate(context.Background(), f.upload)
	require.Error(t, err)
	assert.Nil(t, result, "a pipeline failure renders no verdict")
	assert.Contains(t, err.Error(), "object metadata")
}
