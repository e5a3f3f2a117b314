// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/session"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string, status types.UploadStatus) types.PersistedUpload {
	now := time.Now().UnixNano()
	return types.PersistedUpload{
		ID:              id,
		FileName:        "video.mp4",
		FileSize:        12 * 1024 * 1024,
		Key:             "uploads/" + id + "/video.mp4",
		ContentType:     "video/mp4",
		BackendUploadID: "backend-" + id,
		Chunks: []types.Chunk{
			{Index: 1, StartByte: 0, EndByte: 5 * 1024 * 1024, Size: 5 * 1024 * 1024, Uploaded: true, ContentTag: "etag-1"},
			{Index: 2, StartByte: 5 * 1024 * 1024, EndByte: 10 * 1024 * 1024, Size: 5 * 1024 * 1024},
			{Index: 3, StartByte: 10 * 1024 * 1024, EndByte: 12 * 1024 * 1024, Size: 2 * 1024 * 1024},
		},
		Status:     status,
		RetryCount: 2,
		Checksum:   "deadbeef",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestLevelDB_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := session.OpenLevelDB(dir)
	require.NoError(t, err)

	ctx := context.Background()
	records := map[string]types.PersistedUpload{
		"up-1": testRecord("up-1", types.StatusPaused),
		"up-2": testRecord("up-2", types.StatusCompleted),
	}
	require.NoError(t, store.Save(ctx, records))
	require.NoError(t, store.Close())

	// Reopen to prove the records survive the process boundary.
	store, err = session.OpenLevelDB(dir)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, records["up-1"], loaded["up-1"])
	assert.Equal(t, records["up-2"], loaded["up-2"])
}

func TestLevelDB_SaveDropsStaleRecords(t *testing.T) {
	t.Parallel()

	store, err := session.OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"keep":   testRecord("keep", types.StatusPaused),
		"remove": testRecord("remove", types.StatusCancelled),
	}))
	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"keep": testRecord("keep", types.StatusCompleted),
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, types.StatusCompleted, loaded["keep"].Status)
}

func TestLevelDB_EmptyLoad(t *testing.T) {
	t.Parallel()

	store, err := session.OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func setupTestRedis(t *testing.T) *session.Redis {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := session.NewRedisWithClient(client, "zapload:test:sessions")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedis_RoundTrip(t *testing.T) {
	t.Parallel()

	store := setupTestRedis(t)
	ctx := context.Background()

	records := map[string]types.PersistedUpload{
		"up-1": testRecord("up-1", types.StatusUploading),
	}
	require.NoError(t, store.Save(ctx, records))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, records["up-1"], loaded["up-1"])
}

func TestRedis_SaveReplacesPreviousState(t *testing.T) {
	t.Parallel()

	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"a": testRecord("a", types.StatusPaused),
		"b": testRecord("b", types.StatusPaused),
	}))
	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"b": testRecord("b", types.StatusCompleted),
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.NotContains(t, loaded, "a")
	assert.Equal(t, types.StatusCompleted, loaded["b"].Status)
}

func TestRedis_SaveEmptyClearsAll(t *testing.T) {
	t.Parallel()

	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"a": testRecord("a", types.StatusPaused),
	}))
	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMemory_RoundTripAndIsolation(t *testing.T) {
	t.Parallel()

	store := session.NewMemory()
	ctx := context.Background()

	records := map[string]types.PersistedUpload{
		"up-1": testRecord("up-1", types.StatusPaused),
	}
	require.NoError(t, store.Save(ctx, records))

	// Mutating the caller's map must not leak into the store.
	records["up-2"] = testRecord("up-2", types.StatusPending)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "up-1")
}

func TestMemory_FailSave(t *testing.T) {
	t.Parallel()

	store := session.NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, map[string]types.PersistedUpload{
		"up-1": testRecord("up-1", types.StatusPaused),
	}))

	boom := errors.New("disk full")
	store.FailSave = boom
	err := store.Save(ctx, map[string]types.PersistedUpload{})
	require.ErrorIs(t, err, boom)

	// The failed save must not clobber the previous state.
	store.FailSave = nil
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Equal(t, 2, store.SaveCount())
}
