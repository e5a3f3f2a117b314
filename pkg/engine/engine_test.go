// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/engine"
	"github.com/LeeDigitalWorks/zapload/pkg/events"
	"github.com/LeeDigitalWorks/zapload/pkg/planner"
	"github.com/LeeDigitalWorks/zapload/pkg/registry"
	"github.com/LeeDigitalWorks/zapload/pkg/session"
	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const mib = 1024 * 1024

func payload(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(11)).Read(data)
	require.NoError(t, err)
	return data
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fastConfig keeps retry and progress timing test-sized.
func fastConfig(b *backend.Memory) engine.Config {
	return engine.Config{
		BackendClient:    b,
		Store:            session.NewMemory(),
		RetryBase:        10 * time.Millisecond,
		RetryCap:         50 * time.Millisecond,
		ProgressInterval: 20 * time.Millisecond,
		AutoResumeDelay:  100 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// waitForStatus consumes the feed until a transition into `to` arrives.
func waitForStatus(t *testing.T, sub <-chan events.Event, to types.UploadStatus) events.Event {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				t.Fatalf("event feed closed while waiting for %s", to)
			}
			if ev.Type == events.EventStatusChanged && ev.To == to {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", to)
		}
	}
}

func waitForEvent(t *testing.T, sub <-chan events.Event, typ events.EventType) events.Event {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				t.Fatalf("event feed closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", typ)
		}
	}
}

func TestStart_CompletesEndToEnd(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("video.bin", data), engine.StartOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusCompleted)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, u.Status)
	assert.Equal(t, 3, u.TotalCount, "12MB sits in the 5MB tier")
	assert.Equal(t, 3, u.UploadedCount)
	assert.InDelta(t, 100.0, u.ProgressPercent, 0.001)
	assert.Equal(t, 0, u.RetryCount)
	assert.Equal(t, digestOf(data), u.Checksum)
	assert.NotEmpty(t, u.Location)
	assert.NotEmpty(t, u.DownloadURL)
	require.NotNil(t, u.ValidationResult)
	assert.True(t, u.ValidationResult.IsValid)

	stored, ok := b.Object(u.Key)
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, 0, b.SessionCount(), "completion consumes the session")
}

func TestStart_TransientChunkFailuresRetry(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	b.PartFailures = map[int]int{2: 2}
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("flaky.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusCompleted)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, u.Status)
	assert.Equal(t, 2, u.RetryCount, "two failed attempts before the third landed")
	assert.Equal(t, 3, b.PartAttempts(2))
}

func TestStart_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	b.PartFailures = map[int]int{3: 100}
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("doomed.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusError)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, u.Status)
	assert.Equal(t, 3, u.RetryCount)
	assert.Equal(t, 3, b.PartAttempts(3), "budget is three attempts")
	assert.Contains(t, u.ErrorMessage, "chunk 3")
}

func TestStart_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	b.PartFailures = map[int]int{1: 100}
	b.PartFailureErr = &backend.Error{Op: "upload_part", Code: "AccessDenied", Message: "injected", Retryable: false}
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("denied.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusError)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, 1, b.PartAttempts(1), "no retry after a permanent error")
	assert.Equal(t, 1, u.RetryCount)
	assert.Contains(t, u.ErrorMessage, "AccessDenied")
}

func TestStart_RejectsFilesBelowMinimum(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, fastConfig(backend.NewMemory()))

	_, err := eng.Start(context.Background(), source.Bytes("tiny.bin", make([]byte, 1024)), engine.StartOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below")
	assert.Empty(t, eng.List(), "rejected uploads leave no record")
}

func TestStart_DeferredDigestResolvesInBackground(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.DeferDigestOver = 6 * mib
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("huge.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusCompleted)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.True(t, u.ValidationResult.IsValid, "a deferred digest never blocks completion")

	assert.Eventually(t, func() bool {
		u, err := eng.Snapshot(id)
		return err == nil && u.Checksum == digestOf(data)
	}, 10*time.Second, 50*time.Millisecond, "background task resolves the sentinel")
}

func TestPauseResume_SkipsAcknowledgedChunks(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.Concurrency = 1
	cfg.BandwidthLimit = 8 * mib
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("paused.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	first := waitForEvent(t, sub, events.EventChunkUploaded)
	assert.Equal(t, 1, first.ChunkIndex, "width one uploads in plan order")
	require.NoError(t, eng.Pause(id))
	waitForStatus(t, sub, types.StatusPaused)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.True(t, u.Chunks[0].Uploaded)
	assert.NotEmpty(t, u.Chunks[0].ContentTag)

	listsBefore := b.ListCalls()
	require.NoError(t, eng.Resume(context.Background(), id))
	waitForStatus(t, sub, types.StatusCompleted)

	assert.Equal(t, 1, b.PartAttempts(1), "acknowledged chunk is never re-sent")
	assert.Greater(t, b.ListCalls(), listsBefore, "resume consults the backend part list")

	u, err = eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, 3, u.UploadedCount, "interrupted total equals uninterrupted total")

	stored, ok := b.Object(u.Key)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestPause_IsIdempotent(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	eng := newTestEngine(t, fastConfig(backend.NewMemory()))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("done.bin", data), engine.StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, sub, types.StatusCompleted)

	require.NoError(t, eng.Pause(id), "pausing a finished upload is a no-op")
	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, u.Status)

	assert.ErrorIs(t, eng.Pause("no-such-id"), registry.ErrNotFound)
}

// seedRecord persists an upload record so a fresh engine restores it, the
// restart scenario.
func seedRecord(t *testing.T, store session.Store, u *types.Upload) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), map[string]types.PersistedUpload{
		u.ID: u.ToPersisted(),
	}))
}

func TestResume_AdoptsBackendParts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	data := payload(t, 12*mib)
	chunks, err := planner.Plan(int64(len(data)))
	require.NoError(t, err)

	// The backend already holds part 1 from a previous life.
	b := backend.NewMemory()
	key := "uploads/restart/payload.bin"
	uploadID, err := b.InitiateMultipartUpload(ctx, key, "application/octet-stream", nil)
	require.NoError(t, err)
	_, err = b.UploadPart(ctx, key, uploadID, 1, data[chunks[0].StartByte:chunks[0].EndByte])
	require.NoError(t, err)

	// The local record never saw the acknowledgment.
	store := session.NewMemory()
	seedRecord(t, store, &types.Upload{
		ID:              "up-restart",
		FileName:        "payload.bin",
		FileSize:        int64(len(data)),
		Key:             key,
		ContentType:     "application/octet-stream",
		BackendUploadID: uploadID,
		Chunks:          chunks,
		Status:          types.StatusPaused,
		Checksum:        digestOf(data),
	})

	cfg := fastConfig(b)
	cfg.Store = store
	eng := newTestEngine(t, cfg)

	restored := eng.List()
	require.Len(t, restored, 1)
	assert.Equal(t, types.StatusPaused, restored[0].Status)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	require.NoError(t, eng.ResumeWithSource(ctx, "up-restart", source.Bytes("payload.bin", data)))
	waitForStatus(t, sub, types.StatusCompleted)

	assert.Equal(t, 1, b.PartAttempts(1), "backend-known part adopted, not re-sent")
	assert.Equal(t, 1, b.PartAttempts(2))
	assert.Equal(t, 1, b.PartAttempts(3))

	u, err := eng.Snapshot("up-restart")
	require.NoError(t, err)
	stored, ok := b.Object(u.Key)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestResume_ClearsFlagsWhenSessionVanished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	data := payload(t, 12*mib)
	chunks, err := planner.Plan(int64(len(data)))
	require.NoError(t, err)
	// Local flags claim two parts the backend has no session for.
	chunks[0].Uploaded = true
	chunks[0].ContentTag = "stale-tag-1"
	chunks[1].Uploaded = true
	chunks[1].ContentTag = "stale-tag-2"

	b := backend.NewMemory()
	store := session.NewMemory()
	seedRecord(t, store, &types.Upload{
		ID:              "up-ghost",
		FileName:        "payload.bin",
		FileSize:        int64(len(data)),
		Key:             "uploads/ghost/payload.bin",
		ContentType:     "application/octet-stream",
		BackendUploadID: "ghost-session",
		Chunks:          chunks,
		Status:          types.StatusError,
		ErrorMessage:    "link dropped",
		Checksum:        digestOf(data),
	})

	cfg := fastConfig(b)
	cfg.Store = store
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	require.NoError(t, eng.ResumeWithSource(ctx, "up-ghost", source.Bytes("payload.bin", data)))
	waitForStatus(t, sub, types.StatusCompleted)

	// Local flags counted for nothing; every part went over the wire.
	assert.Equal(t, 1, b.PartAttempts(1))
	assert.Equal(t, 1, b.PartAttempts(2))
	assert.Equal(t, 1, b.PartAttempts(3))

	u, err := eng.Snapshot("up-ghost")
	require.NoError(t, err)
	assert.True(t, u.ValidationResult.IsValid)
	assert.Empty(t, u.ErrorMessage)
}

func TestResume_SourceChecks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	data := payload(t, 12*mib)
	chunks, err := planner.Plan(int64(len(data)))
	require.NoError(t, err)

	store := session.NewMemory()
	seedRecord(t, store, &types.Upload{
		ID:       "up-detached",
		FileName: "payload.bin",
		FileSize: int64(len(data)),
		Key:      "uploads/detached/payload.bin",
		Chunks:   chunks,
		Status:   types.StatusPaused,
	})

	cfg := fastConfig(backend.NewMemory())
	cfg.Store = store
	eng := newTestEngine(t, cfg)

	err = eng.Resume(ctx, "up-detached")
	assert.ErrorIs(t, err, engine.ErrSourceRequired, "a restart drops the live handle")

	err = eng.ResumeWithSource(ctx, "up-detached", source.Bytes("other.bin", data))
	assert.ErrorIs(t, err, engine.ErrSourceMismatch)

	err = eng.ResumeWithSource(ctx, "up-detached", source.Bytes("payload.bin", data[:6*mib]))
	assert.ErrorIs(t, err, engine.ErrSourceMismatch)
}

func TestCancel_AbortsAtMostOnce(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.BandwidthLimit = 2 * mib // keep the transfer alive long enough to cancel
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("doomed.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, eng.Cancel(id))
	waitForStatus(t, sub, types.StatusCancelled)

	assert.Equal(t, 1, b.AbortCalls())
	assert.Equal(t, 0, b.SessionCount())

	require.NoError(t, eng.Cancel(id), "cancelling twice is a no-op")
	assert.Equal(t, 1, b.AbortCalls(), "abort fires at most once per upload")

	require.NoError(t, eng.Remove(id))
	_, err = eng.Snapshot(id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCancel_CompletedUploadIsAnError(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	eng := newTestEngine(t, fastConfig(backend.NewMemory()))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("done.bin", data), engine.StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, sub, types.StatusCompleted)

	assert.ErrorIs(t, eng.Cancel(id), engine.ErrTerminal)
}

func TestValidation_SizeMismatchMovesToError(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	// A fixed key lets the fault be armed before the upload starts.
	b.SizeOverride = map[string]int64{"uploads/fixed/short.bin": int64(len(data)) - 7}
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("short.bin", data), engine.StartOptions{
		Key: "uploads/fixed/short.bin",
	})
	require.NoError(t, err)

	waitForStatus(t, sub, types.StatusError)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	require.NotNil(t, u.ValidationResult)
	assert.False(t, u.ValidationResult.IsValid)
	assert.Contains(t, u.ValidationResult.Error, "size mismatch")
	assert.Contains(t, u.ErrorMessage, "size mismatch")
	assert.Equal(t, 1, b.AbortCalls(), "unattributable corruption aborts the session")
}

func TestValidation_CorruptedChunkRecovery(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	b.EmptyTagParts = map[int]bool{2: true}
	cfg := fastConfig(b)
	cfg.AutoResumeDelay = 300 * time.Millisecond
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("hole.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	verdict := waitForEvent(t, sub, events.EventValidationFinished)
	assert.False(t, verdict.IsValid)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, u.Status)
	assert.False(t, u.Chunks[1].Uploaded, "corrupted chunk flag cleared")
	assert.Empty(t, u.Chunks[1].ContentTag)
	assert.Equal(t, 2, u.UploadedCount, "derived count follows the cleared flag")
	require.NotNil(t, u.ValidationResult)
	assert.Equal(t, []int{2}, u.ValidationResult.CorruptedChunks)

	// The scheduled task pulls the record back through RESUMING on its own.
	resuming := waitForStatus(t, sub, types.StatusResuming)
	assert.Equal(t, id, resuming.UploadID)

	require.NoError(t, eng.Cancel(id), "stop the recovery loop before teardown")
}

func TestValidateManual_CleanRunKeepsCompleted(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("ok.bin", data), engine.StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, sub, types.StatusCompleted)

	result, err := eng.Validate(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, result.IsValid)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, u.Status)
}

func TestValidateManual_InvalidVerdictMovesToError(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("later-bad.bin", data), engine.StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, sub, types.StatusCompleted)

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	b.SizeOverride = map[string]int64{u.Key: 1}

	result, err := eng.Validate(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, result.IsValid)

	u, err = eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, u.Status)
}

func TestValidateManual_PipelineErrorRestoresCompleted(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	eng := newTestEngine(t, fastConfig(b))

	sub, cancel := eng.Subscribe(512)
	defer cancel()

	id, err := eng.Start(context.Background(), source.Bytes("ok.bin", data), engine.StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, sub, types.StatusCompleted)

	require.NoError(t, b.Close()) // the stored object vanishes with the maps

	_, err = eng.Validate(context.Background(), id)
	require.Error(t, err, "the pipeline could not even fetch metadata")

	u, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, u.Status, "a failed re-check never demotes a completed upload")
}

func TestValidateManual_RequiresCompleted(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.BandwidthLimit = 2 * mib
	eng := newTestEngine(t, cfg)

	id, err := eng.Start(context.Background(), source.Bytes("busy.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	_, err = eng.Validate(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only completed uploads")

	require.NoError(t, eng.Cancel(id))
}

func TestRemove_RequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.BandwidthLimit = 2 * mib
	eng := newTestEngine(t, cfg)

	id, err := eng.Start(context.Background(), source.Bytes("live.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, eng.Remove(id), registry.ErrNotTerminal)
	require.NoError(t, eng.Cancel(id))
	require.NoError(t, eng.Remove(id))
}

func TestProgress_PercentIsMonotoneWhileUploading(t *testing.T) {
	t.Parallel()

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.BandwidthLimit = 8 * mib
	eng := newTestEngine(t, cfg)

	sub, cancel := eng.Subscribe(1024)
	defer cancel()

	_, err := eng.Start(context.Background(), source.Bytes("steady.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	var percents []float64
	sawSpeed := false
	deadline := time.After(15 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-sub:
			require.True(t, ok)
			switch ev.Type {
			case events.EventProgress:
				percents = append(percents, ev.ProgressPercent)
				if ev.SpeedBPS > 0 {
					sawSpeed = true
				}
			case events.EventStatusChanged:
				if ev.To == types.StatusCompleted {
					done = true
				}
			}
		case <-deadline:
			t.Fatal("upload never completed")
		}
	}

	require.NotEmpty(t, percents, "a second-long transfer produces samples")
	assert.True(t, sawSpeed)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress never regresses during a clean upload")
	}
}

func TestClose_StopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	data := payload(t, 12*mib)
	b := backend.NewMemory()
	cfg := fastConfig(b)
	cfg.BandwidthLimit = mib // slow enough that Close lands mid-transfer

	eng, err := engine.New(cfg)
	require.NoError(t, err)

	sub, cancel := eng.Subscribe(64)
	defer cancel()

	_, err = eng.Start(context.Background(), source.Bytes("cut.bin", data), engine.StartOptions{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "closing twice is fine")

	_, err = eng.Start(context.Background(), source.Bytes("late.bin", data), engine.StartOptions{})
	assert.ErrorIs(t, err, engine.ErrClosed)

	_, open := <-sub
	for open {
		_, open = <-sub
	}
}
