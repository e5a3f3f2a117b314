// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/events"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/types"
	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

// run is one live chunk loop. Pause, cancel, and engine shutdown interrupt it
// through the context; the record's status tells the loop who won.
type run struct {
	id     string
	src    source.Source
	ctx    context.Context
	cancel context.CancelFunc
}

// launch spawns the chunk loop goroutine for id. Reports false when the
// engine is closing.
func (e *Engine) launch(id string, src source.Source) bool {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{id: id, src: src, ctx: runCtx, cancel: cancel}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return false
	}
	if prev := e.runs[id]; prev != nil {
		prev.cancel()
	}
	e.runs[id] = r
	e.wg.Add(1)
	e.mu.Unlock()

	activeRuns.Inc()
	go func() {
		defer e.wg.Done()
		defer activeRuns.Dec()
		defer func() {
			e.mu.Lock()
			if e.runs[id] == r {
				delete(e.runs, id)
			}
			e.mu.Unlock()
			cancel()
		}()
		e.runUpload(r)
	}()
	return true
}

func (e *Engine) runUpload(r *run) {
	if err := e.uploadChunks(r); err != nil {
		if r.ctx.Err() != nil {
			return // interrupted; whoever interrupted owns the status
		}
		if _, ok := e.setStatus(r.id, types.StatusError, func(rec *types.Upload) {
			rec.ErrorMessage = err.Error()
		}, types.StatusUploading); ok {
			e.tracker.Stop(r.id)
			logger.Error().Err(err).Str("upload_id", r.id).Msg("upload failed")
		}
		return
	}

	u, err := e.registry.Get(r.id)
	if err != nil || u.Status != types.StatusUploading || !u.AllUploaded() {
		return // superseded during the final batch
	}
	e.finish(r)
}

// uploadChunks drains the remaining plan in bounded batches. A nil return
// means coverage is complete or the loop was deliberately superseded; the
// caller re-checks the record to tell the two apart.
func (e *Engine) uploadChunks(r *run) error {
	for {
		if r.ctx.Err() != nil {
			return nil
		}
		u, err := e.registry.Get(r.id)
		if err != nil {
			return err
		}
		if u.Status != types.StatusUploading {
			return nil
		}
		remaining := u.RemainingChunks()
		if len(remaining) == 0 {
			return nil
		}
		width := e.cfg.Concurrency
		if width > len(remaining) {
			width = len(remaining)
		}
		if err := e.uploadBatch(r, u, remaining[:width]); err != nil {
			return err
		}
	}
}

func (e *Engine) uploadBatch(r *run, u *types.Upload, indices []int) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(indices))
	for _, idx := range indices {
		chunk := u.Chunks[idx-1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.uploadChunk(r, u, chunk); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// uploadChunk pushes one chunk with retries. Interruption is not an error;
// an exhausted retry budget or a non-retryable failure is fatal for the loop.
func (e *Engine) uploadChunk(r *run, u *types.Upload, chunk types.Chunk) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if r.ctx.Err() != nil || !e.active(r.id) {
			return nil
		}
		err := e.tryChunk(r, u, chunk)
		if err == nil {
			return nil
		}
		if r.ctx.Err() != nil {
			return nil
		}
		lastErr = err
		e.countRetry(r.id)
		logger.Warn().
			Err(err).
			Str("upload_id", r.id).
			Int("chunk", chunk.Index).
			Int("attempt", attempt+1).
			Msg("chunk upload failed")
		if !backend.IsRetryable(err) {
			return fmt.Errorf("chunk %d: %w", chunk.Index, err)
		}
		if attempt+1 < e.cfg.MaxRetries {
			if !sleepCtx(r.ctx, e.backoffDelay(attempt)) {
				return nil
			}
		}
	}
	return fmt.Errorf("chunk %d failed after %d attempts: %w", chunk.Index, e.cfg.MaxRetries, lastErr)
}

func (e *Engine) tryChunk(r *run, u *types.Upload, chunk types.Chunk) error {
	payload, err := r.src.ReadRange(r.ctx, chunk.StartByte, chunk.EndByte)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", chunk.Index, err)
	}
	defer utils.PutBuffer(payload)

	if err := e.throttle(r.ctx, len(payload)); err != nil {
		return err
	}

	tag, err := e.backend.UploadPart(r.ctx, u.Key, u.BackendUploadID, chunk.Index, payload)
	if err != nil {
		return err
	}

	updated, err := e.registry.Update(r.id, func(rec *types.Upload) error {
		rec.Chunks[chunk.Index-1].Uploaded = true
		rec.Chunks[chunk.Index-1].ContentTag = tag
		return nil
	})
	if err != nil {
		return err
	}

	chunksUploaded.Inc()
	bytesUploaded.Add(float64(chunk.Size))
	e.bus.Publish(events.Event{
		Type:            events.EventChunkUploaded,
		UploadID:        r.id,
		ChunkIndex:      chunk.Index,
		UploadedCount:   updated.UploadedCount,
		ProgressPercent: updated.ProgressPercent,
	})
	return nil
}

// throttle paces payload bytes through the bandwidth limiter in quanta small
// enough to stay under the limiter burst.
func (e *Engine) throttle(ctx context.Context, n int) error {
	if e.limiter == nil {
		return nil
	}
	for n > 0 {
		take := n
		if take > limiterQuantum {
			take = limiterQuantum
		}
		if err := e.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// active is the loop predicate: true only while the record still wants bytes.
func (e *Engine) active(id string) bool {
	u, err := e.registry.Get(id)
	return err == nil && u.Status == types.StatusUploading
}

func (e *Engine) countRetry(id string) {
	chunkRetries.Inc()
	_, _ = e.registry.Update(id, func(rec *types.Upload) error {
		rec.RetryCount++
		return nil
	})
}

// backoffDelay is min(base << attempt, cap) with advisory jitter.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	delay := e.cfg.RetryBase << attempt
	if delay <= 0 || delay > e.cfg.RetryCap {
		delay = e.cfg.RetryCap
	}
	return utils.Jitter(delay, retryJitterFraction)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish runs once the loop reports full coverage: completion call first,
// then the validation pipeline.
func (e *Engine) finish(r *run) {
	u, ok := e.setStatus(r.id, types.StatusValidating, nil, types.StatusUploading)
	if !ok {
		return
	}
	e.tracker.Stop(r.id)

	if u.Location == "" {
		location, err := e.completeSession(r.ctx, u)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			e.setStatus(r.id, types.StatusError, func(rec *types.Upload) {
				rec.ErrorMessage = err.Error()
			}, types.StatusValidating)
			return
		}
		if u, err = e.registry.Update(r.id, func(rec *types.Upload) error {
			rec.Location = location
			return nil
		}); err != nil {
			return
		}
	}

	if _, err := e.runValidation(r.ctx, r.id, false); err != nil {
		logger.Warn().Err(err).Str("upload_id", r.id).Msg("validation did not run")
	}
}

// completeSession finalizes the multipart session, retrying transient
// failures on the same budget as chunk uploads.
func (e *Engine) completeSession(ctx context.Context, u *types.Upload) (string, error) {
	parts := make([]backend.CompletedPart, 0, len(u.Chunks))
	for i := range u.Chunks {
		parts = append(parts, backend.CompletedPart{
			PartNumber: u.Chunks[i].Index,
			ContentTag: u.Chunks[i].ContentTag,
		})
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		location, err := e.backend.CompleteMultipartUpload(ctx, u.Key, u.BackendUploadID, parts)
		if err == nil {
			return location, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		e.countRetry(u.ID)
		if !backend.IsRetryable(err) {
			break
		}
		if attempt+1 < e.cfg.MaxRetries {
			if !sleepCtx(ctx, e.backoffDelay(attempt)) {
				break
			}
		}
	}
	return "", fmt.Errorf("complete multipart session: %w", lastErr)
}

// runValidation drives the validator and applies the reaction its verdict
// calls for. wasCompleted marks a manual re-validation, whose pipeline
// failures restore COMPLETED instead of parking the record in ERROR.
func (e *Engine) runValidation(ctx context.Context, id string, wasCompleted bool) (*types.ValidationResult, error) {
	u, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}

	result, err := e.validator.Validate(ctx, u)
	if err != nil {
		if wasCompleted {
			e.setStatus(id, types.StatusCompleted, nil, types.StatusValidating)
		} else {
			e.setStatus(id, types.StatusError, func(rec *types.Upload) {
				rec.ErrorMessage = err.Error()
			}, types.StatusValidating)
		}
		return nil, err
	}

	if result.IsValid {
		updated, ok := e.setStatus(id, types.StatusCompleted, func(rec *types.Upload) {
			rec.ValidationResult = result
			rec.ErrorMessage = ""
		}, types.StatusValidating)
		if !ok {
			return result, nil
		}
		e.bus.Publish(events.Event{Type: events.EventValidationFinished, UploadID: id, IsValid: true})
		e.issueDownloadRef(ctx, id, updated.Key)
		logger.Info().Str("upload_id", id).Msg("upload completed")
		return result, nil
	}

	if len(result.CorruptedChunks) > 0 {
		// Attributable corruption: drop the affected acknowledgments and come
		// back through RESUMING after a short delay.
		_, ok := e.setStatus(id, types.StatusError, func(rec *types.Upload) {
			for _, idx := range result.CorruptedChunks {
				if idx >= 1 && idx <= len(rec.Chunks) {
					rec.Chunks[idx-1].Uploaded = false
					rec.Chunks[idx-1].ContentTag = ""
				}
			}
			rec.ValidationResult = result
			rec.ErrorMessage = result.Error
		}, types.StatusValidating)
		e.bus.Publish(events.Event{
			Type:     events.EventValidationFinished,
			UploadID: id,
			IsValid:  false,
			Message:  result.Error,
		})
		if ok {
			e.scheduleAutoResume(id)
		}
		return result, nil
	}

	// Nothing to attribute: the object cannot be repaired part by part.
	var backendID, key string
	_, ok := e.setStatus(id, types.StatusError, func(rec *types.Upload) {
		rec.ValidationResult = result
		rec.ErrorMessage = result.Error
		backendID = rec.BackendUploadID
		key = rec.Key
		rec.BackendUploadID = ""
	}, types.StatusValidating)
	e.bus.Publish(events.Event{
		Type:     events.EventValidationFinished,
		UploadID: id,
		IsValid:  false,
		Message:  result.Error,
	})
	if ok && backendID != "" {
		e.abortSession(key, backendID)
	}
	return result, nil
}

func (e *Engine) issueDownloadRef(ctx context.Context, id, key string) {
	url, err := e.backend.GenerateDownloadReference(ctx, key, e.cfg.DownloadRefTTL)
	if err != nil {
		logger.Debug().Err(err).Str("upload_id", id).Msg("download reference unavailable")
		return
	}
	_, _ = e.registry.Update(id, func(rec *types.Upload) error {
		rec.DownloadURL = url
		return nil
	})
}

// abortSession discards a backend session best-effort. Callers keep the
// at-most-once rule by clearing BackendUploadID in the mutation that decided
// to abort.
func (e *Engine) abortSession(key, backendID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	abortsTotal.Inc()
	if err := e.backend.AbortMultipartUpload(ctx, key, backendID); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("backend abort failed")
	}
}

// reconcile aligns local acknowledgment flags with the backend's part list
// before the loop re-enters. The backend is authoritative in both directions:
// a local flag it does not back is cleared, a part the record missed is
// adopted along with its tag. A vanished session restarts from scratch.
func (e *Engine) reconcile(ctx context.Context, id string) error {
	u, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if u.BackendUploadID == "" {
		return e.freshSession(ctx, id, u)
	}

	parts, err := e.backend.ListUploadedParts(ctx, u.Key, u.BackendUploadID)
	if err != nil {
		if backend.IsNoSuchUpload(err) {
			return e.freshSession(ctx, id, u)
		}
		return fmt.Errorf("list uploaded parts: %w", err)
	}

	acked := make(map[int]string, len(parts))
	for _, p := range parts {
		acked[p.PartNumber] = p.ContentTag
	}
	_, err = e.registry.Update(id, func(rec *types.Upload) error {
		for i := range rec.Chunks {
			tag, ok := acked[rec.Chunks[i].Index]
			if !ok {
				rec.Chunks[i].Uploaded = false
				rec.Chunks[i].ContentTag = ""
				continue
			}
			rec.Chunks[i].Uploaded = true
			rec.Chunks[i].ContentTag = tag
		}
		return nil
	})
	return err
}

func (e *Engine) freshSession(ctx context.Context, id string, u *types.Upload) error {
	backendID, err := e.backend.InitiateMultipartUpload(ctx, u.Key, u.ContentType, nil)
	if err != nil {
		return fmt.Errorf("initiate multipart session: %w", err)
	}
	_, err = e.registry.Update(id, func(rec *types.Upload) error {
		rec.BackendUploadID = backendID
		rec.Location = ""
		rec.DownloadURL = ""
		for i := range rec.Chunks {
			rec.Chunks[i].Uploaded = false
			rec.Chunks[i].ContentTag = ""
		}
		return nil
	})
	return err
}
