// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/planner"
	"github.com/LeeDigitalWorks/zapload/pkg/registry"
	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/google/uuid"
)

// StartOptions shape a new upload. All fields are optional.
type StartOptions struct {
	// Key is the object key; empty derives one from the upload id and the
	// source file name.
	Key string
	// ContentType recorded with the object; empty uses a generic default.
	ContentType string
	// Metadata is forwarded verbatim to the backend initiate call.
	Metadata map[string]string
}

// Start plans, registers, and begins a new upload. The engine takes ownership
// of src and keeps it attached for resumes until the record is removed. ctx
// only governs the synchronous preparation (digest, session initiation); the
// upload itself runs until terminal, paused, or the engine closes.
func (e *Engine) Start(ctx context.Context, src source.Source, opts StartOptions) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}

	size := src.Size()
	if size < planner.MinFileSize {
		return "", fmt.Errorf("%s is %d bytes, below the %d byte minimum", src.Name(), size, planner.MinFileSize)
	}
	chunks, err := planner.Plan(size)
	if err != nil {
		return "", err
	}

	sum := types.ChecksumDeferred
	deferred := size > e.cfg.DeferDigestOver
	if !deferred {
		if sum, err = e.digest.FileDigest(ctx, src); err != nil {
			return "", fmt.Errorf("whole-file digest: %w", err)
		}
	}

	id := uuid.NewString()
	key := opts.Key
	if key == "" {
		key = e.cfg.KeyPrefix + id + "/" + path.Base(src.Name())
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	backendID, err := e.backend.InitiateMultipartUpload(ctx, key, contentType, opts.Metadata)
	if err != nil {
		return "", fmt.Errorf("initiate multipart session: %w", err)
	}

	u := &types.Upload{
		ID:              id,
		FileName:        src.Name(),
		FileSize:        size,
		Key:             key,
		ContentType:     contentType,
		BackendUploadID: backendID,
		Chunks:          chunks,
		Status:          types.StatusPending,
		Checksum:        sum,
	}
	if _, err := e.registry.Create(u); err != nil {
		e.abortSession(key, backendID)
		return "", err
	}
	e.attachSource(id, src)
	logger.Info().
		Str("upload_id", id).
		Str("file", src.Name()).
		Int64("size", size).
		Int("chunks", len(chunks)).
		Bool("digest_deferred", deferred).
		Msg("upload started")

	if deferred {
		e.enqueueChecksum(id)
	}

	if _, ok := e.setStatus(id, types.StatusUploading, func(rec *types.Upload) {
		rec.StartedAt = time.Now()
	}, types.StatusPending); !ok {
		// Cancelled between creation and launch; the record keeps whatever
		// status won.
		return id, nil
	}
	e.tracker.Watch(id)
	if !e.launch(id, src) {
		return id, ErrClosed
	}
	return id, nil
}

// Pause stops a running upload, keeping acknowledged parts. Pausing an upload
// that is not currently transferring is a no-op.
func (e *Engine) Pause(id string) error {
	if _, err := e.registry.Get(id); err != nil {
		return err
	}
	if _, ok := e.setStatus(id, types.StatusPaused, nil, types.StatusUploading); !ok {
		return nil
	}
	e.tracker.Stop(id)
	e.interrupt(id)
	logger.Info().Str("upload_id", id).Msg("upload paused")
	return nil
}

// Resume re-enters the chunk loop for a paused or errored upload using the
// source attached at Start.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.resume(ctx, id, nil)
}

// ResumeWithSource resumes with a freshly opened source, required after a
// restart. The source must match the record by file name and size.
func (e *Engine) ResumeWithSource(ctx context.Context, id string, src source.Source) error {
	if src == nil {
		return ErrSourceRequired
	}
	return e.resume(ctx, id, src)
}

func (e *Engine) resume(ctx context.Context, id string, src source.Source) error {
	if e.isClosed() {
		return ErrClosed
	}
	u, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if !u.Status.Resumable() {
		return fmt.Errorf("upload %s is %s: %w", id, u.Status, ErrNotResumable)
	}

	if src != nil {
		if !source.Matches(src, u.FileName, u.FileSize) {
			return fmt.Errorf("%s (%d bytes) does not match record %s (%d bytes): %w",
				src.Name(), src.Size(), u.FileName, u.FileSize, ErrSourceMismatch)
		}
		e.attachSource(id, src)
	} else if src = e.sourceFor(id); src == nil {
		return fmt.Errorf("upload %s has no live source, use ResumeWithSource: %w", id, ErrSourceRequired)
	}

	u, ok := e.setStatus(id, types.StatusResuming, nil, types.StatusPaused, types.StatusError)
	if !ok {
		return fmt.Errorf("upload %s: %w", id, ErrNotResumable)
	}
	logger.Info().Str("upload_id", id).Msg("upload resuming")

	// An assembled object with full local coverage re-validates instead of
	// re-entering the chunk loop.
	if u.Location != "" && u.AllUploaded() {
		if _, ok := e.setStatus(id, types.StatusValidating, nil, types.StatusResuming); !ok {
			return nil
		}
		_, err := e.runValidation(ctx, id, false)
		return err
	}

	if err := e.replan(id, u); err != nil {
		e.setStatus(id, types.StatusError, func(rec *types.Upload) {
			rec.ErrorMessage = err.Error()
		}, types.StatusResuming)
		return err
	}
	if err := e.reconcile(ctx, id); err != nil {
		e.setStatus(id, types.StatusError, func(rec *types.Upload) {
			rec.ErrorMessage = err.Error()
		}, types.StatusResuming)
		return err
	}

	if _, ok := e.setStatus(id, types.StatusUploading, func(rec *types.Upload) {
		rec.StartedAt = time.Now()
	}, types.StatusResuming); !ok {
		return nil
	}
	e.tracker.Watch(id)
	if !e.launch(id, src) {
		return ErrClosed
	}
	return nil
}

// replan regenerates the byte-range plan from the file size and carries the
// acknowledgment flags over by index. The planner is deterministic, so a
// healthy record gets an identical partition back.
func (e *Engine) replan(id string, u *types.Upload) error {
	plan, err := planner.Plan(u.FileSize)
	if err != nil {
		return err
	}
	_, err = e.registry.Update(id, func(rec *types.Upload) error {
		for i := range plan {
			if i < len(rec.Chunks) && rec.Chunks[i].Uploaded {
				plan[i].Uploaded = true
				plan[i].ContentTag = rec.Chunks[i].ContentTag
			}
		}
		rec.Chunks = plan
		return nil
	})
	return err
}

// Cancel interrupts the upload, discards the backend session best-effort, and
// moves the record to its terminal CANCELLED status. Cancelling twice is a
// no-op; cancelling a completed upload is an error.
func (e *Engine) Cancel(id string) error {
	u, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if u.Status == types.StatusCancelled {
		return nil
	}
	if u.Status == types.StatusCompleted {
		return fmt.Errorf("upload %s is completed: %w", id, ErrTerminal)
	}

	var backendID, key string
	if _, ok := e.setStatus(id, types.StatusCancelled, func(rec *types.Upload) {
		backendID = rec.BackendUploadID
		key = rec.Key
		// Clearing the session id keeps the abort below a one-shot.
		rec.BackendUploadID = ""
	}, types.StatusPending, types.StatusUploading, types.StatusPaused,
		types.StatusResuming, types.StatusValidating, types.StatusError); !ok {
		// Lost a race against another terminal transition.
		if u, err = e.registry.Get(id); err == nil && u.Status == types.StatusCancelled {
			return nil
		}
		return fmt.Errorf("upload %s: %w", id, ErrTerminal)
	}
	e.tracker.Stop(id)
	e.interrupt(id)
	if backendID != "" {
		e.abortSession(key, backendID)
	}
	logger.Info().Str("upload_id", id).Msg("upload cancelled")
	return nil
}

// Validate re-runs the integrity pipeline on a completed upload. A pipeline
// failure restores the COMPLETED status; a verdict of invalid moves the
// record to ERROR.
func (e *Engine) Validate(ctx context.Context, id string) (*types.ValidationResult, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	u, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if u.Status != types.StatusCompleted {
		return nil, fmt.Errorf("upload %s is %s, only completed uploads re-validate", id, u.Status)
	}
	if _, ok := e.setStatus(id, types.StatusValidating, nil, types.StatusCompleted); !ok {
		return nil, fmt.Errorf("upload %s is being mutated concurrently", id)
	}
	return e.runValidation(ctx, id, true)
}

// AutoResume is the scheduled-recovery entry point used by the task worker.
// A record that vanished or moved on is already handled, not an error.
func (e *Engine) AutoResume(ctx context.Context, id string) error {
	err := e.resume(ctx, id, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, ErrNotResumable),
		errors.Is(err, ErrClosed):
		logger.Debug().Err(err).Str("upload_id", id).Msg("auto-resume superseded")
		return nil
	case errors.Is(err, ErrSourceRequired):
		logger.Warn().Str("upload_id", id).Msg("auto-resume needs a re-attached source")
		return nil
	default:
		return err
	}
}

// ComputeDeferredChecksum resolves a record's digest sentinel in the
// background. Missing records, resolved digests, and detached sources all
// count as handled; only transient digest failures propagate for retry.
func (e *Engine) ComputeDeferredChecksum(ctx context.Context, id string) error {
	u, err := e.registry.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.Checksum != types.ChecksumDeferred {
		return nil
	}
	src := e.sourceFor(id)
	if src == nil {
		logger.Debug().Str("upload_id", id).Msg("deferred digest skipped, source detached")
		return nil
	}
	digest, err := e.digest.FileDigest(ctx, src)
	if err != nil {
		return err
	}
	_, err = e.registry.Update(id, func(rec *types.Upload) error {
		if rec.Checksum == types.ChecksumDeferred {
			rec.Checksum = digest
		}
		return nil
	})
	return err
}

func (e *Engine) enqueueChecksum(id string) {
	task, err := handlers.NewChecksumTask(id)
	if err == nil {
		err = e.queue.Enqueue(context.Background(), task)
	}
	if err != nil {
		// The record keeps its sentinel; uploads never fail over a digest.
		logger.Warn().Err(err).Str("upload_id", id).Msg("deferred digest not scheduled")
	}
}

func (e *Engine) scheduleAutoResume(id string) {
	task, err := handlers.NewAutoResumeTask(id, e.cfg.AutoResumeDelay)
	if err == nil {
		err = e.queue.Enqueue(context.Background(), task)
	}
	if err != nil {
		logger.Error().Err(err).Str("upload_id", id).Msg("auto-resume not scheduled")
		return
	}
	logger.Info().Str("upload_id", id).Dur("delay", e.cfg.AutoResumeDelay).Msg("auto-resume scheduled")
}
