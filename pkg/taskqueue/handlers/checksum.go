package handlers

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/taskqueue"
)

// ChecksumPayload is the task payload for deferred digest computation.
type ChecksumPayload struct {
	UploadID string `json:"upload_id"`
}

// Digester computes and records the whole-file digest for an upload whose
// checksum was deferred at start.
type Digester interface {
	ComputeDeferredChecksum(ctx context.Context, uploadID string) error
}

// ChecksumHandler processes deferred digest tasks.
type ChecksumHandler struct {
	digester Digester
}

// NewChecksumHandler creates a new deferred digest handler.
func NewChecksumHandler(digester Digester) *ChecksumHandler {
	return &ChecksumHandler{digester: digester}
}

// Type returns the task type this handler processes.
func (h *ChecksumHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeChecksum
}

// Handle computes the digest. The upload itself proceeds regardless; if every
// retry fails the record simply keeps its deferred sentinel.
func (h *ChecksumHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[ChecksumPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := h.digester.ComputeDeferredChecksum(ctx, payload.UploadID); err != nil {
		logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("upload_id", payload.UploadID).
			Msg("taskqueue: deferred digest failed")
		return err // Will retry
	}

	logger.Debug().
		Str("task_id", task.ID).
		Str("upload_id", payload.UploadID).
		Msg("taskqueue: deferred digest recorded")
	return nil
}

// NewChecksumTask creates a deferred digest task for an upload.
func NewChecksumTask(uploadID string) (*taskqueue.Task, error) {
	payload, err := taskqueue.MarshalPayload(ChecksumPayload{UploadID: uploadID})
	if err != nil {
		return nil, err
	}

	return &taskqueue.Task{
		Type:       taskqueue.TaskTypeChecksum,
		Payload:    payload,
		MaxRetries: 3,
		Priority:   taskqueue.PriorityLow,
	}, nil
}
