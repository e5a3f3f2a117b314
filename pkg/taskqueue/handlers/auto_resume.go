package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/taskqueue"
)

// AutoResumePayload is the task payload for scheduled resumes.
type AutoResumePayload struct {
	UploadID string `json:"upload_id"`
}

// Resumer restarts a recovered upload. Implementations treat an upload that
// is no longer resumable as already handled.
type Resumer interface {
	AutoResume(ctx context.Context, uploadID string) error
}

// AutoResumeHandler processes scheduled resume tasks.
type AutoResumeHandler struct {
	resumer Resumer
}

// NewAutoResumeHandler creates a new auto-resume handler.
func NewAutoResumeHandler(resumer Resumer) *AutoResumeHandler {
	return &AutoResumeHandler{resumer: resumer}
}

// Type returns the task type this handler processes.
func (h *AutoResumeHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeAutoResume
}

// Handle resumes the upload.
func (h *AutoResumeHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[AutoResumePayload](task.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := h.resumer.AutoResume(ctx, payload.UploadID); err != nil {
		logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("upload_id", payload.UploadID).
			Msg("taskqueue: auto-resume failed")
		return err // Will retry
	}

	logger.Debug().
		Str("task_id", task.ID).
		Str("upload_id", payload.UploadID).
		Msg("taskqueue: auto-resume dispatched")
	return nil
}

// NewAutoResumeTask creates a resume task scheduled delay from now.
func NewAutoResumeTask(uploadID string, delay time.Duration) (*taskqueue.Task, error) {
	payload, err := taskqueue.MarshalPayload(AutoResumePayload{UploadID: uploadID})
	if err != nil {
		return nil, err
	}

	return &taskqueue.Task{
		Type:        taskqueue.TaskTypeAutoResume,
		Payload:     payload,
		ScheduledAt: time.Now().Add(delay),
		MaxRetries:  3,
		Priority:    taskqueue.PriorityHigh,
	}, nil
}
