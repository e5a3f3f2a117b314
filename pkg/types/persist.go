// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// PersistedUpload is the durable form of an upload record. It keeps only what
// survives a process restart: identity, the byte-range plan with
// acknowledgment flags, and terminal bookkeeping. Live resources (the file
// source) and advisory sampler output are stripped at the save boundary.
type PersistedUpload struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`

	BackendUploadID string `json:"backend_upload_id,omitempty"`
	Location        string `json:"location,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`

	Chunks []Chunk `json:"chunks"`

	Status           UploadStatus      `json:"status"`
	RetryCount       int               `json:"retry_count"`
	Checksum         string            `json:"checksum,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix nano timestamp
	UpdatedAt int64 `json:"updated_at"` // Unix nano timestamp
}

// ToPersisted converts the runtime record for the save boundary. The
// conversion is one-directional: sampler output and the start time never
// round-trip.
func (u *Upload) ToPersisted() PersistedUpload {
	p := PersistedUpload{
		ID:              u.ID,
		FileName:        u.FileName,
		FileSize:        u.FileSize,
		Key:             u.Key,
		ContentType:     u.ContentType,
		BackendUploadID: u.BackendUploadID,
		Location:        u.Location,
		DownloadURL:     u.DownloadURL,
		Chunks:          make([]Chunk, len(u.Chunks)),
		Status:          u.Status,
		RetryCount:      u.RetryCount,
		Checksum:        u.Checksum,
		ErrorMessage:    u.ErrorMessage,
		CreatedAt:       u.CreatedAt.UnixNano(),
		UpdatedAt:       u.UpdatedAt.UnixNano(),
	}
	copy(p.Chunks, u.Chunks)
	if u.ValidationResult != nil {
		vr := *u.ValidationResult
		p.ValidationResult = &vr
	}
	return p
}

// Restore builds a runtime record from a persisted one. A record loaded after
// a restart cannot still be mid-flight, so non-terminal in-flight statuses
// collapse to PAUSED; the sampler fields start at their idle values.
func (p *PersistedUpload) Restore() *Upload {
	u := &Upload{
		ID:               p.ID,
		FileName:         p.FileName,
		FileSize:         p.FileSize,
		Key:              p.Key,
		ContentType:      p.ContentType,
		BackendUploadID:  p.BackendUploadID,
		Location:         p.Location,
		DownloadURL:      p.DownloadURL,
		Chunks:           make([]Chunk, len(p.Chunks)),
		Status:           p.Status,
		RetryCount:       p.RetryCount,
		Checksum:         p.Checksum,
		ErrorMessage:     p.ErrorMessage,
		RemainingSeconds: RemainingUnknown,
		CreatedAt:        time.Unix(0, p.CreatedAt),
		UpdatedAt:        time.Unix(0, p.UpdatedAt),
	}
	copy(u.Chunks, p.Chunks)
	if p.ValidationResult != nil {
		vr := *p.ValidationResult
		u.ValidationResult = &vr
	}
	switch p.Status {
	case StatusUploading, StatusResuming, StatusValidating, StatusPending:
		u.Status = StatusPaused
	}
	u.RecomputeDerived()
	return u
}
