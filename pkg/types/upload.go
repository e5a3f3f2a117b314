// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

const (
	// ChecksumDeferred marks a record whose whole-file digest is still being
	// computed by a background task.
	ChecksumDeferred = "deferred"

	// RemainingUnknown is the sentinel for an ETA that cannot be estimated.
	RemainingUnknown int64 = -1
)

// Upload is the runtime record for one user-initiated transfer. The registry
// exclusively owns all instances; everything else works on copies.
type Upload struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`

	BackendUploadID string `json:"backend_upload_id,omitempty"`
	Location        string `json:"location,omitempty"`     // set by the backend completion call
	DownloadURL     string `json:"download_url,omitempty"` // time-limited, best-effort

	Chunks []Chunk `json:"chunks"`

	// Derived from Chunks inside every registry mutation, never by callers.
	UploadedCount   int     `json:"uploaded_count"`
	TotalCount      int     `json:"total_count"`
	ProgressPercent float64 `json:"progress_percent"`

	Status UploadStatus `json:"status"`

	// Advisory sampler output, recomputed each tick, never persisted.
	SpeedBPS         float64 `json:"speed_bps"`
	RemainingSeconds int64   `json:"remaining_seconds"`

	RetryCount       int               `json:"retry_count"`
	Checksum         string            `json:"checksum,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StartedAt time.Time `json:"started_at"` // refreshed on each entry into UPLOADING
}

// RecomputeDerived refreshes UploadedCount and ProgressPercent from the chunk
// flags. The registry calls this inside its mutation critical section.
func (u *Upload) RecomputeDerived() {
	uploaded := 0
	for i := range u.Chunks {
		if u.Chunks[i].Uploaded {
			uploaded++
		}
	}
	u.UploadedCount = uploaded
	u.TotalCount = len(u.Chunks)
	if u.TotalCount == 0 {
		u.ProgressPercent = 0
		return
	}
	u.ProgressPercent = 100 * float64(uploaded) / float64(u.TotalCount)
}

// AllUploaded reports whether every chunk carries an acknowledgment flag.
func (u *Upload) AllUploaded() bool {
	for i := range u.Chunks {
		if !u.Chunks[i].Uploaded {
			return false
		}
	}
	return len(u.Chunks) > 0
}

// RemainingChunks returns the indices of chunks still to upload, ascending.
func (u *Upload) RemainingChunks() []int {
	var remaining []int
	for i := range u.Chunks {
		if !u.Chunks[i].Uploaded {
			remaining = append(remaining, u.Chunks[i].Index)
		}
	}
	return remaining
}

// Clone returns a deep copy safe to hand outside the registry.
func (u *Upload) Clone() *Upload {
	cp := *u
	cp.Chunks = make([]Chunk, len(u.Chunks))
	copy(cp.Chunks, u.Chunks)
	if u.ValidationResult != nil {
		vr := *u.ValidationResult
		if u.ValidationResult.CorruptedChunks != nil {
			vr.CorruptedChunks = make([]int, len(u.ValidationResult.CorruptedChunks))
			copy(vr.CorruptedChunks, u.ValidationResult.CorruptedChunks)
		}
		cp.ValidationResult = &vr
	}
	return &cp
}
