// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package integrity verifies a fully-uploaded object against the local
// record. The validator only renders verdicts; acting on them (recovery,
// aborts, status transitions) is the orchestrator's job.
package integrity

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/checksum"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

// DigestRecheckLimit is the object size at and above which the download
// re-check is skipped; size plus per-part acknowledgments carry the verdict
// alone.
const DigestRecheckLimit int64 = 100 * 1024 * 1024

// Validator runs the post-upload verification pipeline.
type Validator struct {
	store  backend.Backend
	digest *checksum.Engine
}

func New(store backend.Backend, digest *checksum.Engine) *Validator {
	return &Validator{store: store, digest: digest}
}

// Validate checks the stored object in four ordered steps: object size,
// per-chunk acknowledgment tags, digest re-check for small objects, and part
// count. The first failed step decides the verdict. A non-nil error means the
// pipeline itself could not run and no verdict exists.
func (v *Validator) Validate(ctx context.Context, u *types.Upload) (*types.ValidationResult, error) {
	info, err := v.store.GetObjectInfo(ctx, u.Key)
	if err != nil {
		validationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("object metadata for %s: %w", u.ID, err)
	}
	if info.Size != u.FileSize {
		return v.invalid(u, &types.ValidationResult{
			ExpectedChecksum: u.Checksum,
			Error:            fmt.Sprintf("size mismatch: expected %d bytes, stored object has %d", u.FileSize, info.Size),
		}), nil
	}

	var corrupted []int
	for i := range u.Chunks {
		if u.Chunks[i].Uploaded && u.Chunks[i].ContentTag == "" {
			corrupted = append(corrupted, u.Chunks[i].Index)
		}
	}
	if len(corrupted) > 0 {
		return v.invalid(u, &types.ValidationResult{
			ExpectedChecksum: u.Checksum,
			CorruptedChunks:  corrupted,
			Error:            fmt.Sprintf("%d chunks lack backend acknowledgment", len(corrupted)),
		}), nil
	}

	recomputed := ""
	if u.FileSize < DigestRecheckLimit && digestFinished(u.Checksum) {
		actual, err := v.recomputeDigest(ctx, u.Key)
		switch {
		case err != nil:
			// A failed download is not evidence of corruption; size and
			// acknowledgments already passed.
			logger.Warn().Err(err).Str("upload_id", u.ID).Msg("digest re-check skipped")
		case actual != u.Checksum:
			return v.invalid(u, &types.ValidationResult{
				ExpectedChecksum: u.Checksum,
				ActualChecksum:   actual,
				Error:            "stored object digest does not match",
			}), nil
		default:
			recomputed = actual
		}
	}

	// A backend that does not report part counts returns zero; only a
	// conflicting report counts against the object.
	if info.PartCount != 0 && info.PartCount != u.TotalCount {
		return v.invalid(u, &types.ValidationResult{
			ExpectedChecksum: u.Checksum,
			Error:            fmt.Sprintf("part count mismatch: planned %d, backend reports %d", u.TotalCount, info.PartCount),
		}), nil
	}

	validationsTotal.WithLabelValues("valid").Inc()
	return &types.ValidationResult{
		IsValid:          true,
		ExpectedChecksum: u.Checksum,
		ActualChecksum:   recomputed,
	}, nil
}

func (v *Validator) invalid(u *types.Upload, result *types.ValidationResult) *types.ValidationResult {
	validationsTotal.WithLabelValues("invalid").Inc()
	logger.Warn().
		Str("upload_id", u.ID).
		Ints("corrupted_chunks", result.CorruptedChunks).
		Str("reason", result.Error).
		Msg("validation failed")
	return result
}

func (v *Validator) recomputeDigest(ctx context.Context, key string) (string, error) {
	obj, err := v.store.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	defer obj.Close()
	return v.digest.StreamDigest(ctx, obj)
}

func digestFinished(sum string) bool {
	return sum != "" && sum != types.ChecksumDeferred
}
