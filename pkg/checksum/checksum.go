// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes streaming digests over upload sources. Files are
// read in bounded windows and folded into a running hash state, so memory use
// is independent of file size.
package checksum

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/types"
	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

const (
	// WindowSize is how much of the file is read per fold.
	WindowSize = 1 * 1024 * 1024
	// SubWindowSize is the fallback fold size when the primitive rejects a
	// full window.
	SubWindowSize = 64 * 1024
	// DeferThreshold is the file size above which the whole-file digest moves
	// to a background task instead of delaying the upload.
	DeferThreshold = 1 * 1024 * 1024 * 1024
)

// Config tunes an Engine. Zero values select the defaults above.
type Config struct {
	WindowSize  int
	FileFolder  func() Folder
	ChunkFolder func() Folder
}

// Engine computes whole-file and per-chunk digests.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = WindowSize
	}
	if cfg.FileFolder == nil {
		cfg.FileFolder = NewSHA256Folder
	}
	if cfg.ChunkFolder == nil {
		cfg.ChunkFolder = NewCRC64Folder
	}
	return &Engine{cfg: cfg}
}

// ShouldDefer reports whether the whole-file digest for a file of this size
// belongs on the background path.
func ShouldDefer(fileSize int64) bool {
	return fileSize > DeferThreshold
}

// FileDigest streams the whole source through the file folder.
func (e *Engine) FileDigest(ctx context.Context, src source.Source) (string, error) {
	folder := e.cfg.FileFolder()
	if err := e.digestRange(ctx, folder, src, 0, src.Size()); err != nil {
		return "", fmt.Errorf("file digest of %s: %w", src.Name(), err)
	}
	return folder.Sum(), nil
}

// ChunkDigest digests a single chunk's bytes for error attribution. The
// result is not stored long-term.
func (e *Engine) ChunkDigest(ctx context.Context, src source.Source, chunk types.Chunk) (string, error) {
	folder := e.cfg.ChunkFolder()
	if err := e.digestRange(ctx, folder, src, chunk.StartByte, chunk.EndByte); err != nil {
		return "", fmt.Errorf("chunk %d digest of %s: %w", chunk.Index, src.Name(), err)
	}
	return folder.Sum(), nil
}

// StreamDigest folds an already-open stream, window by window. Used to
// re-derive the digest of a stored object during validation.
func (e *Engine) StreamDigest(ctx context.Context, r io.Reader) (string, error) {
	folder := e.cfg.FileFolder()
	buf := utils.GetBuffer(e.cfg.WindowSize)
	defer utils.PutBuffer(buf)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if foldErr := e.fold(folder, buf[:n]); foldErr != nil {
				return "", foldErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return folder.Sum(), nil
		}
		if err != nil {
			return "", fmt.Errorf("stream digest: %w", err)
		}
	}
}

func (e *Engine) digestRange(ctx context.Context, folder Folder, src source.Source, start, end int64) error {
	for off := start; off < end; {
		if err := ctx.Err(); err != nil {
			return err
		}
		windowEnd := off + int64(e.cfg.WindowSize)
		if windowEnd > end {
			windowEnd = end
		}
		window, err := src.ReadRange(ctx, off, windowEnd)
		if err != nil {
			return err
		}
		err = e.fold(folder, window)
		utils.PutBuffer(window)
		if err != nil {
			return err
		}
		off = windowEnd
	}
	return nil
}

// fold hands a window to the primitive. A window the primitive rejects as too
// large is split into sub-windows and folded piecewise; callers never see the
// difference.
func (e *Engine) fold(folder Folder, window []byte) error {
	err := folder.Fold(window)
	if err == nil || !errors.Is(err, ErrWindowTooLarge) {
		return err
	}
	if len(window) <= SubWindowSize {
		return fmt.Errorf("hash primitive rejected %d byte window: %w", len(window), err)
	}
	for off := 0; off < len(window); off += SubWindowSize {
		subEnd := off + SubWindowSize
		if subEnd > len(window) {
			subEnd = len(window)
		}
		if err := e.fold(folder, window[off:subEnd]); err != nil {
			return err
		}
	}
	return nil
}
