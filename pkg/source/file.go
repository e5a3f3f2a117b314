// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

// File is a Source backed by a local file opened for random access.
type File struct {
	f    *os.File
	name string
	size int64
}

var _ Source = (*File)(nil)

// Open opens the file at path for upload.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open source %s: is a directory", path)
	}
	return &File{
		f:    f,
		name: filepath.Base(path),
		size: info.Size(),
	}, nil
}

func (s *File) Name() string {
	return s.name
}

func (s *File) Size() int64 {
	return s.size
}

func (s *File) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(start, end, s.size); err != nil {
		return nil, err
	}
	buf := utils.GetBuffer(int(end - start))
	n, err := s.f.ReadAt(buf, start)
	if n == len(buf) {
		return buf, nil
	}
	utils.PutBuffer(buf)
	if err == nil || err == io.EOF {
		err = ErrShortRead
	}
	return nil, fmt.Errorf("read range [%d, %d) of %s: %w", start, end, s.name, err)
}

func (s *File) Close() error {
	return s.f.Close()
}
