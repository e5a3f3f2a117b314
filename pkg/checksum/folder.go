// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"encoding/hex"
	"errors"
	"hash"

	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

// ErrWindowTooLarge is returned by a Folder that cannot accept a window of
// the offered size. The engine reacts by splitting the window transparently.
var ErrWindowTooLarge = errors.New("window too large for hash primitive")

// Folder is the hash primitive consumed by the engine: windows are folded in
// file order into a running state, then finalized exactly once with Sum.
// A Folder must not be used after Sum.
type Folder interface {
	Fold(window []byte) error
	Sum() string
}

type sha256Folder struct {
	h hash.Hash
}

// NewSHA256Folder returns the whole-file digest primitive. Hasher state comes
// from the shared pool and is returned on Sum.
func NewSHA256Folder() Folder {
	return &sha256Folder{h: utils.Sha256PoolGetHasher()}
}

func (f *sha256Folder) Fold(window []byte) error {
	_, err := f.h.Write(window)
	return err
}

func (f *sha256Folder) Sum() string {
	sum := hex.EncodeToString(f.h.Sum(nil))
	utils.Sha256PoolPutHasher(f.h)
	f.h = nil
	return sum
}

type crc64Folder struct {
	h hash.Hash64
}

// NewCRC64Folder returns the cheap per-chunk digest primitive used for error
// attribution.
func NewCRC64Folder() Folder {
	return &crc64Folder{h: utils.Crc64nvmePoolGetHasher()}
}

func (f *crc64Folder) Fold(window []byte) error {
	_, err := f.h.Write(window)
	return err
}

func (f *crc64Folder) Sum() string {
	sum := hex.EncodeToString(f.h.Sum(nil))
	utils.Crc64nvmePoolPutHasher(f.h)
	f.h = nil
	return sum
}
