// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Chunk describes one contiguous byte range of a file. Boundaries are
// immutable once planned; only Uploaded and ContentTag change afterwards.
type Chunk struct {
	Index      int    `json:"index"`      // 1-based, matches the backend part number
	StartByte  int64  `json:"start_byte"` // inclusive
	EndByte    int64  `json:"end_byte"`   // exclusive
	Size       int64  `json:"size"`
	Uploaded   bool   `json:"uploaded"`
	ContentTag string `json:"content_tag,omitempty"` // backend acknowledgment, required at completion
}

// Acknowledged reports whether the backend confirmed this chunk.
func (c *Chunk) Acknowledged() bool {
	return c.Uploaded && c.ContentTag != ""
}
