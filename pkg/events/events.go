// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events carries upload lifecycle notifications to in-process
// subscribers. Publishing never blocks: a subscriber that falls behind loses
// events rather than stalling the upload path.
package events

import (
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

// EventType categorizes lifecycle events.
type EventType string

const (
	EventStatusChanged      EventType = "upload:StatusChanged"
	EventChunkUploaded      EventType = "upload:ChunkUploaded"
	EventProgress           EventType = "upload:Progress"
	EventValidationFinished EventType = "upload:ValidationFinished"
)

// Event is one lifecycle notification. Only the fields relevant to its Type
// are populated.
type Event struct {
	Type      EventType `json:"type"`
	UploadID  string    `json:"upload_id"`
	Timestamp time.Time `json:"timestamp"`

	// StatusChanged
	From types.UploadStatus `json:"from,omitempty"`
	To   types.UploadStatus `json:"to,omitempty"`

	// ChunkUploaded
	ChunkIndex    int `json:"chunk_index,omitempty"`
	UploadedCount int `json:"uploaded_count,omitempty"`

	// Progress
	ProgressPercent  float64 `json:"progress_percent,omitempty"`
	SpeedBPS         float64 `json:"speed_bps,omitempty"`
	RemainingSeconds int64   `json:"remaining_seconds,omitempty"`

	// ValidationFinished
	IsValid bool `json:"is_valid,omitempty"`

	Message string `json:"message,omitempty"`
}

// DefaultBuffer is the per-subscriber channel depth when the caller passes 0.
const DefaultBuffer = 64

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The cancel function closes the channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has buffer room. Fire and
// forget: full subscribers are skipped and counted, never waited on.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	eventsPublished.WithLabelValues(string(e.Type)).Inc()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			eventsDropped.WithLabelValues(string(e.Type)).Inc()
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Publish and
// Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
