// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress samples transfer rate and ETA for running uploads.
// Samples are advisory: they go through the registry like any other mutation
// but are never persisted, and a dead sampler only costs staleness.
package progress

import (
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/events"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/registry"
	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

// DefaultInterval is how often each sampler refreshes its upload.
const DefaultInterval = time.Second

// Tracker runs one sampler goroutine per watched upload.
type Tracker struct {
	reg      *registry.Registry
	bus      *events.Bus
	interval time.Duration

	mu       sync.Mutex
	watching map[string]chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

func NewTracker(reg *registry.Registry, bus *events.Bus, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		reg:      reg,
		bus:      bus,
		interval: interval,
		watching: make(map[string]chan struct{}),
	}
}

// Watch starts sampling the upload. The sampler stops on its own once the
// upload leaves the running state; watching twice is a no-op.
func (t *Tracker) Watch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.watching[id]; ok {
		return
	}
	stop := make(chan struct{})
	t.watching[id] = stop
	samplersActive.Inc()

	t.wg.Add(1)
	go t.sample(id, stop)
}

// Stop halts the sampler for id, if one is running.
func (t *Tracker) Stop(id string) {
	t.mu.Lock()
	if stop, ok := t.watching[id]; ok {
		delete(t.watching, id)
		close(stop)
	}
	t.mu.Unlock()
}

// Close stops every sampler and waits for them to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for id, stop := range t.watching {
		delete(t.watching, id)
		close(stop)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) sample(id string, stop chan struct{}) {
	defer t.wg.Done()
	defer samplersActive.Dec()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !t.tick(id) {
				t.stopIf(id, stop)
				return
			}
		}
	}
}

// stopIf removes the watch entry only if it still belongs to this sampler,
// so a self-stopping sampler cannot tear down a successor registered by a
// rapid stop/watch cycle.
func (t *Tracker) stopIf(id string, stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.watching[id]; ok && cur == stop {
		delete(t.watching, id)
		close(stop)
	}
}

// tick refreshes one sample. Returns false once the upload is no longer
// running, or vanished.
func (t *Tracker) tick(id string) bool {
	current, err := t.reg.Get(id)
	if err != nil {
		return false
	}
	if current.Status != types.StatusUploading {
		return false
	}

	speed, remaining := Estimate(current, time.Now())
	updated, err := t.reg.Update(id, func(u *types.Upload) error {
		u.SpeedBPS = speed
		u.RemainingSeconds = remaining
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Str("upload_id", id).Msg("progress sample skipped")
		return false
	}

	t.bus.Publish(events.Event{
		Type:             events.EventProgress,
		UploadID:         id,
		ProgressPercent:  updated.ProgressPercent,
		SpeedBPS:         updated.SpeedBPS,
		RemainingSeconds: updated.RemainingSeconds,
	})
	return true
}

// Estimate derives throughput and ETA from the acknowledged chunk count.
// Uploaded bytes are approximated as count * average chunk size; per-chunk
// exactness is not worth tracking for an advisory number. Degenerate inputs
// yield zero speed and an unknown ETA.
func Estimate(u *types.Upload, now time.Time) (speedBPS float64, remainingSeconds int64) {
	if u.TotalCount == 0 || u.StartedAt.IsZero() {
		return 0, types.RemainingUnknown
	}
	elapsed := now.Sub(u.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0, types.RemainingUnknown
	}

	uploadedBytes := float64(u.UploadedCount) * (float64(u.FileSize) / float64(u.TotalCount))
	speedBPS = uploadedBytes / elapsed
	if speedBPS <= 0 {
		return 0, types.RemainingUnknown
	}

	remainingBytes := float64(u.FileSize) - uploadedBytes
	if remainingBytes <= 0 {
		return speedBPS, 0
	}
	return speedBPS, int64(remainingBytes / speedBPS)
}
