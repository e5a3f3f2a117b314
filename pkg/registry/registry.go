// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry owns every upload record. All reads hand out deep copies
// and all writes go through Update, so derived fields can never be observed
// half-recomputed. After each successful mutation the full record set is
// mirrored to the session store; mirror failures are logged and counted but
// never fail the mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/session"
	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

var (
	ErrNotFound    = errors.New("upload not found")
	ErrExists      = errors.New("upload already exists")
	ErrNotTerminal = errors.New("upload is not in a terminal state")
)

const mirrorTimeout = 5 * time.Second

type Registry struct {
	mu      sync.RWMutex
	uploads map[string]*types.Upload
	store   session.Store
}

func New(store session.Store) *Registry {
	return &Registry{
		uploads: make(map[string]*types.Upload),
		store:   store,
	}
}

// Restore loads persisted records into the registry. In-flight statuses come
// back collapsed to PAUSED by the persistence layer. Returns how many records
// were restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	records, err := r.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, record := range records {
		r.uploads[id] = record.Restore()
	}
	recordsGauge.Set(float64(len(r.uploads)))
	return len(records), nil
}

// Create registers a new record. The registry takes ownership of u; callers
// must not touch it afterwards.
func (r *Registry) Create(u *types.Upload) (*types.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.uploads[u.ID]; ok {
		return nil, fmt.Errorf("create %s: %w", u.ID, ErrExists)
	}

	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.RecomputeDerived()
	r.uploads[u.ID] = u

	recordsGauge.Set(float64(len(r.uploads)))
	r.mirror()
	return u.Clone(), nil
}

// Get returns a deep copy of the record.
func (r *Registry) Get(id string) (*types.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.uploads[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return u.Clone(), nil
}

// List returns deep copies of all records, oldest first.
func (r *Registry) List() []*types.Upload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Upload, 0, len(r.uploads))
	for _, u := range r.uploads {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *types.Upload) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Update applies fn to the record under the registry lock. fn runs against a
// scratch copy; only if it returns nil does the copy replace the stored
// record, with derived fields and UpdatedAt refreshed. Returns a deep copy of
// the post-mutation record.
func (r *Registry) Update(id string, fn func(u *types.Upload) error) (*types.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.uploads[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.RecomputeDerived()
	next.UpdatedAt = time.Now()
	r.uploads[id] = next

	r.mirror()
	return next.Clone(), nil
}

// Delete removes a record. Only terminal records may be removed; callers must
// cancel live uploads first.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if !u.Status.Terminal() {
		return fmt.Errorf("delete %s in status %s: %w", id, u.Status, ErrNotTerminal)
	}
	delete(r.uploads, id)

	recordsGauge.Set(float64(len(r.uploads)))
	r.mirror()
	return nil
}

// mirror persists the full record set. Called with the write lock held so
// saves hit the store in mutation order.
func (r *Registry) mirror() {
	records := make(map[string]types.PersistedUpload, len(r.uploads))
	for id, u := range r.uploads {
		records[id] = u.ToPersisted()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.store.Save(ctx, records); err != nil {
		mirrorFailures.Inc()
		logger.Error().Err(err).Int("records", len(records)).Msg("session mirror failed")
	}
}
