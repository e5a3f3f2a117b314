// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"

	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

// Memory is an in-process store for tests and ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]types.PersistedUpload
	saves   int

	// FailSave, when set, is returned by the next Save calls.
	FailSave error
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]types.PersistedUpload)}
}

func (s *Memory) Load(ctx context.Context) (map[string]types.PersistedUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.PersistedUpload, len(s.records))
	for id, record := range s.records {
		out[id] = record
	}
	return out, nil
}

func (s *Memory) Save(ctx context.Context, records map[string]types.PersistedUpload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.FailSave != nil {
		return s.FailSave
	}
	s.records = make(map[string]types.PersistedUpload, len(records))
	for id, record := range records {
		s.records[id] = record
	}
	return nil
}

func (s *Memory) Close() error { return nil }

// SaveCount reports how many Save calls were made, failed ones included.
func (s *Memory) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Record returns the persisted record for id, if present.
func (s *Memory) Record(id string) (types.PersistedUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	return record, ok
}
