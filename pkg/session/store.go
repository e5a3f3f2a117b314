// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package session persists stripped upload records so transfers survive a
// process restart. The registry mirrors its full record set here after every
// mutation; the store only ever sees the persistence DTO.
package session

import (
	"context"

	"github.com/LeeDigitalWorks/zapload/pkg/types"
)

// Store is the durable session mechanism. Implementations must tolerate
// Save being called after every registry mutation.
type Store interface {
	Load(ctx context.Context) (map[string]types.PersistedUpload, error)
	Save(ctx context.Context, records map[string]types.PersistedUpload) error
	Close() error
}
