// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates resumable multipart uploads: chunk planning,
// digest computation, the bounded-concurrency upload loop, pause/resume/cancel,
// post-completion validation, and durable session mirroring. One Engine drives
// any number of concurrent uploads against a single backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/checksum"
	"github.com/LeeDigitalWorks/zapload/pkg/events"
	"github.com/LeeDigitalWorks/zapload/pkg/integrity"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/progress"
	"github.com/LeeDigitalWorks/zapload/pkg/registry"
	"github.com/LeeDigitalWorks/zapload/pkg/session"
	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapload/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"golang.org/x/time/rate"
)

var (
	ErrClosed         = errors.New("engine is closed")
	ErrNotResumable   = errors.New("upload is not resumable")
	ErrSourceRequired = errors.New("upload source required")
	ErrSourceMismatch = errors.New("source does not match upload record")
	ErrTerminal       = errors.New("upload already reached a terminal status")
)

const (
	DefaultConcurrency     = 5
	MaxConcurrency         = 10
	DefaultMaxRetries      = 3
	DefaultRetryBase       = time.Second
	DefaultRetryCap        = 30 * time.Second
	DefaultAutoResumeDelay = 5 * time.Second
	DefaultDownloadRefTTL  = time.Hour
	DefaultKeyPrefix       = "uploads/"

	retryJitterFraction = 0.1
	abortTimeout        = 10 * time.Second
	limiterQuantum      = 256 * 1024
)

// Config tunes an Engine. Zero values select the defaults above.
type Config struct {
	// Backend selects the storage backend. Ignored when BackendClient is set.
	Backend backend.Config `json:"backend" mapstructure:"backend"`
	// BackendClient overrides backend construction; tests inject fakes here.
	BackendClient backend.Backend `json:"-" mapstructure:"-"`

	// Store overrides session store construction. When nil, StorePath selects
	// LevelDB, Redis.Addr selects Redis, and an in-memory store (sessions do
	// not survive the process) is the fallback.
	Store     session.Store       `json:"-" mapstructure:"-"`
	StorePath string              `json:"store_path" mapstructure:"store_path"`
	Redis     session.RedisConfig `json:"redis" mapstructure:"redis"`

	// Concurrency is the chunk batch width, clamped to 1..10.
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
	// MaxRetries bounds failed attempts per chunk before the upload errors.
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBase  time.Duration `json:"retry_base" mapstructure:"retry_base"`
	RetryCap   time.Duration `json:"retry_cap" mapstructure:"retry_cap"`

	// BandwidthLimit caps upload throughput in bytes per second; 0 = unlimited.
	BandwidthLimit int64 `json:"bandwidth_limit" mapstructure:"bandwidth_limit"`

	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
	AutoResumeDelay  time.Duration `json:"auto_resume_delay" mapstructure:"auto_resume_delay"`
	DownloadRefTTL   time.Duration `json:"download_ref_ttl" mapstructure:"download_ref_ttl"`

	// DeferDigestOver moves whole-file digests above this size to a
	// background task so huge uploads start immediately.
	DeferDigestOver int64 `json:"defer_digest_over" mapstructure:"defer_digest_over"`

	// KeyPrefix namespaces generated object keys.
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// DefaultConfig returns the engine defaults with a memory backend, suitable
// as a base for CLI flag overrides.
func DefaultConfig() Config {
	return Config{
		Backend:          backend.Config{Type: backend.TypeMemory},
		Concurrency:      DefaultConcurrency,
		MaxRetries:       DefaultMaxRetries,
		RetryBase:        DefaultRetryBase,
		RetryCap:         DefaultRetryCap,
		ProgressInterval: progress.DefaultInterval,
		AutoResumeDelay:  DefaultAutoResumeDelay,
		DownloadRefTTL:   DefaultDownloadRefTTL,
		DeferDigestOver:  checksum.DeferThreshold,
		KeyPrefix:        DefaultKeyPrefix,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = DefaultRetryCap
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = progress.DefaultInterval
	}
	if c.AutoResumeDelay <= 0 {
		c.AutoResumeDelay = DefaultAutoResumeDelay
	}
	if c.DownloadRefTTL <= 0 {
		c.DownloadRefTTL = DefaultDownloadRefTTL
	}
	if c.DeferDigestOver <= 0 {
		c.DeferDigestOver = checksum.DeferThreshold
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return c
}

// Engine is the upload orchestrator.
type Engine struct {
	cfg       Config
	store     session.Store
	backend   backend.Backend
	registry  *registry.Registry
	digest    *checksum.Engine
	validator *integrity.Validator
	bus       *events.Bus
	tracker   *progress.Tracker
	queue     taskqueue.Queue
	worker    *taskqueue.Worker
	limiter   *rate.Limiter

	mu      sync.Mutex
	runs    map[string]*run
	sources map[string]source.Source
	closed  bool
	wg      sync.WaitGroup
}

var (
	_ handlers.Digester = (*Engine)(nil)
	_ handlers.Resumer  = (*Engine)(nil)
)

// New builds an Engine, restores persisted sessions, and starts the
// background task worker. The caller must Close the engine.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	b := cfg.BackendClient
	if b == nil {
		var err error
		if b, err = backend.New(cfg.Backend); err != nil {
			return nil, fmt.Errorf("engine backend: %w", err)
		}
	}

	store := cfg.Store
	if store == nil {
		var err error
		switch {
		case cfg.StorePath != "":
			store, err = session.OpenLevelDB(cfg.StorePath)
		case cfg.Redis.Addr != "":
			store, err = session.NewRedis(cfg.Redis)
		default:
			store = session.NewMemory()
			logger.Warn().Msg("engine: no session store configured, uploads will not survive a restart")
		}
		if err != nil {
			return nil, fmt.Errorf("engine session store: %w", err)
		}
	}

	reg := registry.New(store)
	restored, err := reg.Restore(context.Background())
	if err != nil {
		return nil, fmt.Errorf("engine restore sessions: %w", err)
	}
	if restored > 0 {
		logger.Info().Int("uploads", restored).Msg("engine: restored persisted uploads")
	}

	bus := events.NewBus()
	digest := checksum.New(checksum.Config{})
	e := &Engine{
		cfg:       cfg,
		store:     store,
		backend:   b,
		registry:  reg,
		digest:    digest,
		validator: integrity.New(b, digest),
		bus:       bus,
		tracker:   progress.NewTracker(reg, bus, cfg.ProgressInterval),
		queue:     taskqueue.NewMemoryQueue(),
		runs:      make(map[string]*run),
		sources:   make(map[string]source.Source),
	}
	if cfg.BandwidthLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthLimit), 4*limiterQuantum)
	}

	e.worker = taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:    "engine",
		Queue: e.queue,
	})
	e.worker.RegisterHandler(handlers.NewChecksumHandler(e))
	e.worker.RegisterHandler(handlers.NewAutoResumeHandler(e))
	e.worker.Start(context.Background())

	return e, nil
}

// Subscribe attaches a listener to the engine's event feed. The returned
// cancel function must be called to release the subscription.
func (e *Engine) Subscribe(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// Snapshot returns a copy of the upload record.
func (e *Engine) Snapshot(id string) (*types.Upload, error) {
	return e.registry.Get(id)
}

// List returns copies of every upload record, oldest first.
func (e *Engine) List() []*types.Upload {
	return e.registry.List()
}

// Remove deletes a terminal upload record and releases its source.
func (e *Engine) Remove(id string) error {
	if err := e.registry.Delete(id); err != nil {
		return err
	}
	e.detachSource(id)
	return nil
}

// Close stops every in-flight loop, the background worker, the progress
// samplers, and the event bus, then releases the backend and store. Safe to
// call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	srcs := make([]source.Source, 0, len(e.sources))
	for _, s := range e.sources {
		srcs = append(srcs, s)
	}
	e.sources = make(map[string]source.Source)
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	e.wg.Wait()
	e.worker.Stop()
	e.tracker.Close()
	e.bus.Close()

	errs := []error{e.queue.Close()}
	for _, s := range srcs {
		errs = append(errs, s.Close())
	}
	errs = append(errs, e.backend.Close(), e.store.Close())
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) attachSource(id string, src source.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[id] = src
}

func (e *Engine) sourceFor(id string) source.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources[id]
}

func (e *Engine) detachSource(id string) {
	e.mu.Lock()
	src := e.sources[id]
	delete(e.sources, id)
	e.mu.Unlock()
	if src != nil {
		if err := src.Close(); err != nil {
			logger.Debug().Err(err).Str("upload_id", id).Msg("source close")
		}
	}
}

// interrupt cancels the live run loop for id, if any.
func (e *Engine) interrupt(id string) {
	e.mu.Lock()
	r := e.runs[id]
	e.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// setStatus transitions id to `to` when its current status is one of `from`
// (any status when empty), applying extra mutations in the same registry
// critical section. Reports false when another operation superseded the
// transition.
func (e *Engine) setStatus(id string, to types.UploadStatus, mutate func(*types.Upload), from ...types.UploadStatus) (*types.Upload, bool) {
	var prev types.UploadStatus
	updated, err := e.registry.Update(id, func(u *types.Upload) error {
		if len(from) > 0 && !statusIn(u.Status, from) {
			return errSuperseded
		}
		prev = u.Status
		u.Status = to
		if mutate != nil {
			mutate(u)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSuperseded) {
			logger.Debug().Err(err).Str("upload_id", id).Str("to", to.String()).Msg("transition dropped")
		}
		return nil, false
	}
	if prev != to {
		statusTransitions.WithLabelValues(prev.String(), to.String()).Inc()
		e.bus.Publish(events.Event{
			Type:     events.EventStatusChanged,
			UploadID: id,
			From:     prev,
			To:       to,
			Message:  updated.ErrorMessage,
		})
	}
	return updated, true
}

var errSuperseded = errors.New("transition superseded")

func statusIn(s types.UploadStatus, set []types.UploadStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
