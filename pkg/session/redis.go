// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// Key is the hash holding all sessions, one field per upload id.
	Key string `mapstructure:"key"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		Key:      "zapload:sessions",
	}
}

// Redis stores all sessions in a single hash so deployments sharing a Redis
// can resume each other's uploads.
type Redis struct {
	client *redis.Client
	key    string
}

var _ Store = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisConfig().Key
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{client: client, key: cfg.Key}, nil
}

// NewRedisWithClient wraps an existing client, for tests.
func NewRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisConfig().Key
	}
	return &Redis{client: client, key: key}
}

func (s *Redis) Load(ctx context.Context) (map[string]types.PersistedUpload, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	records := make(map[string]types.PersistedUpload, len(fields))
	for id, raw := range fields {
		plain, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		var record types.PersistedUpload
		if err := json.Unmarshal(plain, &record); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		records[id] = record
	}
	return records, nil
}

func (s *Redis) Save(ctx context.Context, records map[string]types.PersistedUpload) error {
	fields := make(map[string]any, len(records))
	for id, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		packed, err := encodeRecord(recordAlgorithm, raw)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		fields[id] = packed
	}

	// Replace the hash atomically so removed uploads do not resurrect.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(fields) > 0 {
		pipe.HSet(ctx, s.key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
