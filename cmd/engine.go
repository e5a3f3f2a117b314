// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/zapload/pkg/backend"
	"github.com/LeeDigitalWorks/zapload/pkg/debug"
	"github.com/LeeDigitalWorks/zapload/pkg/engine"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// registerEngineFlags adds the flags shared by every command that opens the
// engine. Values resolve flag > env > zapload.toml > default.
func registerEngineFlags(c *cobra.Command) {
	f := c.Flags()

	f.String("backend_endpoint", "", "S3-compatible endpoint URL (empty for AWS)")
	f.String("backend_region", "us-east-1", "Backend region")
	f.String("backend_bucket", "", "Destination bucket. Required.")
	f.String("backend_access_key", "", "Backend access key (or use the standard AWS env vars)")
	f.String("backend_secret_key", "", "Backend secret key")

	f.String("store_path", "~/.zapload/sessions", "Directory for the local session store (LevelDB)")
	f.String("redis_addr", "", "Redis address for the session store; overrides store_path when set")

	f.Int("concurrency", engine.DefaultConcurrency, "Parallel chunk uploads per file (1-10)")
	f.Int("max_retries", engine.DefaultMaxRetries, "Upload attempts per chunk before the upload fails")
	f.String("bandwidth_limit", "", "Upload rate cap, e.g. '10MB' (bytes per second; empty = unlimited)")
	f.String("key_prefix", engine.DefaultKeyPrefix, "Object key prefix for new uploads")
	f.Int("debug_port", 0, "Debug/metrics HTTP port (0 = disabled)")

	viper.BindPFlags(f)
}

// loadEngineConfig builds the engine configuration from flags, environment,
// and zapload.toml.
func loadEngineConfig(cmd *cobra.Command) engine.Config {
	f := NewFlagLoader(cmd)

	cfg := engine.DefaultConfig()
	cfg.Backend = backend.Config{
		Type:      backend.TypeS3,
		Endpoint:  f.String("backend_endpoint"),
		Region:    f.String("backend_region"),
		Bucket:    f.String("backend_bucket"),
		AccessKey: f.String("backend_access_key"),
		SecretKey: f.String("backend_secret_key"),
	}
	cfg.StorePath = utils.ResolvePath(f.String("store_path"))
	cfg.Redis.Addr = f.String("redis_addr")
	cfg.Redis.Password = viper.GetString("redis_password")
	cfg.Redis.DB = viper.GetInt("redis_db")
	cfg.Concurrency = f.Int("concurrency")
	cfg.MaxRetries = f.Int("max_retries")
	cfg.KeyPrefix = f.String("key_prefix")

	if limit := f.String("bandwidth_limit"); limit != "" {
		bps, err := humanize.ParseBytes(limit)
		if err != nil {
			logger.Fatal().Err(err).Str("bandwidth_limit", limit).Msg("invalid bandwidth limit")
		}
		cfg.BandwidthLimit = int64(bps)
	}
	return cfg
}

// openEngine loads configuration and constructs the engine, restoring any
// persisted sessions. Callers own the returned engine and must Close it.
func openEngine(cmd *cobra.Command) *engine.Engine {
	utils.LoadConfiguration("zapload", false)

	cfg := loadEngineConfig(cmd)
	if cfg.Backend.Bucket == "" {
		logger.Fatal().Msg("no bucket configured: set --backend_bucket or backend_bucket in zapload.toml")
	}

	if port := NewFlagLoader(cmd).Int("debug_port"); port > 0 {
		startDebugServer(port)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start upload engine")
	}
	debug.SetReady()
	return eng
}

func startDebugServer(port int) {
	addr := utils.JoinHostPort("127.0.0.1", port)
	listener, err := utils.NewListener(addr, time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create debug listener")
	}

	httpServer := &http.Server{Handler: debug.GetMux()}
	go func() {
		logger.Info().Str("debug_addr", addr).Msg("Starting debug server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start debug server")
		}
	}()
}
