// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config centralizes all configurable values used across the
// Proposal Prepper client core: API transport settings, WebSocket
// reconnection policy, upload validation limits, and analysis polling
// budgets.
//
// Configuration is resolved in three layers, later layers overriding
// earlier ones:
//
//  1. Compiled defaults (Default)
//  2. Optional YAML config file (Load)
//  3. PREPPER_* environment variables (applied by Load)
//
// A missing config file is not an error; the defaults simply stand.
// The resolved config is validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config contains all client-core configuration.
//
// Thread Safety: safe to read concurrently, not safe to modify after
// creation. Components copy the sections they need at construction.
type Config struct {
	// API contains HTTP transport settings.
	API APIConfig `json:"api" yaml:"api"`

	// Websocket contains reconnection policy for the push channel.
	Websocket WebsocketConfig `json:"websocket" yaml:"websocket"`

	// Upload contains file validation limits and upload policy.
	Upload UploadConfig `json:"upload" yaml:"upload"`

	// Analysis contains polling and timeout budgets.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
}

// APIConfig contains HTTP transport settings.
type APIConfig struct {
	// BaseURL is the AI Router service root, e.g. "http://localhost:8080".
	BaseURL string `json:"base_url" yaml:"base_url" validate:"required,url"`

	// UseMock routes callers at the mock backend instead of the real
	// service. The transport itself does not change behavior; the flag
	// only selects the base URL wiring in cmd/ consumers.
	UseMock bool `json:"use_mock" yaml:"use_mock"`

	// RequestTimeout bounds every individual HTTP attempt.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" validate:"gt=0"`

	// MaxRetries is the number of retries after the first attempt.
	// A request performs at most MaxRetries+1 attempts.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0"`

	// RetryDelay is the linear backoff unit: attempt N waits N*RetryDelay.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" validate:"gt=0"`

	// HealthCheckCache is how long a health verdict is trusted before
	// a fresh probe is issued.
	HealthCheckCache time.Duration `json:"health_check_cache" yaml:"health_check_cache" validate:"gt=0"`

	// RequestsPerSecond caps the client-side request rate. Zero
	// disables rate limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
}

// WebsocketConfig contains reconnection policy for the push channel.
type WebsocketConfig struct {
	// ReconnectInterval is the backoff unit: reconnect attempt N waits
	// N*ReconnectInterval.
	ReconnectInterval time.Duration `json:"reconnect_interval" yaml:"reconnect_interval" validate:"gt=0"`

	// MaxReconnectAttempts caps consecutive reconnect attempts. A
	// successful reconnect resets the counter.
	MaxReconnectAttempts int `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts" validate:"gt=0"`
}

// UploadConfig contains file validation limits and upload policy.
type UploadConfig struct {
	// AcceptedTypes lists accepted MIME types (PDF only for MVP).
	AcceptedTypes []string `json:"accepted_types" yaml:"accepted_types" validate:"min=1"`

	// MaxFileSize is the largest accepted file in bytes.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size" validate:"gt=0"`

	// MinFileSize is the smallest accepted file in bytes. Anything
	// below this cannot be a valid PDF.
	MinFileSize int64 `json:"min_file_size" yaml:"min_file_size" validate:"gt=0"`

	// MaxFilenameLength bounds the filename in characters.
	MaxFilenameLength int `json:"max_filename_length" yaml:"max_filename_length" validate:"gt=0"`

	// MaxConcurrentUploads bounds simultaneous uploads. The default
	// single-concurrency policy keeps progress reporting unambiguous.
	MaxConcurrentUploads int `json:"max_concurrent_uploads" yaml:"max_concurrent_uploads" validate:"gt=0"`
}

// AnalysisConfig contains polling and timeout budgets.
type AnalysisConfig struct {
	// Timeout is the overall wall-clock budget for one analysis run.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`

	// PollInterval is the status polling cadence while push is silent.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" validate:"gt=0"`

	// Frameworks lists the supported compliance frameworks.
	Frameworks []string `json:"frameworks" yaml:"frameworks" validate:"min=1,dive,oneof=FAR DFARS"`

	// MaxProposalIDLength bounds the proposal identifier.
	MaxProposalIDLength int `json:"max_proposal_id_length" yaml:"max_proposal_id_length" validate:"gt=0"`
}

// Cache TTLs for the HTTP GET cache, per endpoint family. These mirror
// the server's data volatility: upload status settles quickly, results
// are immutable once produced.
const (
	// UploadStatusTTL caches GET /api/documents/upload/{id}.
	UploadStatusTTL = 30 * time.Second

	// AnalysisStatusTTL caches GET /api/analysis/{id}.
	AnalysisStatusTTL = 15 * time.Second

	// ResultsTTL caches GET /api/analysis/{id}/results.
	ResultsTTL = 5 * time.Minute

	// IssueDetailTTL caches GET /api/results/issues/{id}.
	IssueDetailTTL = 10 * time.Minute
)

// Default returns the compiled default configuration.
//
// The values match the documented contract: 30s request timeout,
// 3 retries with 1s linear backoff, 5s/10-attempt WebSocket reconnect,
// PDF-only uploads between 1KB and 100MB, 10-minute analysis budget
// polled at 1s.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:          "http://localhost:8080",
			RequestTimeout:   30 * time.Second,
			MaxRetries:       3,
			RetryDelay:       time.Second,
			HealthCheckCache: 30 * time.Second,
		},
		Websocket: WebsocketConfig{
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 10,
		},
		Upload: UploadConfig{
			AcceptedTypes:        []string{"application/pdf"},
			MaxFileSize:          100 * 1024 * 1024,
			MinFileSize:          1024,
			MaxFilenameLength:    255,
			MaxConcurrentUploads: 1,
		},
		Analysis: AnalysisConfig{
			Timeout:             10 * time.Minute,
			PollInterval:        time.Second,
			Frameworks:          []string{"FAR", "DFARS"},
			MaxProposalIDLength: 128,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file,
// and PREPPER_* environment variables, then validates the result.
//
// # Inputs
//
//   - path: YAML config file path; empty or missing file uses defaults
//
// # Outputs
//
//   - Config: resolved configuration
//   - error: non-nil if the file is unreadable/unparseable or the
//     resolved config fails validation
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against its declared constraints.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("PREPPER_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("PREPPER_USE_MOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.API.UseMock = b
		}
	}
	if v := os.Getenv("PREPPER_REQUEST_TIMEOUT_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.API.RequestTimeout = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("PREPPER_MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.API.MaxRetries = i
		}
	}
	if v := os.Getenv("PREPPER_RETRY_DELAY_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.API.RetryDelay = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("PREPPER_WS_RECONNECT_INTERVAL_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Websocket.ReconnectInterval = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("PREPPER_WS_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Websocket.MaxReconnectAttempts = i
		}
	}
	if v := os.Getenv("PREPPER_ANALYSIS_TIMEOUT_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.Timeout = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("PREPPER_POLL_INTERVAL_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.PollInterval = time.Duration(i) * time.Millisecond
		}
	}
}
