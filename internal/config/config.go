// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for modelwatch. It handles
// loading and parsing the YAML configuration file and applies environment
// overrides for secrets so API keys never need to live in the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey is the environment variable consulted for the catalog API key
// when the config file leaves it empty.
const EnvAPIKey = "MODELWATCH_API_KEY"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// LibraryRoots are the directories scanned for locally held models.
	LibraryRoots []string `yaml:"library-roots"`

	// DBPath is the SQLite file backing the update tracking store.
	DBPath string `yaml:"db-path"`

	// ArchivePath points at the offline catalog snapshot (".db" or ".db.zst").
	// Empty disables the archive provider.
	ArchivePath string `yaml:"archive-path"`

	// CivitaiBaseURL overrides the authoritative API host; empty selects the
	// public endpoint.
	CivitaiBaseURL string `yaml:"civitai-base-url"`

	// MirrorBaseURL enables the mirror provider when non-empty.
	MirrorBaseURL string `yaml:"mirror-base-url"`

	// APIKey authenticates requests to the authoritative API. The
	// MODELWATCH_API_KEY environment variable takes precedence.
	APIKey string `yaml:"api-key"`

	// ProviderOrder is the fallback consultation order. Empty means the
	// default provider alone.
	ProviderOrder []string `yaml:"provider-order"`

	// UpdateTTLHours is how long a model check stays fresh. Zero selects the
	// 24 hour default.
	UpdateTTLHours int `yaml:"update-ttl-hours"`

	// RateLimitRetries is the extra attempts made against a rate-limited
	// provider before surfacing the condition. Zero selects the default.
	RateLimitRetries int `yaml:"rate-limit-retries"`

	// RequestsPerSecond caps outgoing catalog requests. Zero disables
	// client-side pacing.
	RequestsPerSecond float64 `yaml:"requests-per-second"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsDir is where rotated log files are written.
	LogsDir string `yaml:"logs-dir"`
}

// DefaultDataDir returns the per-user data directory for modelwatch state.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".modelwatch"
	}
	return filepath.Join(home, ".modelwatch")
}

// LoadConfig reads and parses the YAML file at path, then applies defaults
// and environment overrides. A missing file yields a default configuration
// rather than an error so first runs work without any setup.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyDefaults()
	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.APIKey = key
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	dataDir := DefaultDataDir()
	if c.DBPath == "" {
		c.DBPath = filepath.Join(dataDir, "tracking.db")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(dataDir, "logs")
	}
	if c.UpdateTTLHours < 0 {
		c.UpdateTTLHours = 0
	}
}

// Save writes the configuration back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
