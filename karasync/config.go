// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds tuning knobs for the sync engine.
type Config struct {
	// CacheTTL is the per-type validity window; types not listed fall back
	// to DefaultTTL.
	CacheTTL   map[EntityType]time.Duration
	DefaultTTL time.Duration

	SyncInterval time.Duration // background cycle period
	CallTimeout  time.Duration // per remote call
	MaxRetries   int           // attempts per operation before dead-letter
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	CommentPageSize int // page size for comprehensive comment warm-up
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:        map[EntityType]time.Duration{},
		DefaultTTL:      24 * time.Hour,
		SyncInterval:    45 * time.Second,
		CallTimeout:     10 * time.Second,
		MaxRetries:      3,
		BackoffMin:      1 * time.Second,
		BackoffMax:      60 * time.Second,
		CommentPageSize: 50,
	}
}

// TTLFor returns the validity window for an entity type.
func (c *Config) TTLFor(t EntityType) time.Duration {
	if ttl, ok := c.CacheTTL[t]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// configFile is the on-disk YAML shape; durations are Go duration strings
// ("24h", "45s").
type configFile struct {
	CacheTTL        map[string]string `yaml:"cache_ttl"`
	DefaultTTL      string            `yaml:"default_ttl"`
	SyncInterval    string            `yaml:"sync_interval"`
	CallTimeout     string            `yaml:"call_timeout"`
	MaxRetries      int               `yaml:"max_retries"`
	BackoffMin      string            `yaml:"backoff_min"`
	BackoffMax      string            `yaml:"backoff_max"`
	CommentPageSize int               `yaml:"comment_page_size"`
}

// LoadConfig reads a YAML config file and overlays it on DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	set := func(dst *time.Duration, value, field string) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		*dst = d
		return nil
	}
	if err := set(&cfg.DefaultTTL, file.DefaultTTL, "default_ttl"); err != nil {
		return nil, err
	}
	if err := set(&cfg.SyncInterval, file.SyncInterval, "sync_interval"); err != nil {
		return nil, err
	}
	if err := set(&cfg.CallTimeout, file.CallTimeout, "call_timeout"); err != nil {
		return nil, err
	}
	if err := set(&cfg.BackoffMin, file.BackoffMin, "backoff_min"); err != nil {
		return nil, err
	}
	if err := set(&cfg.BackoffMax, file.BackoffMax, "backoff_max"); err != nil {
		return nil, err
	}
	if file.MaxRetries > 0 {
		cfg.MaxRetries = file.MaxRetries
	}
	if file.CommentPageSize > 0 {
		cfg.CommentPageSize = file.CommentPageSize
	}
	for name, value := range file.CacheTTL {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_ttl for %s: %w", name, err)
		}
		cfg.CacheTTL[EntityType(name)] = d
	}
	return cfg, nil
}
