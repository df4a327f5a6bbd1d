// Package config provides configuration management for the risk server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and keeps all data in one SQLite file.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Model artifact (local path or gs://bucket/object)
	ModelURI string

	// Hospital that owns locally stored patients
	HospitalID string

	// Timeline cache settings
	CacheMaxItems int
	CacheTTL      time.Duration

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cardio-risk")

	return &LiteConfig{
		DataDir:       dataDir,
		ModelURI:      filepath.Join(dataDir, "cardio_model.json"),
		HospitalID:    "local",
		CacheMaxItems: 500,
		CacheTTL:      5 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set or unparsable.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("CARDIO_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.ModelURI = filepath.Join(v, "cardio_model.json")
	}
	if v := os.Getenv("CARDIO_MODEL_URI"); v != "" {
		cfg.ModelURI = v
	}
	if v := os.Getenv("CARDIO_HOSPITAL_ID"); v != "" {
		cfg.HospitalID = v
	}

	if v := os.Getenv("CARDIO_CACHE_MAX_ITEMS"); v != "" {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("CARDIO_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("CARDIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CARDIO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// StoreDBPath returns the path to the SQLite record store.
func (c *LiteConfig) StoreDBPath() string {
	return filepath.Join(c.DataDir, "cardio.db")
}

// ExportDir returns the directory for retraining exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
