// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package config loads the CLI's general configuration: where the
// metrics database and outlined-function cache live, what the default
// GC/EH version floor is, and how verbose logging should be. It layers
// environment variables over an optional JSON file the same way the
// teacher's config package layered WASMGCOPT_* env vars over a file on
// disk, minus the network/RPC concerns this module has no use for.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/dotandev/wasmgcopt/internal/errors"
)

// Config holds the module's general configuration.
type Config struct {
	LogLevel      string `json:"log_level,omitempty"`
	CachePath     string `json:"cache_path,omitempty"`
	MetricsPath   string `json:"metrics_path,omitempty"`
	MinGCVersion  string `json:"min_gc_version,omitempty"`
	MinEHVersion  string `json:"min_eh_version,omitempty"`
	MaxArraySize  int    `json:"max_array_size,omitempty"`
	JSONLogs      bool   `json:"json_logs,omitempty"`
	TelemetryURL  string `json:"telemetry_url,omitempty"`
	TelemetryOn   bool   `json:"telemetry_on,omitempty"`
}

var defaultConfig = &Config{
	LogLevel:     "info",
	CachePath:    filepath.Join(os.ExpandEnv("$HOME"), ".wasmgcopt", "cache"),
	MetricsPath:  filepath.Join(os.ExpandEnv("$HOME"), ".wasmgcopt", "metrics.db"),
	MinGCVersion: "1.0.0",
	MinEHVersion: "1.0.0",
	MaxArraySize: 20,
}

// DefaultConfig returns a copy of the module's built-in defaults.
func DefaultConfig() *Config {
	cfg := *defaultConfig
	return &cfg
}

// GetConfigPath returns the directory holding the module's config file,
// creating it if it does not already exist.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WrapInvalidConfig("could not resolve home directory", err)
	}
	dir := filepath.Join(home, ".wasmgcopt")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.WrapInvalidConfig("could not create config directory", err)
	}
	return dir, nil
}

// GetGeneralConfigPath returns the path to the general JSON config file.
func GetGeneralConfigPath() (string, error) {
	dir, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load builds the configuration from defaults, an optional JSON config
// file, and environment variable overrides (in that order of increasing
// precedence), then validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	path, err := GetGeneralConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WrapInvalidConfig("failed to read config file", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return errors.WrapInvalidConfig("failed to parse config file", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("WASMGCOPT_LOG_LEVEL", c.LogLevel)
	c.CachePath = getEnv("WASMGCOPT_CACHE_PATH", c.CachePath)
	c.MetricsPath = getEnv("WASMGCOPT_METRICS_PATH", c.MetricsPath)
	c.MinGCVersion = getEnv("WASMGCOPT_MIN_GC_VERSION", c.MinGCVersion)
	c.MinEHVersion = getEnv("WASMGCOPT_MIN_EH_VERSION", c.MinEHVersion)
	c.TelemetryURL = getEnv("WASMGCOPT_TELEMETRY_URL", c.TelemetryURL)

	switch strings.ToLower(os.Getenv("WASMGCOPT_JSON_LOGS")) {
	case "1", "true", "yes":
		c.JSONLogs = true
	}
	switch strings.ToLower(os.Getenv("WASMGCOPT_TELEMETRY")) {
	case "1", "true", "yes":
		c.TelemetryOn = true
	}
}

// Save writes the configuration to the general JSON config file.
func Save(cfg *Config) error {
	path, err := GetGeneralConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.WrapInvalidConfig("failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.WrapInvalidConfig("failed to write config file", err)
	}
	return nil
}

// Validate checks that the configuration's version floors parse as
// semver and that MaxArraySize is sane.
func (c *Config) Validate() error {
	if _, err := goversion.NewVersion(c.MinGCVersion); err != nil {
		return errors.WrapInvalidConfig("min_gc_version is not a valid version", err)
	}
	if _, err := goversion.NewVersion(c.MinEHVersion); err != nil {
		return errors.WrapInvalidConfig("min_eh_version is not a valid version", err)
	}
	if c.MaxArraySize <= 0 {
		return errors.WrapInvalidConfig("max_array_size must be positive", nil)
	}
	return nil
}

// MeetsGCVersion reports whether a module-declared GC version string
// satisfies this configuration's floor.
func (c *Config) MeetsGCVersion(declared string) (bool, error) {
	return meetsFloor(declared, c.MinGCVersion)
}

// MeetsEHVersion reports whether a module-declared EH version string
// satisfies this configuration's floor.
func (c *Config) MeetsEHVersion(declared string) (bool, error) {
	return meetsFloor(declared, c.MinEHVersion)
}

func meetsFloor(declared, floor string) (bool, error) {
	dv, err := goversion.NewVersion(declared)
	if err != nil {
		return false, errors.WrapInvalidConfig("declared version is not valid", err)
	}
	fv, err := goversion.NewVersion(floor)
	if err != nil {
		return false, errors.WrapInvalidConfig("floor version is not valid", err)
	}
	return dv.Compare(fv) >= 0, nil
}

func (c *Config) String() string {
	return "Config{LogLevel: " + c.LogLevel + ", CachePath: " + c.CachePath +
		", MetricsPath: " + c.MetricsPath + ", MinGCVersion: " + c.MinGCVersion +
		", MinEHVersion: " + c.MinEHVersion + "}"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
