// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Caretaker
// components.
//
// Configuration is loaded from a single YAML file specified by:
//   - CARETAKER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, production) that override base values when the
// environment matches. The helper's allowlist and trust-root key are
// deliberately NOT configurable here — they are compiled into the
// helper binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for end-user installs.
	Production Environment = "production"
)

// Config is the master configuration for Caretaker.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Execute configures child-process execution.
	Execute ExecuteConfig `yaml:"execute"`

	// EnvironmentOverrides are applied after the base config loads.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Execute *ExecuteConfig `yaml:"execute,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Catalog is the JSONC capability catalog file.
	Catalog string `yaml:"catalog"`

	// AuditLog is the caller-side audit database. The helper's
	// system-level audit database is configured on the helper command
	// line, not here — the caller must not be able to point the
	// helper's log somewhere it controls.
	AuditLog string `yaml:"audit_log"`

	// HelperSocket is the Unix socket the installed helper listens on.
	HelperSocket string `yaml:"helper_socket"`

	// HelperInstallDir is where the helper binary and its install
	// manifest live.
	HelperInstallDir string `yaml:"helper_install_dir"`

	// HelperSource is the bundled helper binary the installer copies
	// from.
	HelperSource string `yaml:"helper_source"`

	// StateDir holds app state, including the proof signing keypair.
	StateDir string `yaml:"state_dir"`
}

// ExecuteConfig configures child-process execution.
type ExecuteConfig struct {
	// DefaultTimeout applies when a caller does not supply one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`
}

// EnvVar is the environment variable naming the config file.
const EnvVar = "CARETAKER_CONFIG"

// Load reads the config file at path. If path is empty, the
// CARETAKER_CONFIG environment variable is consulted. Returns an
// error if neither names a readable file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set %s", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.applyOverrides(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields with production defaults.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = Production
	}
	if c.Execute.DefaultTimeout == 0 {
		c.Execute.DefaultTimeout = 2 * time.Minute
	}
	if c.Execute.MaxOutputBytes == 0 {
		c.Execute.MaxOutputBytes = 1 << 20
	}
	if c.Paths.HelperSocket == "" {
		c.Paths.HelperSocket = "/var/run/caretaker/helper.sock"
	}
}

// applyOverrides merges the section matching c.Environment over the
// base values.
func (c *Config) applyOverrides() error {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if overrides == nil {
		return nil
	}
	if overrides.Paths != nil {
		mergePaths(&c.Paths, overrides.Paths)
	}
	if overrides.Execute != nil {
		if overrides.Execute.DefaultTimeout != 0 {
			c.Execute.DefaultTimeout = overrides.Execute.DefaultTimeout
		}
		if overrides.Execute.MaxOutputBytes != 0 {
			c.Execute.MaxOutputBytes = overrides.Execute.MaxOutputBytes
		}
	}
	return nil
}

func mergePaths(base, over *PathsConfig) {
	if over.Catalog != "" {
		base.Catalog = over.Catalog
	}
	if over.AuditLog != "" {
		base.AuditLog = over.AuditLog
	}
	if over.HelperSocket != "" {
		base.HelperSocket = over.HelperSocket
	}
	if over.HelperInstallDir != "" {
		base.HelperInstallDir = over.HelperInstallDir
	}
	if over.HelperSource != "" {
		base.HelperSource = over.HelperSource
	}
	if over.StateDir != "" {
		base.StateDir = over.StateDir
	}
}
