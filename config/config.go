// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the reprocheck configuration file.
//
// Configuration comes from a single YAML file named by the
// REPROCHECK_CONFIG environment variable or the --config flag. There
// is no automatic discovery: no file means built-in defaults, and a
// named file that fails to load is an error rather than a silent
// fallback.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reprotools/reprocheck/variation"
)

// EnvVar names the environment variable that points at the config
// file when --config is not given.
const EnvVar = "REPROCHECK_CONFIG"

// Config is the file-level configuration. Command-line flags override
// everything here; the variations directives in particular are only
// the base that --variations resets away from.
type Config struct {
	// Variations is directive text applied on top of the registry
	// defaults before any command-line directives.
	Variations string `yaml:"variations"`

	// Backend selects the build environment; empty means "local".
	Backend string `yaml:"backend"`

	// BackendArgs are passed to the backend's Start.
	BackendArgs []string `yaml:"backend_args"`

	// StoreDir, when set, receives per-role artifact copies and the
	// checksum manifests of every run.
	StoreDir string `yaml:"store_dir"`

	// StoreArchive writes zstd tar archives instead of plain
	// directory copies into StoreDir.
	StoreArchive bool `yaml:"store_archive"`

	// ExtraBuilds is the number of experiment builds beyond the
	// first. Every experiment must match the control.
	ExtraBuilds int `yaml:"extra_builds"`

	// BuildTimeout bounds each build command; zero means no limit.
	BuildTimeout Duration `yaml:"build_timeout"`

	// NoDiffoscope disables the external diffoscope report.
	NoDiffoscope bool `yaml:"no_diffoscope"`

	// DiffoscopeArgs are extra diffoscope arguments.
	DiffoscopeArgs []string `yaml:"diffoscope_args"`

	// TestbedPre is a host-side shell command run against a copy of
	// the source tree before any backend starts (dependency
	// preparation).
	TestbedPre string `yaml:"testbed_pre"`

	// TestbedInit is a shell command run inside each session before
	// the build.
	TestbedInit string `yaml:"testbed_init"`
}

// Duration wraps time.Duration for YAML ("90s", "15m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{Backend: "local"}
}

// Load reads the configuration file at path. An empty path falls back
// to the EnvVar environment variable; when that is also empty the
// defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := variation.Parse(c.Variations); err != nil {
		return fmt.Errorf("variations: %w", err)
	}
	if c.ExtraBuilds < 0 {
		return fmt.Errorf("extra_builds must be >= 0, got %d", c.ExtraBuilds)
	}
	if time.Duration(c.BuildTimeout) < 0 {
		return fmt.Errorf("build_timeout must be >= 0")
	}
	return nil
}
