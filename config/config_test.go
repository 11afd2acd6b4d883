// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reprocheck.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "local" {
		t.Errorf("default backend = %q, want local", cfg.Backend)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"variations: -time, num_cpus.min=2",
		"backend: chroot",
		"backend_args: [/srv/chroot/sid]",
		"extra_builds: 2",
		"build_timeout: 45m",
		"no_diffoscope: true",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "chroot" || len(cfg.BackendArgs) != 1 {
		t.Errorf("backend = %q %v", cfg.Backend, cfg.BackendArgs)
	}
	if cfg.ExtraBuilds != 2 {
		t.Errorf("extra_builds = %d", cfg.ExtraBuilds)
	}
	if time.Duration(cfg.BuildTimeout) != 45*time.Minute {
		t.Errorf("build_timeout = %v", time.Duration(cfg.BuildTimeout))
	}
	if !cfg.NoDiffoscope {
		t.Error("no_diffoscope not honored")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := writeConfig(t, "backend: chroot\n")
	t.Setenv(EnvVar, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "chroot" {
		t.Errorf("backend = %q, want chroot from %s", cfg.Backend, EnvVar)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bakend: local\n")
	if _, err := Load(path); err == nil {
		t.Error("misspelled key should be rejected")
	}
}

func TestLoadRejectsBadVariationSyntax(t *testing.T) {
	path := writeConfig(t, "variations: 'time.='\n")
	if _, err := Load(path); err == nil {
		t.Error("invalid directive syntax should be rejected at load time")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "build_timeout: fast\n")
	if _, err := Load(path); err == nil {
		t.Error("unparseable duration should be rejected")
	}
}

func TestLoadMissingNamedFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("explicitly named missing config should be an error, not a fallback")
	}
}
