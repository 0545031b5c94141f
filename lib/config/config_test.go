// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8051 {
		t.Errorf("expected port=8051, got %d", cfg.Port)
	}
	if cfg.Docker != "docker" {
		t.Errorf("expected docker=docker, got %s", cfg.Docker)
	}
	if cfg.Server.MaxJobs != 2 {
		t.Errorf("expected max_jobs=2, got %d", cfg.Server.MaxJobs)
	}
	if cfg.Server.TickInterval != time.Second {
		t.Errorf("expected tick_interval=1s, got %s", cfg.Server.TickInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("API_HOST", "")
	t.Setenv("API_PORT", "")
	t.Setenv("HOME", "/home/trainer")

	path := writeConfig(t, `
host: ctl.example.com
port: 9000
key: secret
docker_options: ["--shm-size", "1g"]
ssh_key: ~/.ssh/id_ed25519
storage:
  root: ${HOME}/jobs
  remote: git@ctl.example.com:jobs/{id}.git
server:
  name: gpu-01
  max_jobs: 4
  show_stdout: true
  tick_interval: 250ms
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
	if cfg.Address() != "ctl.example.com:9000" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Key != "secret" {
		t.Errorf("Key = %q", cfg.Key)
	}
	if cfg.Docker != "docker" {
		t.Errorf("Docker should keep its default, got %q", cfg.Docker)
	}
	if len(cfg.DockerOptions) != 2 || cfg.DockerOptions[1] != "1g" {
		t.Errorf("DockerOptions = %v", cfg.DockerOptions)
	}
	if cfg.SSHKey != "/home/trainer/.ssh/id_ed25519" {
		t.Errorf("SSHKey = %q", cfg.SSHKey)
	}
	if cfg.Storage.Root != "/home/trainer/jobs" {
		t.Errorf("Storage.Root = %q", cfg.Storage.Root)
	}
	if cfg.Server.Name != "gpu-01" || cfg.Server.MaxJobs != 4 || !cfg.Server.ShowStdout {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %s", cfg.Server.TickInterval)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v", cfg.SlogLevel())
	}
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	t.Setenv("API_HOST", "override.example.com")
	t.Setenv("API_PORT", "7000")

	cfg, err := LoadFile(writeConfig(t, "host: file.example.com\nport: 9000\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Address() != "override.example.com:7000" {
		t.Errorf("Address() = %q, want environment override", cfg.Address())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "port: [not a number\n")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoad_MissingHomeFileUsesDefaults(t *testing.T) {
	t.Setenv("AETROS_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("API_HOST", "")
	t.Setenv("API_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty when no file exists", cfg.Path)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	t.Setenv("AETROS_CONFIG", filepath.Join(t.TempDir(), "nope.yml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error when AETROS_CONFIG names a missing file")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := writeConfig(t, "host: env.example.com\n")
	t.Setenv("AETROS_CONFIG", path)
	t.Setenv("API_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "env.example.com" {
		t.Errorf("Host = %q", cfg.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port must be"},
		{"no docker", func(c *Config) { c.Docker = "" }, "docker is required"},
		{"zero jobs", func(c *Config) { c.Server.MaxJobs = 0 }, "max_jobs"},
		{"zero tick", func(c *Config) { c.Server.TickInterval = 0 }, "tick_interval"},
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("AETROS_TEST_SET", "from-env")
	t.Setenv("AETROS_TEST_UNSET", "")

	vars := map[string]string{"HOME": "/home/a"}
	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/x", "/home/a/x"},
		{"~/x", "/home/a/x"},
		{"${AETROS_TEST_SET}", "from-env"},
		{"${AETROS_TEST_UNSET:-fallback}", "fallback"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.input, vars); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.Root = filepath.Join(t.TempDir(), "a", "b")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	if info, err := os.Stat(cfg.Storage.Root); err != nil || !info.IsDir() {
		t.Fatalf("storage root not created: %v", err)
	}
}
