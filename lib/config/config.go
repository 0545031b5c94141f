// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the home configuration file looked up in the user's home
// directory when neither --config nor AETROS_CONFIG names one.
const FileName = "aetros.yml"

// DefaultPort is the control plane port used when the config omits one.
const DefaultPort = 8051

// Config is the agent's home configuration.
type Config struct {
	// Host is the control plane host name.
	Host string `yaml:"host"`

	// Port is the control plane TCP port.
	Port int `yaml:"port"`

	// Key is the account key sent as the registration secret when the
	// server command is not given one explicitly.
	Key string `yaml:"key"`

	// Docker is the container runtime binary.
	Docker string `yaml:"docker"`

	// DockerOptions are extra arguments placed right after
	// "docker run" for every containerized job.
	DockerOptions []string `yaml:"docker_options"`

	// SSHKey is a path to a private key injected into jobs as
	// AETROS_SSH_KEY_BASE64.
	SSHKey string `yaml:"ssh_key"`

	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`

	// Path is the file this configuration was loaded from. Empty when
	// no file existed and the defaults are in effect.
	Path string `yaml:"-"`
}

// StorageConfig locates the per-job git repositories.
type StorageConfig struct {
	// Root holds <job-id>.git and the <job-id> work tree.
	Root string `yaml:"root"`

	// Remote is the git remote jobs are fetched from and pushed to.
	// "{id}" is replaced by the job id. Empty disables fetch and push.
	Remote string `yaml:"remote"`
}

// ServerConfig configures the fleet agent daemon.
type ServerConfig struct {
	Name         string        `yaml:"name"`
	MaxJobs      int           `yaml:"max_jobs"`
	ShowStdout   bool          `yaml:"show_stdout"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists, and the
// base every loaded file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Host:   "trainer.aetros.com",
		Port:   DefaultPort,
		Docker: "docker",
		Storage: StorageConfig{
			Root: filepath.Join(homeDir, ".aetros", "jobs"),
		},
		Server: ServerConfig{
			MaxJobs:      2,
			TickInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the file [Load] reads: AETROS_CONFIG when set,
// otherwise ~/aetros.yml.
func DefaultPath() string {
	if path := os.Getenv("AETROS_CONFIG"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(homeDir, FileName)
}

// Load reads the home configuration from [DefaultPath]. A missing home
// file is not an error: the agent runs on defaults and environment
// overrides. A missing file named by AETROS_CONFIG is.
func Load() (*Config, error) {
	path := DefaultPath()
	cfg, err := LoadFile(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && os.Getenv("AETROS_CONFIG") == "" {
		cfg = Default()
		cfg.applyEnvironmentOverrides()
		cfg.expandVariables()
		return cfg, nil
	}
	return nil, err
}

// LoadFile loads configuration from a specific file path, merged over
// [Default]. API_HOST and API_PORT in the environment override the
// file, and ${VAR} / ${VAR:-default} patterns are expanded in path
// fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.Path = path

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	if host := os.Getenv("API_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("API_PORT"); port != "" {
		if value, err := strconv.Atoi(port); err == nil {
			c.Port = value
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Storage.Root = expandVars(c.Storage.Root, vars)
	c.SSHKey = expandVars(c.SSHKey, vars)
	for i, option := range c.DockerOptions {
		c.DockerOptions[i] = expandVars(option, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. A leading "~/"
// is treated as ${HOME}/.
func expandVars(s string, vars map[string]string) string {
	if strings.HasPrefix(s, "~/") {
		s = "${HOME}" + s[1:]
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Address returns host:port of the control plane.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to info
// and are reported by [Config.Validate].
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, fmt.Errorf("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if c.Docker == "" {
		errs = append(errs, fmt.Errorf("docker is required"))
	}
	if c.Storage.Root == "" {
		errs = append(errs, fmt.Errorf("storage.root is required"))
	}
	if c.Server.MaxJobs < 1 {
		errs = append(errs, fmt.Errorf("server.max_jobs must be at least 1, got %d", c.Server.MaxJobs))
	}
	if c.Server.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_interval must be positive, got %s", c.Server.TickInterval))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the storage root if it does not exist.
func (c *Config) EnsurePaths() error {
	if c.Storage.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Storage.Root, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Storage.Root, err)
	}
	return nil
}
