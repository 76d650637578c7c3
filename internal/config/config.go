// Package config loads the YAML configuration shared by the cmd/*
// front ends: which accessory to dial, where the long-term credential
// lives, where to read a pairing PIN from, and how to log.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects which fields LoadWithMode requires: companion-pair
// only needs a target and a PIN source (ValidationPairOnly), companion-ctl
// additionally needs a credential path (ValidationFull), and
// ValidationEmulatorOnly requires only the target. companion-emulator
// itself takes its settings from flags and loads no config.
type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationPairOnly
	ValidationEmulatorOnly
)

// Config is the process configuration for every cmd/* front end.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Auth    AuthConfig    `yaml:"auth"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Log     LogConfig     `yaml:"log"`
}

// TargetConfig identifies the accessory to dial.
type TargetConfig struct {
	Host string `yaml:"host"`
	Port *int   `yaml:"port"`
}

// AuthConfig controls where pairing material comes from and is stored.
type AuthConfig struct {
	PINEnv         string `yaml:"pin_env"`
	CredentialFile string `yaml:"credential_file"`
}

// RuntimeConfig holds per-request behavior.
type RuntimeConfig struct {
	RequestTimeoutMS *int `yaml:"request_timeout_ms"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RequestTimeout returns Runtime.RequestTimeoutMS as a time.Duration,
// or fallback if unset.
func (c *Config) RequestTimeout(fallback time.Duration) time.Duration {
	if c.Runtime.RequestTimeoutMS == nil {
		return fallback
	}
	return time.Duration(*c.Runtime.RequestTimeoutMS) * time.Millisecond
}

// Load reads path and validates it against ValidationFull.
func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

// LoadWithMode reads, decodes, resolves relative paths against path's
// directory, and validates against mode.
func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against ValidationFull.
func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

// ValidateWithMode checks cfg against the fields mode requires.
func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	switch mode {
	case ValidationEmulatorOnly:
		return nil
	case ValidationPairOnly:
		return c.validatePairMode()
	case ValidationFull:
		return c.validateFullMode()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateCommon() error {
	if strings.TrimSpace(c.Target.Host) == "" {
		return fmt.Errorf("config.target.host is required")
	}
	if c.Target.Port == nil {
		return fmt.Errorf("config.target.port is required")
	}
	if *c.Target.Port <= 0 || *c.Target.Port > 65535 {
		return fmt.Errorf("config.target.port must be 1..65535")
	}
	return nil
}

func (c *Config) validatePairMode() error {
	if strings.TrimSpace(c.Auth.PINEnv) == "" {
		return fmt.Errorf("config.auth.pin_env is required")
	}
	return nil
}

func (c *Config) validateFullMode() error {
	if err := c.validatePairMode(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.CredentialFile) == "" {
		return fmt.Errorf("config.auth.credential_file is required")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Auth.CredentialFile = resolvePath(configDir, c.Auth.CredentialFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

// ValidateReadableFile checks that path exists and is a regular file,
// used by cmd/companion-ctl before it tries to parse a credential file.
func ValidateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
