package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device      DeviceConfig   `yaml:"device"`
	Scan        ScanConfig     `yaml:"scan"`
	Transfer    TransferConfig `yaml:"transfer"`
	PayloadPath string         `yaml:"payload_path"`
	LogLevel    string         `yaml:"log_level"`
}

// DeviceConfig identifies the target fixture.
type DeviceConfig struct {
	NamePrefix string `yaml:"name_prefix"`
}

// ScanConfig holds BLE scan timing, in 0.625 ms units.
type ScanConfig struct {
	Interval uint16 `yaml:"interval"`
	Window   uint16 `yaml:"window"`
}

// TransferConfig holds payload transfer tuning.
type TransferConfig struct {
	SliceSize    int `yaml:"slice_size"`
	SliceDelayMs int `yaml:"slice_delay_ms"`
	RetryLimit   int `yaml:"retry_limit"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nfpush")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePrefix: "NF-F2",
		},
		Scan: ScanConfig{
			Interval: 80,
			Window:   48,
		},
		Transfer: TransferConfig{
			SliceSize:    100,
			SliceDelayMs: 20,
			RetryLimit:   3,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in payload_path is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.PayloadPath = expandTilde(cfg.PayloadPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" {
		return fmt.Errorf("device.name_prefix must not be empty")
	}

	if c.Scan.Interval == 0 {
		return fmt.Errorf("scan.interval must be > 0")
	}

	if c.Scan.Window == 0 || c.Scan.Window > c.Scan.Interval {
		return fmt.Errorf("scan.window must be in 1..scan.interval, got %d", c.Scan.Window)
	}

	if c.Transfer.SliceSize < 1 || c.Transfer.SliceSize > 244 {
		return fmt.Errorf("transfer.slice_size must be in 1..244, got %d", c.Transfer.SliceSize)
	}

	if c.Transfer.SliceDelayMs < 0 {
		return fmt.Errorf("transfer.slice_delay_ms must be >= 0, got %d", c.Transfer.SliceDelayMs)
	}

	if c.Transfer.RetryLimit < 0 {
		return fmt.Errorf("transfer.retry_limit must be >= 0, got %d", c.Transfer.RetryLimit)
	}

	if c.PayloadPath == "" {
		return fmt.Errorf("payload_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config file to the default
// path if none exists yet. It returns the written path, or "" when a
// config file is already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}
	content := append([]byte("# nfpush configuration\n"), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level string to a slog.Level,
// defaulting to info for unknown values.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
