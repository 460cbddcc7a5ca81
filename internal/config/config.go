package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinKeepaliveInterval is the smallest non-zero session.keepalive_interval.
const MinKeepaliveInterval = time.Second

// Config holds all application configuration.
type Config struct {
	BLE       BLEConfig     `yaml:"ble"`
	Session   SessionConfig `yaml:"session"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "text" or "json"
}

// BLEConfig selects and identifies the scooter.
type BLEConfig struct {
	Device      string        `yaml:"device"`      // address; empty means scan
	DeviceName  string        `yaml:"device_name"` // advertised name, also the handshake prologue
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	MTU         int           `yaml:"mtu"`
	PeerKey     string        `yaml:"peer_key"` // hex static key to pin; empty accepts any
}

// SessionConfig holds protocol timing and sizing.
type SessionConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"` // 0 disables
	QueueSize         int           `yaml:"queue_size"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "scooter-ble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ScanTimeout: 10 * time.Second,
			MTU:         20,
		},
		Session: SessionConfig{
			HandshakeTimeout:  5 * time.Second,
			RequestTimeout:    2 * time.Second,
			KeepaliveInterval: 10 * time.Second,
			QueueSize:         64,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.BLE.PeerKey = strings.TrimSpace(cfg.BLE.PeerKey)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

const defaultHeader = `# scooter-ble configuration
# device: scooter address (MAC, or CoreBluetooth UUID on macOS). Empty scans.
# peer_key: hex static key of the scooter to pin. Empty accepts any key.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a file was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.MTU < 6 || c.BLE.MTU > 512 {
		return fmt.Errorf("ble.mtu must be between 6 and 512, got %d", c.BLE.MTU)
	}
	if c.BLE.Device == "" && c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0 when ble.device is empty")
	}
	if c.BLE.PeerKey != "" {
		if _, err := c.PeerKeyBytes(); err != nil {
			return err
		}
	}

	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be > 0")
	}
	if c.Session.RequestTimeout <= 0 {
		return fmt.Errorf("session.request_timeout must be > 0")
	}
	if c.Session.KeepaliveInterval < 0 {
		return fmt.Errorf("session.keepalive_interval must not be negative")
	}
	if c.Session.KeepaliveInterval > 0 && c.Session.KeepaliveInterval < MinKeepaliveInterval {
		return fmt.Errorf("session.keepalive_interval must be 0 or at least %s, got %s", MinKeepaliveInterval, c.Session.KeepaliveInterval)
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// PeerKeyBytes decodes ble.peer_key. It returns nil for an empty key.
func (c *Config) PeerKeyBytes() ([]byte, error) {
	if c.BLE.PeerKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.BLE.PeerKey)
	if err != nil {
		return nil, fmt.Errorf("ble.peer_key must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ble.peer_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ParseLogLevel maps a config log level to slog. Unknown values mean info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
