package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DeviceName        string          `yaml:"device_name"`
	Timeout           time.Duration   `yaml:"timeout"`
	PollInterval      time.Duration   `yaml:"poll_interval"`
	AutoRestart       bool            `yaml:"auto_restart"`
	RestartBackoffMax int             `yaml:"restart_backoff_max"` // seconds
	BondStore         BondStoreConfig `yaml:"bond_store"`
	LatestIRK         LatestIRKConfig `yaml:"latest_irk"`
	Hotkey            HotkeyConfig    `yaml:"hotkey"`
	LogLevel          string          `yaml:"log_level"`
}

// BondStoreConfig locates the platform bond store.
type BondStoreConfig struct {
	Path               string `yaml:"path"`
	Adapter            string `yaml:"adapter"`    // D-Bus adapter name, e.g. hci0
	AdapterID          string `yaml:"adapter_id"` // controller address directory; empty = auto
	ByteOrder          string `yaml:"byte_order"` // "msb" or "lsb"
	RemoveAfterCapture bool   `yaml:"remove_after_capture"`
}

// LatestIRKConfig controls how the latest IRK is exposed.
type LatestIRKConfig struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`     // sealed store; empty disables persistence
	KeyFile string `yaml:"key_file"` // store key, created on first use
	Output  string `yaml:"output"`   // "none", "type" or "paste"
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
	Mode    string   `yaml:"mode"` // "toggle" or "trigger"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "irk-enroll")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName:        "IRK Collector",
		Timeout:           60 * time.Second,
		PollInterval:      500 * time.Millisecond,
		AutoRestart:       false,
		RestartBackoffMax: 30,
		BondStore: BondStoreConfig{
			Path:               "/var/lib/bluetooth",
			Adapter:            "hci0",
			ByteOrder:          "msb",
			RemoveAfterCapture: true,
		},
		LatestIRK: LatestIRKConfig{
			Name:    "Latest IRK",
			Path:    "~/.local/share/irk-enroll/latest_irk.bin",
			KeyFile: "~/.local/share/irk-enroll/store.key",
			Output:  "none",
		},
		Hotkey: HotkeyConfig{
			Enabled: false,
			Keys:    []string{"ctrl", "shift", "i"},
			Mode:    "toggle",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ExpandPaths()

	return cfg, nil
}

// ExpandPaths expands a leading ~ in every file path. Load calls it; use it
// directly when running on Default.
func (c *Config) ExpandPaths() {
	c.BondStore.Path = expandTilde(c.BondStore.Path)
	c.LatestIRK.Path = expandTilde(c.LatestIRK.Path)
	c.LatestIRK.KeyFile = expandTilde(c.LatestIRK.KeyFile)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	// Legacy advertising carries at most 29 bytes of AD payload.
	if len(c.DeviceName) > 29 {
		return fmt.Errorf("device_name must be at most 29 bytes, got %d", len(c.DeviceName))
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.PollInterval > c.Timeout {
		return fmt.Errorf("poll_interval (%s) must not exceed timeout (%s)", c.PollInterval, c.Timeout)
	}
	if c.RestartBackoffMax <= 0 {
		return fmt.Errorf("restart_backoff_max must be > 0")
	}

	if c.BondStore.Path == "" {
		return fmt.Errorf("bond_store.path must not be empty")
	}
	switch c.BondStore.ByteOrder {
	case "msb", "lsb":
	default:
		return fmt.Errorf("bond_store.byte_order must be \"msb\" or \"lsb\", got %q", c.BondStore.ByteOrder)
	}

	if c.LatestIRK.Path != "" && c.LatestIRK.KeyFile == "" {
		return fmt.Errorf("latest_irk.key_file is required when latest_irk.path is set")
	}
	switch c.LatestIRK.Output {
	case "none", "type", "paste":
	default:
		return fmt.Errorf("latest_irk.output must be none, type, or paste, got %q", c.LatestIRK.Output)
	}

	if c.Hotkey.Enabled {
		if len(c.Hotkey.Keys) == 0 {
			return fmt.Errorf("hotkey.keys must not be empty")
		}
		switch c.Hotkey.Mode {
		case "toggle", "trigger":
		default:
			return fmt.Errorf("hotkey.mode must be \"toggle\" or \"trigger\", got %q", c.Hotkey.Mode)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

// defaultYAML mirrors Default. Durations are written as strings because
// yaml.v3 refuses to decode integers into time.Duration.
const defaultYAML = `# irk-enroll configuration
# Name advertised to centrals (at most 29 bytes).
device_name: IRK Collector
# How long a session may advertise or wait for a bond before it is cancelled.
timeout: 60s
poll_interval: 500ms
# Start a new session whenever one ends.
auto_restart: false
restart_backoff_max: 30

bond_store:
  path: /var/lib/bluetooth
  adapter: hci0
  # Controller address directory under path; empty picks the only one.
  adapter_id: ""
  # Byte order of the stored IRK: msb (BlueZ) or lsb.
  byte_order: msb
  remove_after_capture: true

latest_irk:
  name: Latest IRK
  path: ~/.local/share/irk-enroll/latest_irk.bin
  key_file: ~/.local/share/irk-enroll/store.key
  # none, type or paste the IRK into the focused window.
  output: none

hotkey:
  enabled: false
  keys: [ctrl, shift, i]
  # toggle: press to start, press again to cancel. trigger: press to start.
  mode: toggle

log_level: info
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultYAML), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
