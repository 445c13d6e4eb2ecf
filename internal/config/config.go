// Package config provides configuration management for pomod.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pomodui/pomod/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the local port the command surface listens on.
	DefaultPort = 4596

	// DefaultHistoryCap bounds the session history; oldest records are
	// evicted first once the cap is reached.
	DefaultHistoryCap = 1000

	// DefaultMaxConns is the sqlite connection pool size.
	DefaultMaxConns = 4
)

// Config holds daemon configuration, stored as YAML in the data directory.
type Config struct {
	Port       int `yaml:"port"`
	MaxConns   int `yaml:"max_conns"`
	HistoryCap int `yaml:"history_cap"`

	// SyncAddr is an optional Redis address for the cross-device synced
	// storage scope. Empty disables the synced scope; everything then lives
	// in the local scope only.
	SyncAddr string `yaml:"sync_addr,omitempty"`

	// NotifyCommand and SoundCommand override the platform defaults for the
	// phase-completion side effects. Both run fire-and-forget.
	NotifyCommand string `yaml:"notify_command,omitempty"`
	SoundCommand  string `yaml:"sound_command,omitempty"`

	Timer models.Settings `yaml:"timer"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:       DefaultPort,
		MaxConns:   DefaultMaxConns,
		HistoryCap: DefaultHistoryCap,
		Timer:      models.DefaultSettings(),
	}
}

// dataDirOverride replaces the default data directory when set.
var dataDirOverride string

// SetDataDir overrides the data directory for every path helper. Empty
// restores the default. Must be called before any store or watcher is
// opened so all state lands in one directory.
func SetDataDir(dir string) {
	dataDirOverride = dir
}

// DataDir returns the pomod data directory (~/.pomod unless overridden).
func DataDir() string {
	if dataDirOverride != "" {
		return dataDirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomod"
	}
	return filepath.Join(home, ".pomod")
}

// DBPath returns the local-scope sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "pomod.db")
}

// HistoryDBPath returns the session history database path.
func HistoryDBPath() string {
	return filepath.Join(DataDir(), "history.db")
}

// ConfigPath returns the YAML config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureConfig writes a default config file if none exists.
func EnsureConfig() error {
	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return Default().Save()
}

// EnsureAll creates the data directory and a default config file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	if err := EnsureConfig(); err != nil {
		return fmt.Errorf("ensure config: %w", err)
	}
	return nil
}

// Load reads the config file, filling any missing fields with defaults.
func Load() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to the config file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// applyDefaults replaces zero or invalid fields with defaults so a partial
// config file never produces an unusable daemon.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.Timer.Validate() != nil {
		c.Timer = models.DefaultSettings()
	}
}
