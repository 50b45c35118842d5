// Package appconfig manages tej's ambient, client-side configuration: the
// connect timeout, default queue path, verbosity, and runtime acceptance
// list a user wants applied across invocations. Of these, the CLI reads only
// DefaultQueue; the other fields are loaded and saved but no command consults
// them. This is preference state, not job state — tej's controller itself
// remains stateless (§1 Non-goals).
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds tej's client-side ambient configuration.
type Config struct {
	DefaultQueue     string        `yaml:"default_queue"`
	DefaultRuntime   string        `yaml:"default_runtime"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	AcceptedRuntimes []string      `yaml:"accepted_runtimes"`
	Verbosity        int           `yaml:"verbosity"`
}

// Default returns tej's default configuration.
func Default() Config {
	return Config{
		DefaultQueue:   "~/.tej",
		ConnectTimeout: 15 * time.Second,
	}
}

// ConfigDir returns tej's config directory: $XDG_CONFIG_HOME/tej, or
// ~/.config/tej when XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tej"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "tej"), nil
}

// Load reads config.yaml from the config directory, creating it with
// defaults if absent.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = "~/.tej"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return cfg, nil
}

// Save writes cfg to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
