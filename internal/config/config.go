package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ari/agent-index/internal/source"
)

// Config represents the application configuration
type Config struct {
	Roots    RootsConfig   `mapstructure:"roots"`
	Database string        `mapstructure:"database"`
	Include  []string      `mapstructure:"include"`
	Exclude  []string      `mapstructure:"exclude"`
	Workers  int           `mapstructure:"workers"`
	Watch    WatchConfig   `mapstructure:"watch"`
	Refresh  RefreshConfig `mapstructure:"refresh"`
}

// RootsConfig lists the transcript directories scanned per tool family.
type RootsConfig struct {
	Claude []string `mapstructure:"claude"`
	Codex  []string `mapstructure:"codex"`
	Gemini []string `mapstructure:"gemini"`
}

// WatchConfig tunes the filesystem event batching window.
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
	MaxDelayMS int `mapstructure:"max_delay_ms"`
}

// RefreshConfig tunes the background refresh scheduler.
type RefreshConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
	GraceMS    int `mapstructure:"grace_ms"`
}

// LoadConfig loads configuration from the specified path or the default
// location ~/.agent-index/config.toml. A missing file is not an error;
// the defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		defaultPath := filepath.Join(homeDir, ".agent-index", "config.toml")
		v.SetConfigFile(defaultPath)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config at default location %s: %w", defaultPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("roots.claude", []string{filepath.Join(home, ".claude", "projects")})
	v.SetDefault("roots.codex", []string{filepath.Join(home, ".codex", "sessions")})
	v.SetDefault("roots.gemini", []string{filepath.Join(home, ".gemini", "tmp")})
	v.SetDefault("workers", 0)
	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("watch.max_delay_ms", 1000)
	v.SetDefault("refresh.debounce_ms", 250)
	v.SetDefault("refresh.grace_ms", 1000)
}

// GetDatabasePath returns the database path, using default if not specified
func (c *Config) GetDatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "~/.agent-index/index.db"
	}
	return filepath.Join(homeDir, ".agent-index", "index.db")
}

// RootMap returns the configured roots keyed by source kind, with empty
// entries dropped.
func (c *Config) RootMap() map[source.Kind][]string {
	m := map[source.Kind][]string{
		source.KindClaude: clean(c.Roots.Claude),
		source.KindCodex:  clean(c.Roots.Codex),
		source.KindGemini: clean(c.Roots.Gemini),
	}
	return m
}

func clean(roots []string) []string {
	var out []string
	for _, r := range roots {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// WatchDebounce returns the event batching window.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// WatchMaxDelay returns the hard cap on the batching window.
func (c *Config) WatchMaxDelay() time.Duration {
	return time.Duration(c.Watch.MaxDelayMS) * time.Millisecond
}

// RefreshDebounce returns the scheduler debounce for background requests.
func (c *Config) RefreshDebounce() time.Duration {
	return time.Duration(c.Refresh.DebounceMS) * time.Millisecond
}

// RefreshGrace returns the post-completion window in which duplicate
// background requests are dropped.
func (c *Config) RefreshGrace() time.Duration {
	return time.Duration(c.Refresh.GraceMS) * time.Millisecond
}
