// Package config loads todosync settings from a config file, TODOSYNC_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/todosync/internal/todo"
)

// FileName is the config file name without extension.
const FileName = "todosync"

// EnvPrefix prefixes environment overrides, e.g. TODOSYNC_REMOTE_URL.
const EnvPrefix = "TODOSYNC"

// Config is the resolved configuration.
type Config struct {
	Mode      string            `mapstructure:"mode" toml:"mode"`
	DBPath    string            `mapstructure:"db_path" toml:"db_path"`
	Remote    RemoteConfig      `mapstructure:"remote" toml:"remote"`
	Sync      SyncConfig        `mapstructure:"sync" toml:"sync"`
	Queries   []todo.NamedQuery `mapstructure:"queries" toml:"queries,omitempty"`
	Log       LogConfig         `mapstructure:"log" toml:"log"`
	Dashboard DashboardConfig   `mapstructure:"dashboard" toml:"dashboard"`
	Serve     ServeConfig       `mapstructure:"serve" toml:"serve"`
}

// RemoteConfig locates the remote table.
type RemoteConfig struct {
	URL     string        `mapstructure:"url" toml:"url"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
}

// SyncConfig tunes sync cycles.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" toml:"interval"`
	Debounce time.Duration `mapstructure:"debounce" toml:"debounce"`
	// Policy is ask, server or client.
	Policy string `mapstructure:"policy" toml:"policy"`
}

// LogConfig selects the log destination. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
}

// DashboardConfig configures `todosync dashboard`.
type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// ServeConfig configures `todosync serve`.
type ServeConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
	// Backend is memory or postgres.
	Backend     string `mapstructure:"backend" toml:"backend"`
	DatabaseURL string `mapstructure:"database_url" toml:"database_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:   "offline",
		DBPath: DefaultDBPath(),
		Remote: RemoteConfig{
			URL:     "http://localhost:8787",
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 30 * time.Second,
			Debounce: 500 * time.Millisecond,
			Policy:   "server",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{Port: 8080},
		Serve: ServeConfig{
			Addr:    ":8787",
			Backend: "memory",
		},
	}
}

// DefaultDBPath is the replica location when db_path is unset.
func DefaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "todosync", "todo.db")
	}
	return "todo.db"
}

// SearchPaths lists the directories searched for todosync.toml, in order.
func SearchPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "todosync"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".todosync"))
	}
	return append(paths, ".")
}

// Loader wraps a viper instance configured for todosync.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment bindings. If
// file is non-empty it is the only config file read; otherwise
// SearchPaths are searched.
func NewLoader(file string) *Loader {
	v := viper.New()
	setDefaults(v, Default())

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlags makes flags override file and environment values. Each entry
// maps a config key to a flag name in fs.
func (l *Loader) BindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file, if any, and resolves all sources.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-resolved config whenever the config
// file changes. It is a no-op when no file was loaded.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "offline", "direct":
	default:
		return fmt.Errorf("invalid mode %q (want offline or direct)", c.Mode)
	}
	switch c.Sync.Policy {
	case "ask", "server", "client":
	default:
		return fmt.Errorf("invalid sync.policy %q (want ask, server or client)", c.Sync.Policy)
	}
	switch c.Serve.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid serve.backend %q (want memory or postgres)", c.Serve.Backend)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Sync.Interval <= 0 || c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.interval and sync.debounce must be positive")
	}
	seen := make(map[string]bool, len(c.Queries))
	for _, q := range c.Queries {
		if err := q.Validate(); err != nil {
			return err
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate query name %q", q.Name)
		}
		seen[q.Name] = true
	}
	return nil
}

// NamedQueries returns the configured pull queries, or the default one.
func (c *Config) NamedQueries() []todo.NamedQuery {
	if len(c.Queries) == 0 {
		return []todo.NamedQuery{todo.AllItems()}
	}
	return c.Queries
}

// WriteDefault writes the default configuration as TOML to path, creating
// parent directories. It refuses to overwrite an existing file unless force
// is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Encode(Default())
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML. Durations are written as strings ("30s").
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# todosync configuration\n")
	buf.WriteString("# Environment variables override these values, e.g. TODOSYNC_REMOTE_URL.\n\n")
	if err := toml.NewEncoder(&buf).Encode(tomlView(cfg)); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// tomlView swaps durations for their string form, which viper decodes back.
func tomlView(cfg *Config) map[string]any {
	return map[string]any{
		"mode":    cfg.Mode,
		"db_path": cfg.DBPath,
		"remote": map[string]any{
			"url":     cfg.Remote.URL,
			"timeout": cfg.Remote.Timeout.String(),
		},
		"sync": map[string]any{
			"interval": cfg.Sync.Interval.String(),
			"debounce": cfg.Sync.Debounce.String(),
			"policy":   cfg.Sync.Policy,
		},
		"log": map[string]any{
			"file":         cfg.Log.File,
			"max_size_mb":  cfg.Log.MaxSizeMB,
			"max_backups":  cfg.Log.MaxBackups,
			"max_age_days": cfg.Log.MaxAgeDays,
		},
		"dashboard": map[string]any{
			"port": cfg.Dashboard.Port,
		},
		"serve": map[string]any{
			"addr":         cfg.Serve.Addr,
			"backend":      cfg.Serve.Backend,
			"database_url": cfg.Serve.DatabaseURL,
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("remote.url", cfg.Remote.URL)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.debounce", cfg.Sync.Debounce)
	v.SetDefault("sync.policy", cfg.Sync.Policy)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("dashboard.port", cfg.Dashboard.Port)
	v.SetDefault("serve.addr", cfg.Serve.Addr)
	v.SetDefault("serve.backend", cfg.Serve.Backend)
	v.SetDefault("serve.database_url", cfg.Serve.DatabaseURL)
}
