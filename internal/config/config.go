package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/pool"
	"github.com/spf13/viper"
)

// Config represents the top-level TOML structure:
//
//	listen = ":8081"
//	base_path = ""
//	store = "sqlite:///var/lib/mcpgate/mcpgate.db"
//
//	[log]
//	level = "info"
//	color = true
//
//	[server_log]
//	dir = "/var/log/mcpgate"
//
//	[pool]
//	request_timeout = "30s"
//
//	[history]
//	dsn = "clickhouse://localhost:9000?table=mcpgate_events"
//
//	[[servers]]
//	id = "calc"
//	command = "/usr/local/bin/calc-server"
type Config struct {
	Listen    string         `toml:"listen" mapstructure:"listen"`
	BasePath  string         `toml:"base_path" mapstructure:"base_path"`
	Store     string         `toml:"store" mapstructure:"store"`
	Log       LogConfig      `toml:"log" mapstructure:"log"`
	ServerLog logger.Config  `toml:"server_log" mapstructure:"server_log"`
	Pool      PoolConfig     `toml:"pool" mapstructure:"pool"`
	History   HistoryConfig  `toml:"history" mapstructure:"history"`
	Servers   []ServerConfig `toml:"servers" mapstructure:"servers"`
}

// LogConfig controls the gateway's own structured logging. Backend stderr
// capture is configured separately under [server_log].
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	Color bool   `toml:"color" mapstructure:"color"`
}

type PoolConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	MaxRetries     int           `toml:"max_retries" mapstructure:"max_retries"`
	RetryDelay     time.Duration `toml:"retry_delay" mapstructure:"retry_delay"`
	MaxCrashes     int           `toml:"max_crashes" mapstructure:"max_crashes"`
	CrashWindow    time.Duration `toml:"crash_window" mapstructure:"crash_window"`
	GracePeriod    time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	StartupProbe   time.Duration `toml:"startup_probe" mapstructure:"startup_probe"`
	ClientName     string        `toml:"client_name" mapstructure:"client_name"`
	ClientVersion  string        `toml:"client_version" mapstructure:"client_version"`
}

// HistoryConfig points lifecycle events at an external analytics store.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	ID      string            `toml:"id" mapstructure:"id"`
	Command string            `toml:"command" mapstructure:"command"`
	Args    []string          `toml:"args" mapstructure:"args"`
	Env     map[string]string `toml:"env" mapstructure:"env"`
	Cwd     string            `toml:"cwd" mapstructure:"cwd"`
	Log     logger.Config     `toml:"log" mapstructure:"log"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8081"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d]: id required", i)
		}
		if strings.ContainsAny(s.ID, "/\\") || strings.Contains(s.ID, "..") {
			return fmt.Errorf("servers[%d]: invalid id %q", i, s.ID)
		}
		if s.Command == "" {
			return fmt.Errorf("server %s: command required", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// PoolOptions converts the [pool] section into pool options. Zero values
// fall back to pool defaults.
func (c *Config) PoolOptions() pool.Options {
	return pool.Options{
		RequestTimeout: c.Pool.RequestTimeout,
		MaxRetries:     c.Pool.MaxRetries,
		RetryDelay:     c.Pool.RetryDelay,
		MaxCrashes:     c.Pool.MaxCrashes,
		CrashWindow:    c.Pool.CrashWindow,
		GracePeriod:    c.Pool.GracePeriod,
		StartupProbe:   c.Pool.StartupProbe,
		ClientName:     c.Pool.ClientName,
		ClientVersion:  c.Pool.ClientVersion,
	}
}

// Specs returns the [[servers]] entries as launch specs keyed by id.
func (c *Config) Specs() map[string]pool.Spec {
	specs := make(map[string]pool.Spec, len(c.Servers))
	for _, s := range c.Servers {
		specs[s.ID] = pool.Spec{
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			Cwd:     s.Cwd,
			Log:     s.Log,
		}
	}
	return specs
}
