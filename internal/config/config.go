// Package config loads supervisor configuration from defaults, an optional
// YAML file, and RELOAD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: server.port is RELOAD_SERVER_PORT.
const EnvPrefix = "RELOAD"

// DefaultName is the config file searched for when no path is given.
const DefaultName = "reload"

// Config is a read-only view over a viper instance. A nil viper behaves as
// an empty configuration.
type Config struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

// Load reads configuration. With an empty path it looks for reload.yaml in
// the working directory and carries on with defaults if there is none; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return New(v), nil
}

// SetDefaults installs the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "7070")

	v.SetDefault("cluster.workers", 1)
	v.SetDefault("cluster.command", []string{})
	v.SetDefault("cluster.dir", "")
	v.SetDefault("cluster.env", []string{})
	v.SetDefault("cluster.respawn_delay", "250ms")
	v.SetDefault("cluster.kill_timeout", "5s")

	v.SetDefault("plugins.reload.enabled", true)
	v.SetDefault("plugins.reload.roots", []string{})
	v.SetDefault("plugins.reload.interval", 100)
	v.SetDefault("plugins.reload.extensions", []string{".js"})
	v.SetDefault("plugins.reload.signal", "SIGTERM")
	v.SetDefault("plugins.reload.backend", "poll")
	v.SetDefault("plugins.reload.debounce", 0)
	v.SetDefault("plugins.reload.max_stat_failures", 50)
	v.SetDefault("plugins.reload.ignore", []string{})
	v.SetDefault("plugins.reload.follow_symlinks", true)
}

// Viper returns the underlying viper instance.
func (c *Config) Viper() *viper.Viper { return c.v }

// File returns the config file that was read, or "".
func (c *Config) File() string { return c.v.ConfigFileUsed() }

func (c *Config) GetString(key string) string               { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int                     { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool                   { return c.v.GetBool(key) }
func (c *Config) GetDuration(key string) time.Duration      { return c.v.GetDuration(key) }
func (c *Config) GetStringSlice(key string) []string        { return c.v.GetStringSlice(key) }
func (c *Config) IsSet(key string) bool                     { return c.v.IsSet(key) }
func (c *Config) Set(key string, value any)                 { c.v.Set(key, value) }
func (c *Config) Unmarshal(target any) error                { return c.v.Unmarshal(target) }
func (c *Config) UnmarshalKey(key string, target any) error { return c.v.UnmarshalKey(key, target) }

// Sub returns the subtree at key. A missing key yields an empty Config,
// never nil.
func (c *Config) Sub(key string) *Config {
	return New(Subtree(c.v, key))
}

// Subtree copies every key under key into a new viper. Unlike viper.Sub,
// the copied values keep their defaults and environment overrides.
func Subtree(v *viper.Viper, key string) *viper.Viper {
	sub := viper.New()
	if v == nil {
		return sub
	}
	prefix := strings.ToLower(key) + "."
	for _, k := range v.AllKeys() {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			sub.Set(rest, v.Get(k))
		}
	}
	return sub
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// Addr returns host:port, or "" when the port is empty and the server is
// disabled.
func (s ServerConfig) Addr() string {
	if s.Port == "" {
		return ""
	}
	return net.JoinHostPort(s.Host, s.Port)
}

// Server returns the server section.
func (c *Config) Server() ServerConfig {
	return ServerConfig{
		Host: c.v.GetString("server.host"),
		Port: c.v.GetString("server.port"),
	}
}

// ClusterConfig is the worker supervisor configuration.
type ClusterConfig struct {
	Command      []string      `mapstructure:"command"`
	Workers      int           `mapstructure:"workers"`
	Dir          string        `mapstructure:"dir"`
	Env          []string      `mapstructure:"env"`
	RespawnDelay time.Duration `mapstructure:"respawn_delay"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`
}

// Cluster returns the cluster section. A command given as one string is
// split on whitespace.
func (c *Config) Cluster() ClusterConfig {
	command := c.v.GetStringSlice("cluster.command")
	if len(command) == 1 {
		command = strings.Fields(command[0])
	}
	return ClusterConfig{
		Command:      command,
		Workers:      c.v.GetInt("cluster.workers"),
		Dir:          c.v.GetString("cluster.dir"),
		Env:          c.v.GetStringSlice("cluster.env"),
		RespawnDelay: c.v.GetDuration("cluster.respawn_delay"),
		KillTimeout:  c.v.GetDuration("cluster.kill_timeout"),
	}
}
