// Package config handles ctxpack configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (CTXP_*)
//  2. Config file (<user config dir>/ctxpack/config.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rozetyp/ctxpack/internal/paths"
)

const (
	// DefaultRegistryURL is the default OCI registry host.
	DefaultRegistryURL = "ghcr.io"
	// DefaultUser is the default registry user/namespace.
	DefaultUser = "rozetyp"
	// DefaultHTTPTimeout is the default per-request deadline as a duration string.
	DefaultHTTPTimeout = "30s"
	// DefaultDownloadTimeout is the default total streaming deadline as a duration string.
	DefaultDownloadTimeout = "10m"
	// DefaultLogLevel is the default structured log level.
	DefaultLogLevel = "info"
	// DefaultLogFormat is the default structured log encoding.
	DefaultLogFormat = "text"
)

const (
	defaultHTTPTimeoutDuration     = 30 * time.Second
	defaultDownloadTimeoutDuration = 10 * time.Minute
	minTimeoutDuration             = 1 * time.Second
)

// Config holds the resolved ctxpack configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("registry.url", DefaultRegistryURL)
	v.SetDefault("registry.repo", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("registry.user", DefaultUser)
	v.SetDefault("cache.dir", "")
	v.SetDefault("http.timeout", DefaultHTTPTimeout)
	v.SetDefault("download.timeout", DefaultDownloadTimeout)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	configDir, err := paths.ConfigRoot()
	if err == nil {
		if cacheRoot, cacheErr := paths.CacheRoot(); cacheErr == nil {
			v.SetDefault("cache.dir", filepath.Join(cacheRoot, "cache"))
		} else if home, homeErr := os.UserHomeDir(); homeErr == nil {
			v.SetDefault("cache.dir", filepath.Join(home, ".cache", "ctxpack", "cache"))
		}

		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CTXP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv derives CTXP_REGISTRY_REPO etc. for nested keys; the
	// registry settings are read from their short names instead.
	_ = v.BindEnv("registry.repo", "CTXP_REPO")
	_ = v.BindEnv("registry.token", "CTXP_TOKEN")
	_ = v.BindEnv("registry.user", "CTXP_USER")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			slog.Default().Warn("error reading config file", "component", "config", "event.type", "config.read.warning", "error", err.Error())
		}
	}

	return &Config{v: v}
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configDir, err := paths.ConfigRoot()
	if err != nil {
		return fmt.Errorf("resolve config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, "config.yaml")

	if err := c.v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// RegistryURL returns the configured OCI registry host.
func (c *Config) RegistryURL() string {
	return c.GetString("registry.url")
}

// Repo returns the configured registry repository path.
func (c *Config) Repo() string {
	return c.GetString("registry.repo")
}

// Token returns the configured registry bearer/basic credential.
// GetToken in internal/auth takes priority over this at the CLI layer;
// this accessor exists for components that only see *Config.
func (c *Config) Token() string {
	return c.GetString("registry.token")
}

// User returns the configured registry user/namespace.
func (c *Config) User() string {
	return c.GetString("registry.user")
}

// CacheDir returns the configured local cache root.
func (c *Config) CacheDir() string {
	return c.GetString("cache.dir")
}

// HTTPTimeout returns the per-request HTTP deadline.
func (c *Config) HTTPTimeout() time.Duration {
	return c.parseDuration("http.timeout", defaultHTTPTimeoutDuration)
}

// DownloadTimeout returns the total streaming deadline for a pull or push.
func (c *Config) DownloadTimeout() time.Duration {
	return c.parseDuration("download.timeout", defaultDownloadTimeoutDuration)
}

// LogLevel returns the configured structured log level.
func (c *Config) LogLevel() string {
	return c.GetString("log.level")
}

// LogFormat returns the configured structured log encoding ("text" or "json").
func (c *Config) LogFormat() string {
	return c.GetString("log.format")
}

// parseDuration reads a config key and interprets it as a duration.
// It first tries time.ParseDuration (e.g. "30s", "1m"). If that fails,
// it tries parsing as a bare integer (seconds) for backward compatibility.
// Returns fallback if the result is less than minTimeoutDuration.
func (c *Config) parseDuration(key string, fallback time.Duration) time.Duration {
	raw := c.GetString(key)
	if raw == "" {
		return fallback
	}

	if d, err := time.ParseDuration(raw); err == nil {
		if d < minTimeoutDuration {
			return fallback
		}

		return d
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		d := time.Duration(secs) * time.Second
		if d < minTimeoutDuration {
			return fallback
		}

		return d
	}

	return fallback
}
