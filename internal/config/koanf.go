// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fleetiq/config.yaml",
	"/etc/fleetiq/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with sensible defaults. Defaults are applied
// first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		GP51: GP51Config{
			BaseURL:             "",
			Username:            "",
			Password:            "",
			Timeout:             30 * time.Second,
			TokenValidity:       23 * time.Hour,
			RefreshThreshold:    30 * time.Minute,
			HealthCheckInterval: time.Minute,
			DegradedLatency:     5 * time.Second,
			RateLimitRPS:        5,
			RetryAttempts:       5,
			RetryDelay:          2 * time.Second,
			MaxRetryDelay:       time.Minute,
		},
		Database: DatabaseConfig{
			URL:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ListenerEnabled: true,
		},
		Poller: PollerConfig{
			Enabled:      true,
			Interval:     30 * time.Second,
			ActiveWindow: 5 * time.Minute,
			DeviceIDs:    nil,
		},
		Sync: SyncConfig{
			BatchSize:     500,
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
			ProgressPath:  "",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			AuthMode:        "jwt",
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			AdminUsername:   "",
			AdminPassword:   "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources: defaults, then an optional
// YAML file, then environment variables. The result is validated before
// being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are config paths parsed as comma-separated slices when
// they arrive via env vars.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"poller.device_ids",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise cannot pollute
// the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Vendor API
		"gp51_base_url":              "gp51.base_url",
		"gp51_username":              "gp51.username",
		"gp51_password":              "gp51.password",
		"gp51_timeout":               "gp51.timeout",
		"gp51_token_validity":        "gp51.token_validity",
		"gp51_refresh_threshold":     "gp51.refresh_threshold",
		"gp51_health_check_interval": "gp51.health_check_interval",
		"gp51_degraded_latency":      "gp51.degraded_latency",
		"gp51_rate_limit_rps":        "gp51.rate_limit_rps",
		"gp51_retry_attempts":        "gp51.retry_attempts",
		"gp51_retry_delay":           "gp51.retry_delay",
		"gp51_max_retry_delay":       "gp51.max_retry_delay",

		// Database
		"database_url":           "database.url",
		"database_max_open":      "database.max_open_conns",
		"database_max_idle":      "database.max_idle_conns",
		"database_conn_lifetime": "database.conn_max_lifetime",
		"database_listener":      "database.listener_enabled",

		// Poller
		"poller_enabled":       "poller.enabled",
		"poller_interval":      "poller.interval",
		"poller_active_window": "poller.active_window",
		"poller_device_ids":    "poller.device_ids",

		// Sync
		"sync_batch_size":     "sync.batch_size",
		"sync_retry_attempts": "sync.retry_attempts",
		"sync_retry_delay":    "sync.retry_delay",
		"sync_progress_path":  "sync.progress_path",

		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Security
		"auth_mode":           "security.auth_mode",
		"jwt_secret":          "security.jwt_secret",
		"session_timeout":     "security.session_timeout",
		"admin_username":      "security.admin_username",
		"admin_password":      "security.admin_password",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
