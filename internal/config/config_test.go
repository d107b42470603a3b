// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.GP51.BaseURL = "https://www.gps51.com/webapi"
	cfg.GP51.Username = "fleetops"
	cfg.GP51.Password = "secret"
	cfg.Database.URL = "postgres://fleetiq:pw@localhost/fleetiq?sslmode=disable"
	cfg.Security.AuthMode = "none"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid none mode",
			mutate: func(*Config) {},
		},
		{
			name:    "missing vendor url",
			mutate:  func(c *Config) { c.GP51.BaseURL = "" },
			wantErr: "gp51.base_url",
		},
		{
			name:    "malformed vendor url",
			mutate:  func(c *Config) { c.GP51.BaseURL = "not a url" },
			wantErr: "valid URL",
		},
		{
			name:    "missing vendor credentials",
			mutate:  func(c *Config) { c.GP51.Password = "" },
			wantErr: "gp51.username and gp51.password",
		},
		{
			name:    "refresh threshold above validity",
			mutate:  func(c *Config) { c.GP51.RefreshThreshold = 24 * time.Hour },
			wantErr: "refresh_threshold",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database.url",
		},
		{
			name:    "sub-second poll interval",
			mutate:  func(c *Config) { c.Poller.Interval = 100 * time.Millisecond },
			wantErr: "poller.interval",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name: "jwt mode needs long secret",
			mutate: func(c *Config) {
				c.Security.AuthMode = "jwt"
				c.Security.JWTSecret = "short"
				c.Security.AdminUsername = "admin"
				c.Security.AdminPassword = "password1"
			},
			wantErr: "jwt_secret",
		},
		{
			name: "jwt mode valid",
			mutate: func(c *Config) {
				c.Security.AuthMode = "jwt"
				c.Security.JWTSecret = strings.Repeat("s", 32)
				c.Security.AdminUsername = "admin"
				c.Security.AdminPassword = "password1"
			},
		},
		{
			name: "basic mode needs credentials",
			mutate: func(c *Config) {
				c.Security.AuthMode = "basic"
				c.Security.AdminUsername = ""
			},
			wantErr: "admin_username",
		},
		{
			name: "none mode forbidden in production",
			mutate: func(c *Config) {
				c.Security.AuthMode = "none"
				c.Server.Environment = "production"
			},
			wantErr: "auth_mode=none",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Security.AuthMode = "oauth" },
			wantErr: "auth_mode must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yaml := `
gp51:
  base_url: https://www.gps51.com/webapi
  username: filetops
  password: filepass
database:
  url: postgres://localhost/fleetiq
server:
  port: 9000
security:
  auth_mode: none
poller:
  interval: 45s
`
	if err := os.WriteFile(configPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_PATH", configPath)
	// Env overrides the file.
	t.Setenv("GP51_USERNAME", "envops")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GP51.Username != "envops" {
		t.Errorf("Username = %q, want env override envops", cfg.GP51.Username)
	}
	if cfg.GP51.Password != "filepass" {
		t.Errorf("Password = %q, want file value filepass", cfg.GP51.Password)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Poller.Interval != 45*time.Second {
		t.Errorf("Interval = %s, want file value 45s", cfg.Poller.Interval)
	}
	if cfg.GP51.TokenValidity != 23*time.Hour {
		t.Errorf("TokenValidity = %s, want default 23h", cfg.GP51.TokenValidity)
	}

	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != want[0] || cfg.Security.CORSOrigins[1] != want[1] {
		t.Errorf("CORSOrigins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	// No vendor URL anywhere.
	t.Setenv("GP51_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want validation failure")
	}
}

func TestUnmappedEnvVarsIgnored(t *testing.T) {
	if got := envTransformFunc("RANDOM_NOISE"); got != "" {
		t.Errorf("envTransformFunc(RANDOM_NOISE) = %q, want empty", got)
	}
	if got := envTransformFunc("GP51_BASE_URL"); got != "gp51.base_url" {
		t.Errorf("envTransformFunc(GP51_BASE_URL) = %q", got)
	}
}

func TestAddr(t *testing.T) {
	t.Parallel()

	c := ServerConfig{Host: "0.0.0.0", Port: 8080}
	if got := c.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
