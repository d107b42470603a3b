// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestJWTManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      testSecret,
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return m
}

func TestNewJWTManagerRejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewJWTManager(&config.SecurityConfig{JWTSecret: "short"})
	if err == nil {
		t.Error("NewJWTManager() accepted a short secret")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Parallel()

	m := newTestJWTManager(t)
	token, err := m.GenerateToken("alice", "admin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "alice" || claims.Role != "admin" {
		t.Errorf("claims = %s/%s, want alice/admin", claims.Username, claims.Role)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	t.Parallel()

	m := newTestJWTManager(t)
	token, err := m.GenerateToken("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted an expired token")
	}
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	t.Parallel()

	m := newTestJWTManager(t)
	token, err := m.GenerateToken("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := m.ValidateToken(tampered); err == nil {
		t.Error("ValidateToken() accepted a tampered token")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	m := newTestJWTManager(t)
	other, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "ffffffffffffffffffffffffffffffff",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	token, err := other.GenerateToken("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted a token signed with another secret")
	}
}

func TestValidateTokenRejectsUnsignedAlgorithm(t *testing.T) {
	t.Parallel()

	m := newTestJWTManager(t)
	// Header {"alg":"none","typ":"JWT"} with empty signature.
	none := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VybmFtZSI6ImFsaWNlIn0."
	if _, err := m.ValidateToken(none); err == nil {
		t.Error(`ValidateToken() accepted alg "none"`)
	}
}
