// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		password string
		want     string
	}{
		{
			name:     "known digest",
			password: "password",
			want:     "5f4dcc3b5aa765d61d8327deb882cf99",
		},
		{
			name:     "empty string",
			password: "",
			want:     "d41d8cd98f00b204e9800998ecf8427e",
		},
		{
			name:     "unicode input",
			password: "pässwörd",
			want:     "12841e4ba5e37d2fbfc78458c6714ade",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := HashPassword(tt.password)
			if got != tt.want {
				t.Errorf("HashPassword(%q) = %q, want %q", tt.password, got, tt.want)
			}
		})
	}
}

func TestHashPasswordFormat(t *testing.T) {
	t.Parallel()

	got := HashPassword("any input at all")
	if len(got) != 32 {
		t.Errorf("digest length = %d, want 32", len(got))
	}
	if got != strings.ToLower(got) {
		t.Errorf("digest %q contains uppercase characters", got)
	}
	for _, r := range got {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("digest %q contains non-hex rune %q", got, r)
		}
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	t.Parallel()

	a := HashPassword("fleet-secret")
	b := HashPassword("fleet-secret")
	if a != b {
		t.Errorf("same input produced different digests: %q vs %q", a, b)
	}

	c := HashPassword("fleet-secret2")
	if a == c {
		t.Error("different inputs produced identical digests")
	}
}
