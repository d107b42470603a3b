// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorUnwrap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "login failed maps to invalid credentials", status: statusLoginFailed, want: ErrInvalidCredentials},
		{name: "token error maps to session expired", status: statusTokenError, want: ErrSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := &APIError{Action: "login", Status: tt.status, Cause: "nope"}
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.want)
			}
		})
	}
}

func TestAPIErrorUnknownStatus(t *testing.T) {
	t.Parallel()

	err := &APIError{Action: "lastposition", Status: 99}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrSessionExpired) {
		t.Error("unknown status should not map onto an auth sentinel")
	}
	if IsAuthError(err) {
		t.Error("IsAuthError(unknown status) = true, want false")
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	withCause := &APIError{Action: "login", Status: 1, Cause: "bad password"}
	if got := withCause.Error(); got != "gp51: login failed with status 1: bad password" {
		t.Errorf("unexpected error message: %q", got)
	}

	withoutCause := &APIError{Action: "logout", Status: 6}
	if got := withoutCause.Error(); got != "gp51: logout failed with status 6" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestIsAuthError(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrInvalidCredentials, ErrSessionExpired, ErrNotAuthenticated} {
		if !IsAuthError(err) {
			t.Errorf("IsAuthError(%v) = false, want true", err)
		}
	}
	if IsAuthError(ErrTransport) {
		t.Error("IsAuthError(ErrTransport) = true, want false")
	}

	wrapped := fmt.Errorf("during poll: %w", ErrSessionExpired)
	if !IsAuthError(wrapped) {
		t.Error("IsAuthError should see through wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if !IsRetryable(ErrTransport) || !IsRetryable(ErrRateLimited) {
		t.Error("transport and rate-limit errors should be retryable")
	}
	if IsRetryable(ErrInvalidCredentials) {
		t.Error("credential errors must not be retryable")
	}
	if IsRetryable(ErrMalformedResponse) {
		t.Error("malformed payloads must not be retryable")
	}
}
