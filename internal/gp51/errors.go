// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying GP51 failures. Callers branch on these with
// errors.Is to decide between re-authenticating, retrying, or surfacing the
// failure to the operator.
var (
	// ErrInvalidCredentials means the vendor rejected the username/password
	// pair. Retrying with the same credentials will not help.
	ErrInvalidCredentials = errors.New("gp51: invalid credentials")

	// ErrSessionExpired means the token was rejected or has aged out.
	// The session manager responds by performing a fresh login.
	ErrSessionExpired = errors.New("gp51: session expired")

	// ErrNotAuthenticated means an API call was attempted before any
	// successful login.
	ErrNotAuthenticated = errors.New("gp51: not authenticated")

	// ErrTransport covers network-level failures: DNS, connect, TLS, and
	// timeouts. These are retried with backoff.
	ErrTransport = errors.New("gp51: transport error")

	// ErrRateLimited means the vendor returned 429 and retries were
	// exhausted.
	ErrRateLimited = errors.New("gp51: rate limited")

	// ErrMalformedResponse means the vendor returned a payload we could
	// not decode or that failed coercion.
	ErrMalformedResponse = errors.New("gp51: malformed response")
)

// APIError is a non-zero status returned in a GP51 response body. It wraps
// the matching sentinel so errors.Is classification still works.
type APIError struct {
	Action string
	Status int
	Cause  string
}

func (e *APIError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("gp51: %s failed with status %d: %s", e.Action, e.Status, e.Cause)
	}
	return fmt.Sprintf("gp51: %s failed with status %d", e.Action, e.Status)
}

// Unwrap maps vendor status codes onto the sentinel taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case statusLoginFailed:
		return ErrInvalidCredentials
	case statusTokenError:
		return ErrSessionExpired
	}
	return nil
}

// IsAuthError reports whether err requires a fresh login rather than a
// retry of the failed call.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrNotAuthenticated)
}

// IsRetryable reports whether err is transient and worth retrying with
// backoff. Auth failures and malformed payloads are not retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}
