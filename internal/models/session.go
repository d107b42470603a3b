// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package models

import "time"

// VendorSession is the single shared GP51 API session for a deployment.
// It is persisted in the database so server-side processes share one token
// rather than each holding their own vendor login.
type VendorSession struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	APIURL    string    `json:"api_url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the session token has passed its validity window.
func (s *VendorSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// IsStale reports whether the time until expiry has dropped below the refresh
// threshold. A stale session still works but should be refreshed soon.
func (s *VendorSession) IsStale(now time.Time, threshold time.Duration) bool {
	return s.ExpiresAt.Sub(now) < threshold
}

// SessionStatus describes the health of the vendor connection.
type SessionStatus string

const (
	// SessionConnected means the token is valid and the vendor responds normally.
	SessionConnected SessionStatus = "connected"
	// SessionConnecting means a login or refresh is in flight.
	SessionConnecting SessionStatus = "connecting"
	// SessionDegraded means the vendor is reachable but behaving abnormally
	// (slow or partially failing) without the token being invalid.
	SessionDegraded SessionStatus = "degraded"
	// SessionDisconnected means a transport failure; retried on the next
	// scheduled check, never in a tight loop.
	SessionDisconnected SessionStatus = "disconnected"
	// SessionAuthError means the vendor rejected the token; a fresh login is
	// required, a refresh will not help.
	SessionAuthError SessionStatus = "auth_error"
)

// SessionHealth is the value object published to health subscribers.
type SessionHealth struct {
	Status    SessionStatus `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
