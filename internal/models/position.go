// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// DevicePosition is the last known position of a tracker, upserted keyed by
// device id. Each newer poll supersedes the previous row (last-write-wins
// per device); devices absent from a poll retain their previous position.
type DevicePosition struct {
	DeviceID      string    `json:"device_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Speed         float64   `json:"speed"`
	Heading       float64   `json:"heading"`
	Altitude      float64   `json:"altitude"`
	Moving        bool      `json:"moving"`
	GPSTime       time.Time `json:"gps_time"`
	ServerTime    time.Time `json:"server_time"`
	StatusText    string    `json:"status_text,omitempty"`
	TotalDistance float64   `json:"total_distance"`

	// Raw preserves the vendor record verbatim for fields the normalized
	// columns do not model.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// FleetMetrics are the derived fleet counts recomputed after each poll.
// A device is "active" if its position updated within the configured
// recency window; active devices split into moving and parked by the
// moving flag.
type FleetMetrics struct {
	Total     int       `json:"total"`
	Active    int       `json:"active"`
	Moving    int       `json:"moving"`
	Parked    int       `json:"parked"`
	Offline   int       `json:"offline"`
	UpdatedAt time.Time `json:"updated_at"`
}
