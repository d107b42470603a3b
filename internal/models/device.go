// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package models

import "time"

// Device is a GPS tracker unit known to the fleet, reconciled from the
// vendor's monitor list during bulk sync.
type Device struct {
	DeviceID     string     `json:"device_id"`
	Name         string     `json:"name"`
	DeviceType   int        `json:"device_type"`
	SIMNumber    string     `json:"sim_number,omitempty"`
	GroupID      int64      `json:"group_id"`
	GroupName    string     `json:"group_name,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeviceGroup is a vendor-side grouping of devices.
type DeviceGroup struct {
	GroupID   int64    `json:"group_id"`
	GroupName string   `json:"group_name"`
	Remark    string   `json:"remark,omitempty"`
	Devices   []Device `json:"devices,omitempty"`
}
