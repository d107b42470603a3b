// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

// Package models defines the domain types shared across FleetIQ: vendor
// sessions, device positions, fleet metrics, sync operations, and the GP51
// wire payloads used at the vendor API boundary.
package models
