// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
Package metrics provides Prometheus metrics collection and export.

Collectors are registered at init time via promauto and exposed through
the /metrics endpoint wired in the API router. Coverage:

  - GP51 session lifecycle (logins, refreshes, health probe latency)
  - Position poller throughput and coercion drop counts
  - Bulk sync durations, conflicts, and terminal statuses
  - PostgreSQL query latency and LISTEN/NOTIFY volume
  - HTTP endpoint latency and WebSocket connection counts
  - Circuit breaker state for the GP51 client

All metrics follow Prometheus naming conventions: snake_case with unit
suffixes and _total for counters.
*/
package metrics
