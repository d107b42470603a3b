// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
Package database provides PostgreSQL persistence for FleetIQ.

The DB type wraps a database/sql pool (lib/pq driver) and exposes typed
access methods per table:

  - vendor_sessions: the single shared GP51 session, with a
    compare-and-swap update path for multi-instance refreshes
  - device_positions: last known position per device, upserted by the
    poller; a trigger emits LISTEN/NOTIFY events on every change
  - devices, device_groups: fleet inventory fed by bulk sync
  - sync_operations, sync_conflicts: bulk sync bookkeeping

Schema migrations are idempotent CREATE IF NOT EXISTS statements applied
at startup inside one transaction.

PositionListener holds a dedicated LISTEN connection and relays position
change notifications to an in-process callback, which the WebSocket hub
fans out to dashboard clients.
*/
package database
