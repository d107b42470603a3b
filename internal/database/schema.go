// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package database

import (
	"context"
	"fmt"

	"github.com/fleetiq/fleetiq/internal/logging"
)

// positionChannel is the LISTEN/NOTIFY channel carrying position change
// notifications. Payload is the device id.
const positionChannel = "fleetiq_position_changes"

// migrations run in order inside a single transaction. Statements are
// idempotent so restarts are safe without a version table.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS vendor_sessions (
		id          UUID PRIMARY KEY,
		username    TEXT NOT NULL,
		token       TEXT NOT NULL,
		api_url     TEXT NOT NULL DEFAULT '',
		expires_at  TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_vendor_sessions_expires
		ON vendor_sessions (expires_at DESC)`,

	`CREATE TABLE IF NOT EXISTS device_positions (
		device_id      TEXT PRIMARY KEY,
		latitude       DOUBLE PRECISION NOT NULL,
		longitude      DOUBLE PRECISION NOT NULL,
		speed          DOUBLE PRECISION NOT NULL DEFAULT 0,
		heading        DOUBLE PRECISION NOT NULL DEFAULT 0,
		altitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
		moving         BOOLEAN NOT NULL DEFAULT FALSE,
		gps_time       TIMESTAMPTZ NOT NULL,
		server_time    TIMESTAMPTZ NOT NULL,
		status_text    TEXT NOT NULL DEFAULT '',
		total_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw            JSONB
	)`,

	`CREATE INDEX IF NOT EXISTS idx_device_positions_server_time
		ON device_positions (server_time DESC)`,

	`CREATE TABLE IF NOT EXISTS device_groups (
		group_id   BIGINT PRIMARY KEY,
		group_name TEXT NOT NULL,
		remark     TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		device_id      TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		device_type    INTEGER NOT NULL DEFAULT 0,
		sim_number     TEXT NOT NULL DEFAULT '',
		group_id       BIGINT NOT NULL DEFAULT 0,
		last_active_at TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_devices_group ON devices (group_id)`,

	`CREATE TABLE IF NOT EXISTS sync_operations (
		id           UUID PRIMARY KEY,
		status       TEXT NOT NULL,
		total        INTEGER NOT NULL DEFAULT 0,
		processed    INTEGER NOT NULL DEFAULT 0,
		succeeded    INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		started_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS sync_conflicts (
		id           UUID PRIMARY KEY,
		operation_id UUID NOT NULL REFERENCES sync_operations (id) ON DELETE CASCADE,
		device_id    TEXT NOT NULL,
		type         TEXT NOT NULL,
		local_value  JSONB,
		remote_value JSONB,
		resolved     BOOLEAN NOT NULL DEFAULT FALSE,
		resolution   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		resolved_at  TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sync_conflicts_operation
		ON sync_conflicts (operation_id, resolved)`,

	`CREATE OR REPLACE FUNCTION notify_position_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + positionChannel + `', NEW.device_id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS trg_position_change ON device_positions`,

	`CREATE TRIGGER trg_position_change
		AFTER INSERT OR UPDATE ON device_positions
		FOR EACH ROW EXECUTE FUNCTION notify_position_change()`,
}

// migrate applies the schema. All statements run in one transaction so a
// partial failure leaves the database untouched.
func (db *DB) migrate(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	logging.Info().Int("statements", len(migrations)).Msg("Database schema up to date")
	return nil
}
