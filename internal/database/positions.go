// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetiq/fleetiq/internal/models"
)

// UpsertPositions writes a batch of device positions in one transaction.
// Last write wins per device id; the row's trigger fires a LISTEN/NOTIFY
// notification per change. Returns the number of rows written.
func (db *DB) UpsertPositions(ctx context.Context, positions []models.DevicePosition) (int, error) {
	if len(positions) == 0 {
		return 0, nil
	}

	start := db.now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin position upsert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO device_positions (
			device_id, latitude, longitude, speed, heading, altitude,
			moving, gps_time, server_time, status_text, total_distance, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (device_id) DO UPDATE SET
			latitude       = EXCLUDED.latitude,
			longitude      = EXCLUDED.longitude,
			speed          = EXCLUDED.speed,
			heading        = EXCLUDED.heading,
			altitude       = EXCLUDED.altitude,
			moving         = EXCLUDED.moving,
			gps_time       = EXCLUDED.gps_time,
			server_time    = EXCLUDED.server_time,
			status_text    = EXCLUDED.status_text,
			total_distance = EXCLUDED.total_distance,
			raw            = EXCLUDED.raw`)
	if err != nil {
		_ = tx.Rollback()
		db.trackQuery("upsert", "device_positions", start, err)
		return 0, fmt.Errorf("prepare position upsert: %w", err)
	}
	defer closeQuietly(stmt)

	written := 0
	for i := range positions {
		p := &positions[i]
		var raw interface{}
		if len(p.Raw) > 0 {
			raw = []byte(p.Raw)
		}
		if _, err := stmt.ExecContext(ctx,
			p.DeviceID, p.Latitude, p.Longitude, p.Speed, p.Heading, p.Altitude,
			p.Moving, p.GPSTime, p.ServerTime, p.StatusText, p.TotalDistance, raw,
		); err != nil {
			_ = tx.Rollback()
			db.trackQuery("upsert", "device_positions", start, err)
			return 0, fmt.Errorf("upsert position %s: %w", p.DeviceID, err)
		}
		written++
	}

	err = tx.Commit()
	db.trackQuery("upsert", "device_positions", start, err)
	if err != nil {
		return 0, fmt.Errorf("commit position upsert: %w", err)
	}
	return written, nil
}

// GetPosition returns the last known position for a device, or nil when
// the device has never reported.
func (db *DB) GetPosition(ctx context.Context, deviceID string) (*models.DevicePosition, error) {
	start := db.now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT device_id, latitude, longitude, speed, heading, altitude,
		       moving, gps_time, server_time, status_text, total_distance, raw
		FROM device_positions
		WHERE device_id = $1`, deviceID)

	p, err := scanPosition(row)
	db.trackQuery("select", "device_positions", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", deviceID, err)
	}
	return p, nil
}

// ListPositions returns the last known position of every device, most
// recently updated first.
func (db *DB) ListPositions(ctx context.Context) ([]models.DevicePosition, error) {
	start := db.now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT device_id, latitude, longitude, speed, heading, altitude,
		       moving, gps_time, server_time, status_text, total_distance, raw
		FROM device_positions
		ORDER BY server_time DESC`)
	db.trackQuery("select", "device_positions", start, err)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer closeWithLog(rows, "position rows")

	var out []models.DevicePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

// GetFleetMetrics derives the fleet activity counts. A device is active
// when its position updated within the recency window; active devices
// split into moving and parked; everything else is offline. Devices known
// from sync but never heard from count as offline.
func (db *DB) GetFleetMetrics(ctx context.Context, activeWindow time.Duration) (*models.FleetMetrics, error) {
	cutoff := db.now().Add(-activeWindow)

	start := db.now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices) AS total,
			COUNT(*) FILTER (WHERE p.server_time >= $1)                  AS active,
			COUNT(*) FILTER (WHERE p.server_time >= $1 AND p.moving)     AS moving,
			COUNT(*) FILTER (WHERE p.server_time >= $1 AND NOT p.moving) AS parked
		FROM device_positions p`, cutoff)

	var m models.FleetMetrics
	err := row.Scan(&m.Total, &m.Active, &m.Moving, &m.Parked)
	db.trackQuery("select", "fleet_metrics", start, err)
	if err != nil {
		return nil, fmt.Errorf("fleet metrics: %w", err)
	}

	// Positions can exist for devices not yet synced into the devices
	// table; never report a negative offline count.
	if m.Total < m.Active {
		m.Total = m.Active
	}
	m.Offline = m.Total - m.Active
	m.UpdatedAt = db.now()
	return &m, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.DevicePosition, error) {
	var p models.DevicePosition
	var raw sql.NullString
	err := row.Scan(
		&p.DeviceID, &p.Latitude, &p.Longitude, &p.Speed, &p.Heading, &p.Altitude,
		&p.Moving, &p.GPSTime, &p.ServerTime, &p.StatusText, &p.TotalDistance, &raw,
	)
	if err != nil {
		return nil, err
	}
	if raw.Valid {
		p.Raw = []byte(raw.String)
	}
	return &p, nil
}
