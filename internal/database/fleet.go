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

	"github.com/fleetiq/fleetiq/internal/models"
)

// Device and group persistence, fed by the bulk sync manager from the
// vendor's monitor list.

// UpsertGroup writes a device group row.
func (db *DB) UpsertGroup(ctx context.Context, g *models.DeviceGroup) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO device_groups (group_id, group_name, remark)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id) DO UPDATE SET
			group_name = EXCLUDED.group_name,
			remark     = EXCLUDED.remark`,
		g.GroupID, g.GroupName, g.Remark)
	db.trackQuery("upsert", "device_groups", start, err)
	if err != nil {
		return fmt.Errorf("upsert group %d: %w", g.GroupID, err)
	}
	return nil
}

// UpsertDevice writes a device row, preserving created_at on update.
func (db *DB) UpsertDevice(ctx context.Context, d *models.Device) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, device_type, sim_number, group_id, last_active_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			name           = EXCLUDED.name,
			device_type    = EXCLUDED.device_type,
			sim_number     = EXCLUDED.sim_number,
			group_id       = EXCLUDED.group_id,
			last_active_at = EXCLUDED.last_active_at,
			updated_at     = EXCLUDED.updated_at`,
		d.DeviceID, d.Name, d.DeviceType, d.SIMNumber, d.GroupID, d.LastActiveAt, d.CreatedAt, d.UpdatedAt)
	db.trackQuery("upsert", "devices", start, err)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.DeviceID, err)
	}
	return nil
}

// GetDevice returns a device by id, or nil when unknown.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	start := db.now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT d.device_id, d.name, d.device_type, d.sim_number, d.group_id,
		       COALESCE(g.group_name, ''), d.last_active_at, d.created_at, d.updated_at
		FROM devices d
		LEFT JOIN device_groups g ON g.group_id = d.group_id
		WHERE d.device_id = $1`, deviceID)

	d, err := scanDevice(row)
	db.trackQuery("select", "devices", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return d, nil
}

// ListDevices returns every known device ordered by name.
func (db *DB) ListDevices(ctx context.Context) ([]models.Device, error) {
	start := db.now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.device_id, d.name, d.device_type, d.sim_number, d.group_id,
		       COALESCE(g.group_name, ''), d.last_active_at, d.created_at, d.updated_at
		FROM devices d
		LEFT JOIN device_groups g ON g.group_id = d.group_id
		ORDER BY d.name, d.device_id`)
	db.trackQuery("select", "devices", start, err)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer closeWithLog(rows, "device rows")

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return out, nil
}

// ListGroups returns every device group ordered by name.
func (db *DB) ListGroups(ctx context.Context) ([]models.DeviceGroup, error) {
	start := db.now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT group_id, group_name, remark
		FROM device_groups
		ORDER BY group_name, group_id`)
	db.trackQuery("select", "device_groups", start, err)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer closeWithLog(rows, "group rows")

	var out []models.DeviceGroup
	for rows.Next() {
		var g models.DeviceGroup
		if err := rows.Scan(&g.GroupID, &g.GroupName, &g.Remark); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var lastActive sql.NullTime
	err := row.Scan(&d.DeviceID, &d.Name, &d.DeviceType, &d.SIMNumber, &d.GroupID,
		&d.GroupName, &lastActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		t := lastActive.Time
		d.LastActiveAt = &t
	}
	return &d, nil
}
