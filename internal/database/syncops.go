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

	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/models"
)

// Sync operation and conflict persistence. Operations survive restarts so
// a paused run with unresolved conflicts is still visible (and resolvable)
// after a redeploy.

// CreateSyncOperation inserts a new operation row.
func (db *DB) CreateSyncOperation(ctx context.Context, op *models.SyncOperation) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_operations (id, status, total, processed, succeeded, failed, error, started_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		op.ID, op.Status, op.Total, op.Processed, op.Succeeded, op.Failed, op.Error,
		op.StartedAt, op.UpdatedAt, op.CompletedAt)
	db.trackQuery("insert", "sync_operations", start, err)
	if err != nil {
		return fmt.Errorf("create sync operation: %w", err)
	}
	return nil
}

// UpdateSyncOperation persists the operation's current counters and status.
func (db *DB) UpdateSyncOperation(ctx context.Context, op *models.SyncOperation) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_operations SET
			status = $1, total = $2, processed = $3, succeeded = $4,
			failed = $5, error = $6, updated_at = $7, completed_at = $8
		WHERE id = $9`,
		op.Status, op.Total, op.Processed, op.Succeeded, op.Failed, op.Error,
		op.UpdatedAt, op.CompletedAt, op.ID)
	db.trackQuery("update", "sync_operations", start, err)
	if err != nil {
		return fmt.Errorf("update sync operation %s: %w", op.ID, err)
	}
	return nil
}

// GetSyncOperation loads an operation with its conflicts, or nil when the
// id is unknown.
func (db *DB) GetSyncOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	start := db.now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, status, total, processed, succeeded, failed, error, started_at, updated_at, completed_at
		FROM sync_operations
		WHERE id = $1`, id)

	op, err := scanSyncOperation(row)
	db.trackQuery("select", "sync_operations", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync operation %s: %w", id, err)
	}

	conflicts, err := db.ListConflicts(ctx, id, false)
	if err != nil {
		return nil, err
	}
	op.Conflicts = conflicts
	return op, nil
}

// ListSyncOperations returns operations newest first, capped at limit.
func (db *DB) ListSyncOperations(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	if limit <= 0 {
		limit = 50
	}

	start := db.now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, status, total, processed, succeeded, failed, error, started_at, updated_at, completed_at
		FROM sync_operations
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	db.trackQuery("select", "sync_operations", start, err)
	if err != nil {
		return nil, fmt.Errorf("list sync operations: %w", err)
	}
	defer closeWithLog(rows, "sync operation rows")

	var out []models.SyncOperation
	for rows.Next() {
		op, err := scanSyncOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync operation: %w", err)
		}
		out = append(out, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync operations: %w", err)
	}
	return out, nil
}

// InsertConflict records a conflict detected during sync.
func (db *DB) InsertConflict(ctx context.Context, c *models.SyncConflict) error {
	local, err := marshalConflictValue(c.LocalValue)
	if err != nil {
		return fmt.Errorf("encode local value: %w", err)
	}
	remote, err := marshalConflictValue(c.RemoteValue)
	if err != nil {
		return fmt.Errorf("encode remote value: %w", err)
	}

	start := db.now()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, operation_id, device_id, type, local_value, remote_value, resolved, resolution, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.OperationID, c.DeviceID, c.Type, local, remote, c.Resolved, c.Resolution, c.CreatedAt, c.ResolvedAt)
	db.trackQuery("insert", "sync_conflicts", start, err)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// MarkConflictResolved stores the chosen resolution for a conflict.
func (db *DB) MarkConflictResolved(ctx context.Context, conflictID string, resolution models.Resolution, resolvedAt time.Time) error {
	start := db.now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_conflicts SET resolved = TRUE, resolution = $1, resolved_at = $2
		WHERE id = $3 AND NOT resolved`,
		resolution, resolvedAt, conflictID)
	db.trackQuery("update", "sync_conflicts", start, err)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", conflictID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conflict %s not found or already resolved", conflictID)
	}
	return nil
}

// ListConflicts returns an operation's conflicts, oldest first. With
// unresolvedOnly set, resolved conflicts are filtered out.
func (db *DB) ListConflicts(ctx context.Context, operationID string, unresolvedOnly bool) ([]models.SyncConflict, error) {
	query := `
		SELECT id, operation_id, device_id, type, local_value, remote_value, resolved, resolution, created_at, resolved_at
		FROM sync_conflicts
		WHERE operation_id = $1`
	if unresolvedOnly {
		query += ` AND NOT resolved`
	}
	query += ` ORDER BY created_at`

	start := db.now()
	rows, err := db.conn.QueryContext(ctx, query, operationID)
	db.trackQuery("select", "sync_conflicts", start, err)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer closeWithLog(rows, "conflict rows")

	var out []models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		var local, remote sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.OperationID, &c.DeviceID, &c.Type, &local, &remote,
			&c.Resolved, &c.Resolution, &c.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if local.Valid {
			if err := json.Unmarshal([]byte(local.String), &c.LocalValue); err != nil {
				return nil, fmt.Errorf("decode local value: %w", err)
			}
		}
		if remote.Valid {
			if err := json.Unmarshal([]byte(remote.String), &c.RemoteValue); err != nil {
				return nil, fmt.Errorf("decode remote value: %w", err)
			}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return out, nil
}

func scanSyncOperation(row rowScanner) (*models.SyncOperation, error) {
	var op models.SyncOperation
	var completedAt sql.NullTime
	err := row.Scan(&op.ID, &op.Status, &op.Total, &op.Processed, &op.Succeeded,
		&op.Failed, &op.Error, &op.StartedAt, &op.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		op.CompletedAt = &t
	}
	return &op, nil
}

func marshalConflictValue(v map[string]any) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
