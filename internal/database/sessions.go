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

	"github.com/google/uuid"

	"github.com/fleetiq/fleetiq/internal/models"
)

// Vendor session persistence. One logical session per deployment: the
// most recent row by expiry is canonical, and writes funnel through an
// insert-then-prune or a compare-and-swap update so concurrent server
// instances converge on a single row.

// GetSession returns the canonical vendor session, or nil when none is
// stored.
func (db *DB) GetSession(ctx context.Context) (*models.VendorSession, error) {
	start := db.now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, username, token, api_url, expires_at, created_at, updated_at
		FROM vendor_sessions
		ORDER BY expires_at DESC
		LIMIT 1`)

	var s models.VendorSession
	err := row.Scan(&s.ID, &s.Username, &s.Token, &s.APIURL, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	db.trackQuery("select", "vendor_sessions", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// PutSession stores a new session and prunes any older rows, leaving the
// new row canonical. Assigns an id when the session has none.
func (db *DB) PutSession(ctx context.Context, s *models.VendorSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	start := db.now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vendor_sessions WHERE id <> $1`, s.ID); err != nil {
		_ = tx.Rollback()
		db.trackQuery("upsert", "vendor_sessions", start, err)
		return fmt.Errorf("prune old sessions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vendor_sessions (id, username, token, api_url, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			username   = EXCLUDED.username,
			token      = EXCLUDED.token,
			api_url    = EXCLUDED.api_url,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.Username, s.Token, s.APIURL, s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		db.trackQuery("upsert", "vendor_sessions", start, err)
		return fmt.Errorf("put session: %w", err)
	}

	err = tx.Commit()
	db.trackQuery("upsert", "vendor_sessions", start, err)
	if err != nil {
		return fmt.Errorf("commit put session: %w", err)
	}
	return nil
}

// SwapSession updates the session row only if it still carries
// prevUpdatedAt, serializing concurrent refreshes across instances.
// Returns false when another writer got there first.
func (db *DB) SwapSession(ctx context.Context, s *models.VendorSession, prevUpdatedAt time.Time) (bool, error) {
	start := db.now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE vendor_sessions SET
			username   = $1,
			token      = $2,
			api_url    = $3,
			expires_at = $4,
			updated_at = $5
		WHERE id = $6 AND updated_at = $7`,
		s.Username, s.Token, s.APIURL, s.ExpiresAt, s.UpdatedAt, s.ID, prevUpdatedAt)
	db.trackQuery("update", "vendor_sessions", start, err)
	if err != nil {
		return false, fmt.Errorf("swap session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap session rows: %w", err)
	}
	return affected == 1, nil
}

// DeleteSession removes every stored session. Idempotent.
func (db *DB) DeleteSession(ctx context.Context) error {
	start := db.now()
	_, err := db.conn.ExecContext(ctx, `DELETE FROM vendor_sessions`)
	db.trackQuery("delete", "vendor_sessions", start, err)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
