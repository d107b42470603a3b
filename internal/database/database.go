// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
)

// DB wraps the PostgreSQL connection pool and provides data access
// methods for sessions, positions, devices, and sync operations.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	now func() time.Time
}

// New opens the PostgreSQL connection pool, verifies connectivity, and
// runs schema migrations.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{
		conn: conn,
		cfg:  cfg,
		now:  time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := db.migrate(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logging.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("PostgreSQL connection pool ready")
	return db, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Conn exposes the raw pool for components that need it (the notify
// listener uses its own connection but shares the DSN via cfg).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// trackQuery records query metrics and updates the in-use gauge.
func (db *DB) trackQuery(operation, table string, start time.Time, err error) {
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
	metrics.DBConnectionsInUse.Set(float64(db.conn.Stats().InUse))
}
