// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

// Package main is the entry point for the FleetIQ server.
//
// FleetIQ is a fleet-management dashboard backend built on the GP51 GPS
// vendor API. It maintains a single shared vendor session, polls device
// positions into PostgreSQL, reconciles the vendor's device inventory
// through resumable bulk syncs, and pushes live updates to dashboards
// over WebSocket.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered config (env > config file > defaults)
//  2. Database: PostgreSQL connection pool plus LISTEN/NOTIFY listener
//  3. GP51 client: rate-limited HTTP client behind a circuit breaker
//  4. Session manager: shared vendor session with periodic health probe
//  5. WebSocket hub: realtime fan-out to connected dashboards
//  6. Poller: periodic position ingestion with fleet-metric refresh
//  7. Sync manager: bulk device reconciliation with BadgerDB checkpoints
//  8. HTTP server: REST API behind JWT, Basic, or no auth
//
// Everything long-running sits in a suture supervision tree, so a
// crashing vendor integration restarts without taking down the API.
//
// # Configuration
//
// Koanf layers environment variables over an optional config.yaml over
// built-in defaults. The essentials:
//
//	export DATABASE_URL=postgres://fleetiq:pw@localhost/fleetiq?sslmode=disable
//	export GP51_BASE_URL=https://www.gps51.com/webapi
//	export GP51_USERNAME=fleetops
//	export GP51_PASSWORD=secret
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ADMIN_USERNAME=admin
//	export ADMIN_PASSWORD=secure-password
//	./fleetiq
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the poller finishes its current cycle, and an
// active sync persists its checkpoint so the next start resumes it.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fleetiq/fleetiq/internal/api"
	"github.com/fleetiq/fleetiq/internal/auth"
	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/database"
	"github.com/fleetiq/fleetiq/internal/fleetsync"
	"github.com/fleetiq/fleetiq/internal/gp51"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/models"
	"github.com/fleetiq/fleetiq/internal/poller"
	"github.com/fleetiq/fleetiq/internal/supervisor"
	"github.com/fleetiq/fleetiq/internal/supervisor/services"
	ws "github.com/fleetiq/fleetiq/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("gp51_url", cfg.GP51.BaseURL).
		Str("auth_mode", cfg.Security.AuthMode).
		Str("environment", cfg.Server.Environment).
		Msg("Starting FleetIQ")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vendor client behind a circuit breaker so a flapping GP51 endpoint
	// sheds load instead of stacking up timeouts.
	vendorClient := gp51.NewCircuitBreakerClient(&cfg.GP51)

	sessionManager := gp51.NewSessionManager(vendorClient, db, &cfg.GP51)

	wsHub := ws.NewHub()

	// Dashboards see vendor connectivity changes as they happen.
	sessionManager.SubscribeHealth(func(health models.SessionHealth) {
		wsHub.BroadcastSessionHealth(health)
	})

	positionPoller := poller.New(vendorClient, sessionManager, db, wsHub, &cfg.Poller)

	// The notify listener rebroadcasts position writes from every server
	// instance, so dashboards attached here see polls done elsewhere.
	var listener *database.PositionListener
	if cfg.Database.ListenerEnabled {
		listener = database.NewPositionListener(&cfg.Database, func(deviceID string) {
			lookupCtx, lookupCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer lookupCancel()

			position, err := db.GetPosition(lookupCtx, deviceID)
			if err != nil || position == nil {
				return
			}
			wsHub.BroadcastPositions([]models.DevicePosition{*position})
		})
	}

	progress, badgerDB := openSyncProgress(cfg)
	if badgerDB != nil {
		defer func() {
			if err := badgerDB.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing sync progress store")
			}
		}()
	}

	syncManager := fleetsync.New(vendorClient, sessionManager, db, wsHub, progress, &cfg.Sync, cfg.GP51.Username)

	jwtManager, basicManager := initAuth(cfg)
	middleware := auth.NewMiddleware(jwtManager, basicManager, cfg.Security.AuthMode)

	handler := api.NewHandler(cfg, db, sessionManager, positionPoller, syncManager, wsHub, jwtManager, basicManager)
	server := api.NewServer(&cfg.Server, api.NewRouter(handler, middleware))

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if listener != nil {
		tree.AddDataService(services.NewListenerService(listener))
	}

	tree.AddVendorService(services.NewHubService(wsHub))
	tree.AddVendorService(services.NewSessionService(sessionManager))
	tree.AddVendorService(syncManager)
	if cfg.Poller.Enabled {
		tree.AddVendorService(positionPoller)
	} else {
		logging.Info().Msg("Position poller disabled (POLLER_ENABLED=false); start it via the API if needed")
	}

	tree.AddAPIService(server)
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("FleetIQ stopped gracefully")
}

// openSyncProgress opens the BadgerDB checkpoint store when a path is
// configured, falling back to in-memory progress (checkpoints then do
// not survive restarts).
func openSyncProgress(cfg *config.Config) (fleetsync.ProgressTracker, *badger.DB) {
	if cfg.Sync.ProgressPath == "" {
		logging.Info().Msg("Sync progress path not configured, checkpoints kept in memory")
		return fleetsync.NewInMemoryProgress(), nil
	}

	opts := badger.DefaultOptions(cfg.Sync.ProgressPath).WithLogger(nil)
	badgerDB, err := badger.Open(opts)
	if err != nil {
		logging.Warn().Err(err).Str("path", cfg.Sync.ProgressPath).
			Msg("Failed to open sync progress store, falling back to in-memory checkpoints")
		return fleetsync.NewInMemoryProgress(), nil
	}

	logging.Info().Str("path", cfg.Sync.ProgressPath).Msg("Sync progress store opened")
	return fleetsync.NewBadgerProgress(badgerDB), badgerDB
}

// initAuth builds the managers for the configured auth mode. The basic
// manager is also created in jwt mode: it holds the bcrypt hash the
// dashboard login endpoint verifies against.
func initAuth(cfg *config.Config) (*auth.JWTManager, *auth.BasicAuthManager) {
	var jwtManager *auth.JWTManager
	var basicManager *auth.BasicAuthManager
	var err error

	switch cfg.Security.AuthMode {
	case auth.ModeJWT:
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		basicManager, err = auth.NewBasicAuthManager(cfg.Security.AdminUsername, cfg.Security.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize credential store")
		}
		logging.Info().Msg("JWT authentication enabled")

	case auth.ModeBasic:
		basicManager, err = auth.NewBasicAuthManager(cfg.Security.AdminUsername, cfg.Security.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize Basic Auth manager")
		}
		logging.Info().Msg("Basic authentication enabled")
		logging.Warn().Msg("Basic Auth sends credentials with each request, use HTTPS in production")

	case auth.ModeNone:
		logging.Warn().Msg("Authentication is DISABLED (AUTH_MODE=none); every endpoint is public")
		logging.Warn().Msg("Use this mode only for local development or isolated networks")
	}

	return jwtManager, basicManager
}
