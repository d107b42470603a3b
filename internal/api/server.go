// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
)

// shutdownGrace bounds how long in-flight requests may run during stop.
const shutdownGrace = 10 * time.Second

// Server wraps the HTTP server with lifecycle methods that fit the
// supervision tree.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server around the assembled router.
func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			// No WriteTimeout: the websocket endpoint holds connections open.
			IdleTimeout: 120 * time.Second,
		},
	}
}

// Serve runs the server until ctx is cancelled, then drains in-flight
// requests. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete, closing")
			_ = s.srv.Close()
		}
		<-errCh
		return ctx.Err()
	}
}
