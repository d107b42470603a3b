// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

// Package services adapts Start/Stop-style components to suture's
// context-driven Serve contract so they can live in the supervision
// tree. Components that already expose Serve(ctx) are added to the tree
// directly and need no wrapper here.
package services

import (
	"context"
	"fmt"
)

// SessionManager matches the lifecycle of the GP51 session manager.
type SessionManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SessionService supervises the vendor session health-probe loop.
type SessionService struct {
	manager SessionManager
}

// NewSessionService wraps the session manager for supervision.
func NewSessionService(manager SessionManager) *SessionService {
	return &SessionService{manager: manager}
}

// Serve implements suture.Service. Start launches the probe loop in the
// background, so Serve blocks on the context and stops the loop on
// cancellation.
func (s *SessionService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("stop session manager: %w", err)
	}
	return ctx.Err()
}

func (s *SessionService) String() string { return "gp51-session-manager" }
