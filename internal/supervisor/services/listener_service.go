// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package services

import (
	"context"
	"fmt"
)

// NotifyListener matches the lifecycle of the Postgres LISTEN/NOTIFY
// position listener.
type NotifyListener interface {
	Start() error
	Stop() error
}

// ListenerService supervises the notify listener.
type ListenerService struct {
	listener NotifyListener
}

// NewListenerService wraps the listener for supervision.
func NewListenerService(listener NotifyListener) *ListenerService {
	return &ListenerService{listener: listener}
}

// Serve implements suture.Service.
func (s *ListenerService) Serve(ctx context.Context) error {
	if err := s.listener.Start(); err != nil {
		return fmt.Errorf("start position listener: %w", err)
	}

	<-ctx.Done()

	if err := s.listener.Stop(); err != nil {
		return fmt.Errorf("stop position listener: %w", err)
	}
	return ctx.Err()
}

func (s *ListenerService) String() string { return "position-listener" }
