// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package services

import "context"

// HubRunner matches the websocket hub's blocking run loop.
type HubRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService supervises the websocket broadcast hub.
type HubService struct {
	hub HubRunner
}

// NewHubService wraps the hub for supervision.
func NewHubService(hub HubRunner) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service. The hub loop already honors the
// context, so this is a direct delegation.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "websocket-hub" }
