// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"
	"time"

	"github.com/fleetiq/fleetiq/internal/models"
)

type healthResponse struct {
	Status   string               `json:"status"`
	Uptime   string               `json:"uptime"`
	Database string               `json:"database"`
	Vendor   models.SessionStatus `json:"vendor"`
}

// HealthLive is the liveness probe. It answers as long as the process
// can serve HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe. Ready requires a reachable
// database; vendor session state is reported but does not gate
// readiness, the dashboard stays usable on stored data.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	resp := healthResponse{
		Status:   "ready",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Database: "up",
		Vendor:   h.sessions.Health().Status,
	}

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "not_ready"
		resp.Database = "down"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"database unreachable", resp)
		return
	}

	rw.Success(resp)
}
