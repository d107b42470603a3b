// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"
)

type pollerStatusResponse struct {
	Running  bool   `json:"running"`
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

// PollerStatus reports whether the background poller loop is running.
func (h *Handler) PollerStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(pollerStatusResponse{
		Running:  h.poller.IsRunning(),
		Enabled:  h.cfg.Poller.Enabled,
		Interval: h.cfg.Poller.Interval.String(),
	})
}

// PollerStart launches the background poll loop. Starting a running
// poller is a no-op.
func (h *Handler) PollerStart(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.poller.Start(r.Context()); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	rw.Accepted(pollerStatusResponse{
		Running:  true,
		Enabled:  h.cfg.Poller.Enabled,
		Interval: h.cfg.Poller.Interval.String(),
	})
}

// PollerStop halts the background poll loop.
func (h *Handler) PollerStop(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	h.poller.Stop()
	rw.NoContent()
}

// PollerRefresh runs one poll cycle synchronously and returns its stats.
// A cycle skipped for lack of a vendor session reports null stats.
func (h *Handler) PollerRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.poller.RefreshOnce(r.Context())
	if err != nil {
		rw.VendorError(err)
		return
	}
	rw.Success(stats)
}
