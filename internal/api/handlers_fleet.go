// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListPositions returns the latest known position per device.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	positions, err := h.store.ListPositions(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessList(positions, len(positions))
}

// GetPosition returns the latest position for one device.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deviceID := chi.URLParam(r, "deviceID")
	position, err := h.store.GetPosition(r.Context(), deviceID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if position == nil {
		rw.NotFound("no position recorded for device " + deviceID)
		return
	}
	rw.Success(position)
}

// ListDevices returns the synced device inventory.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessList(devices, len(devices))
}

// GetDevice returns one device from the synced inventory.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deviceID := chi.URLParam(r, "deviceID")
	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if device == nil {
		rw.NotFound("unknown device " + deviceID)
		return
	}
	rw.Success(device)
}

// ListGroups returns the synced device groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessList(groups, len(groups))
}

// FleetMetrics returns aggregate fleet counts for the dashboard header.
func (h *Handler) FleetMetrics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	metrics, err := h.store.GetFleetMetrics(r.Context(), h.cfg.Poller.ActiveWindow)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(metrics)
}
