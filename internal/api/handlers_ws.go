// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/fleetiq/fleetiq/internal/logging"
	ws "github.com/fleetiq/fleetiq/internal/websocket"
)

// newUpgrader builds the websocket upgrader with origin checks matching
// the configured CORS origins. A browser sends the token cookie with the
// upgrade request, so the auth middleware covers this endpoint too.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// WebSocket upgrades the connection and registers it with the hub. The
// client receives every subsequent broadcast until it disconnects.
func (h *Handler) WebSocket(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		client := ws.NewClient(h.hub, conn)
		h.hub.Register <- client
		client.Start()

		logging.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")
	}
}
