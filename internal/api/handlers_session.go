// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/fleetiq/fleetiq/internal/gp51"
	"github.com/fleetiq/fleetiq/internal/models"
)

// sessionView is the vendor session projection returned by the API. The
// raw token never leaves the server.
type sessionView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sessionStatusResponse struct {
	Valid   bool                 `json:"valid"`
	Health  models.SessionHealth `json:"health"`
	Session *sessionView         `json:"session,omitempty"`
}

type vendorLoginRequest struct {
	// Username and Password override the configured vendor credentials.
	// Both empty falls back to configuration.
	Username string `json:"username" validate:"required_with=Password"`
	Password string `json:"password" validate:"required_with=Username"`
}

func newSessionView(s *models.VendorSession) *sessionView {
	if s == nil {
		return nil
	}
	return &sessionView{
		ID:        s.ID,
		Username:  s.Username,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionStatus reports the current vendor session and its probed health.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	valid, session, err := h.sessions.ValidateSession(r.Context())
	if err != nil && !errors.Is(err, gp51.ErrNotAuthenticated) {
		rw.VendorError(err)
		return
	}

	rw.Success(sessionStatusResponse{
		Valid:   valid,
		Health:  h.sessions.Health(),
		Session: newSessionView(session),
	})
}

// SessionLogin performs a vendor login and persists the shared session.
// Explicit credentials in the body take precedence over configuration.
func (h *Handler) SessionLogin(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	username := h.cfg.GP51.Username
	password := h.cfg.GP51.Password
	if r.ContentLength > 0 {
		var req vendorLoginRequest
		if !h.decodeBody(rw, r, &req) {
			return
		}
		if req.Username != "" {
			username = req.Username
			password = req.Password
		}
	}
	if username == "" || password == "" {
		rw.BadRequest("vendor credentials are not configured; supply username and password")
		return
	}

	session, err := h.sessions.Login(r.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, gp51.ErrInvalidCredentials):
			rw.Error(http.StatusUnauthorized, ErrCodeVendorAuthFailed, "vendor rejected the credentials")
		default:
			rw.VendorError(err)
		}
		return
	}

	rw.Success(newSessionView(session))
}

// SessionLogout invalidates the shared vendor session. Logging out with
// no active session is a no-op.
func (h *Handler) SessionLogout(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.sessions.Logout(r.Context()); err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.NoContent()
}
