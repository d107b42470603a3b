// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"
	"time"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

// AuthLogin exchanges dashboard credentials for a JWT. The token is also
// set as a cookie so the websocket endpoint can authenticate without a
// custom header.
func (h *Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.jwt == nil || h.basic == nil {
		rw.Error(http.StatusNotImplemented, ErrCodeBadRequest, "token login is not enabled on this instance")
		return
	}

	var req loginRequest
	if !h.decodeBody(rw, r, &req) {
		return
	}

	if !h.basic.VerifyPassword(req.Username, req.Password) {
		rw.Unauthorized("invalid username or password")
		return
	}

	token, err := h.jwt.GenerateToken(req.Username, "admin")
	if err != nil {
		rw.InternalError("failed to issue token")
		return
	}

	expires := time.Now().Add(h.cfg.Security.SessionTimeout)
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.cfg.Server.Environment == "production",
	})

	rw.Success(loginResponse{
		Token:     token,
		ExpiresAt: expires.UTC(),
		Username:  req.Username,
		Role:      "admin",
	})
}

// AuthLogout clears the token cookie. JWTs themselves stay valid until
// expiry; this only removes the browser copy.
func (h *Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	rw.NoContent()
}
