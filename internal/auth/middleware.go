// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

// Package auth provides dashboard authentication for FleetIQ: JWT
// session tokens, HTTP Basic credentials, and the Chi middleware that
// enforces either mode. The vendor (GP51) credential is separate and
// handled by the gp51 session manager; this package only guards the
// dashboard API surface.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fleetiq/fleetiq/internal/logging"
)

type contextKey string

// ClaimsContextKey carries the authenticated user's claims through the
// request context.
const ClaimsContextKey contextKey = "claims"

// Auth modes accepted by the middleware.
const (
	ModeJWT   = "jwt"
	ModeBasic = "basic"
	ModeNone  = "none"
)

// Middleware enforces dashboard authentication on API routes.
type Middleware struct {
	jwt   *JWTManager
	basic *BasicAuthManager
	mode  string
}

// NewMiddleware creates authentication middleware. The managers may be
// nil for modes that do not use them.
func NewMiddleware(jwtManager *JWTManager, basicManager *BasicAuthManager, mode string) *Middleware {
	return &Middleware{jwt: jwtManager, basic: basicManager, mode: mode}
}

// Authenticate wraps a handler with the configured auth mode. It is
// shaped for chi's Use().
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch m.mode {
		case ModeNone:
			next.ServeHTTP(w, r)
		case ModeBasic:
			m.serveBasic(w, r, next)
		default:
			m.serveJWT(w, r, next)
		}
	})
}

func (m *Middleware) serveBasic(w http.ResponseWriter, r *http.Request, next http.Handler) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		w.Header().Set("WWW-Authenticate", m.basic.WWWAuthenticate())
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	username, err := m.basic.ValidateCredentials(authHeader)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Basic auth rejected")
		w.Header().Set("WWW-Authenticate", m.basic.WWWAuthenticate())
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	claims := &Claims{Username: username, Role: "admin"}
	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims)))
}

func (m *Middleware) serveJWT(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token, err := extractToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Token rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims)))
}

// extractToken pulls the JWT from the Authorization header, falling
// back to the token cookie set by the login endpoint.
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		cookie, err := r.Cookie("token")
		if err != nil {
			return "", fmt.Errorf("missing token")
		}
		return cookie.Value, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return parts[1], nil
}

// ClaimsFromContext returns the authenticated claims, or nil when the
// request was not authenticated (auth_mode=none).
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}
