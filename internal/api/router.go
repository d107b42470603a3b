// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetiq/fleetiq/internal/auth"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
)

// NewRouter assembles the full HTTP surface: health and Prometheus
// endpoints are always public, the dashboard API sits behind the
// configured auth mode.
func NewRouter(h *Handler, authMW *auth.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(instrumentRequests)
	r.Use(chimiddleware.Recoverer)

	if len(h.cfg.Security.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.Security.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if !h.cfg.Security.RateLimitDisabled {
		r.Use(httprate.LimitByIP(h.cfg.Security.RateLimitReqs, h.cfg.Security.RateLimitWindow))
	}

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	upgrader := newUpgrader(h.cfg.Security.CORSOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		// Token issuance must stay reachable without a token.
		r.Post("/auth/login", h.AuthLogin)
		r.Post("/auth/logout", h.AuthLogout)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Authenticate)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", h.SessionStatus)
				r.Post("/login", h.SessionLogin)
				r.Post("/logout", h.SessionLogout)
			})

			r.Route("/poller", func(r chi.Router) {
				r.Get("/", h.PollerStatus)
				r.Post("/start", h.PollerStart)
				r.Post("/stop", h.PollerStop)
				r.Post("/refresh", h.PollerRefresh)
			})

			r.Route("/positions", func(r chi.Router) {
				r.Get("/", h.ListPositions)
				r.Get("/{deviceID}", h.GetPosition)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.ListDevices)
				r.Get("/{deviceID}", h.GetDevice)
			})

			r.Get("/groups", h.ListGroups)
			r.Get("/fleet/metrics", h.FleetMetrics)

			r.Route("/sync", func(r chi.Router) {
				r.Get("/", h.SyncList)
				r.Post("/", h.SyncStart)
				r.Route("/{operationID}", func(r chi.Router) {
					r.Get("/", h.SyncGet)
					r.Post("/pause", h.SyncPause)
					r.Post("/resume", h.SyncResume)
					r.Post("/cancel", h.SyncCancel)
					r.Get("/conflicts", h.SyncConflicts)
				})
				r.Post("/conflicts/{conflictID}/resolve", h.SyncResolveConflict)
			})

			r.Get("/ws", h.WebSocket(upgrader))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	return r
}

// requestLogger logs each request at debug with method, path, status and
// latency. Health probes are skipped to keep the log readable.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/live" || r.URL.Path == "/health/ready" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// instrumentRequests records per-route Prometheus counters and latency.
// The chi route pattern is used as the endpoint label so path parameters
// do not explode cardinality.
func instrumentRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
