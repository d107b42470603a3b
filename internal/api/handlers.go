// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/auth"
	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/models"
	"github.com/fleetiq/fleetiq/internal/poller"
	ws "github.com/fleetiq/fleetiq/internal/websocket"
)

// maxBodyBytes caps request bodies to keep decode memory bounded.
const maxBodyBytes = 1 << 20

// SessionService is the vendor session surface the handlers drive.
type SessionService interface {
	Login(ctx context.Context, username, password string) (*models.VendorSession, error)
	Logout(ctx context.Context) error
	ValidateSession(ctx context.Context) (bool, *models.VendorSession, error)
	Health() models.SessionHealth
}

// PollerService controls the background position poller.
type PollerService interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	RefreshOnce(ctx context.Context) (*poller.PollStats, error)
}

// SyncService orchestrates bulk device reconciliation.
type SyncService interface {
	StartFullSync(ctx context.Context) (string, error)
	ResolveConflict(ctx context.Context, conflictID string, resolution models.Resolution) error
	Pause()
	Resume()
	Cancel()
	GetOperation(ctx context.Context, id string) (*models.SyncOperation, error)
	ListOperations(ctx context.Context, limit int) ([]models.SyncOperation, error)
	ActiveOperation() *models.SyncOperation
}

// FleetStore is the read/health surface the handlers need from Postgres.
type FleetStore interface {
	Ping(ctx context.Context) error
	GetPosition(ctx context.Context, deviceID string) (*models.DevicePosition, error)
	ListPositions(ctx context.Context) ([]models.DevicePosition, error)
	GetFleetMetrics(ctx context.Context, activeWindow time.Duration) (*models.FleetMetrics, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListGroups(ctx context.Context) ([]models.DeviceGroup, error)
	ListConflicts(ctx context.Context, operationID string, unresolvedOnly bool) ([]models.SyncConflict, error)
}

// Handler carries the dependencies shared by all endpoint methods.
type Handler struct {
	cfg      *config.Config
	store    FleetStore
	sessions SessionService
	poller   PollerService
	syncer   SyncService
	hub      *ws.Hub
	jwt      *auth.JWTManager
	basic    *auth.BasicAuthManager
	validate *validator.Validate
	started  time.Time
}

// NewHandler wires the endpoint set. jwt and basic may be nil when the
// corresponding auth mode is not configured.
func NewHandler(
	cfg *config.Config,
	store FleetStore,
	sessions SessionService,
	pollerSvc PollerService,
	syncer SyncService,
	hub *ws.Hub,
	jwtManager *auth.JWTManager,
	basicManager *auth.BasicAuthManager,
) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		poller:   pollerSvc,
		syncer:   syncer,
		hub:      hub,
		jwt:      jwtManager,
		basic:    basicManager,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now().UTC(),
	}
}

// decodeBody decodes and validates a JSON request body into dst. A false
// return means the error response has already been written.
func (h *Handler) decodeBody(rw *ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() { _ = body.Close() }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			rw.BadRequest("request body is required")
			return false
		}
		rw.BadRequest("invalid JSON body: " + err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				details[fe.Field()] = fe.Tag()
			}
			rw.ValidationError("request validation failed", details)
			return false
		}
		rw.BadRequest("request validation failed")
		return false
	}
	return true
}
