// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetiq/fleetiq/internal/fleetsync"
	"github.com/fleetiq/fleetiq/internal/models"
)

const defaultSyncListLimit = 20

type syncStartResponse struct {
	OperationID string `json:"operation_id"`
}

type resolveConflictRequest struct {
	Resolution models.Resolution `json:"resolution" validate:"required"`
}

// SyncStart kicks off (or resumes) a full device sync. Only one
// operation may be active at a time.
func (h *Handler) SyncStart(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := h.syncer.StartFullSync(r.Context())
	if err != nil {
		if errors.Is(err, fleetsync.ErrSyncInProgress) {
			rw.ErrorWithDetails(http.StatusConflict, ErrCodeSyncAlreadyRunning,
				"a sync operation is already active", syncStartResponse{OperationID: id})
			return
		}
		rw.InternalError(err.Error())
		return
	}

	rw.Accepted(syncStartResponse{OperationID: id})
}

// SyncList returns recent sync operations, newest first. The limit query
// parameter caps the result, defaulting to 20.
func (h *Handler) SyncList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := defaultSyncListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = parsed
	}

	ops, err := h.syncer.ListOperations(r.Context(), limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessList(ops, len(ops))
}

// SyncGet returns one sync operation by id. The active operation is
// served from memory so progress counters are current.
func (h *Handler) SyncGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "operationID")
	if active := h.syncer.ActiveOperation(); active != nil && active.ID == id {
		rw.Success(active)
		return
	}

	op, err := h.syncer.GetOperation(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if op == nil {
		rw.NotFound("unknown sync operation " + id)
		return
	}
	rw.Success(op)
}

// SyncPause pauses the active operation. Applies only while running.
func (h *Handler) SyncPause(w http.ResponseWriter, r *http.Request) {
	h.syncControl(w, r, func() { h.syncer.Pause() })
}

// SyncResume resumes a paused operation with no outstanding conflicts.
func (h *Handler) SyncResume(w http.ResponseWriter, r *http.Request) {
	h.syncControl(w, r, func() { h.syncer.Resume() })
}

// SyncCancel cancels the active operation.
func (h *Handler) SyncCancel(w http.ResponseWriter, r *http.Request) {
	h.syncControl(w, r, func() { h.syncer.Cancel() })
}

// syncControl applies a state transition against the operation named in
// the URL. Transitions that do not apply to the current state are no-ops;
// the response carries the post-transition snapshot either way.
func (h *Handler) syncControl(w http.ResponseWriter, r *http.Request, apply func()) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "operationID")
	active := h.syncer.ActiveOperation()
	if active == nil || active.ID != id {
		rw.NotFound("no active sync operation with id " + id)
		return
	}

	apply()
	rw.Success(h.syncer.ActiveOperation())
}

// SyncConflicts lists conflicts for an operation. unresolved=true limits
// the result to conflicts still awaiting a decision.
func (h *Handler) SyncConflicts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "operationID")
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	conflicts, err := h.store.ListConflicts(r.Context(), id, unresolvedOnly)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessList(conflicts, len(conflicts))
}

// SyncResolveConflict applies an operator decision to a pending conflict.
func (h *Handler) SyncResolveConflict(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	conflictID := chi.URLParam(r, "conflictID")
	var req resolveConflictRequest
	if !h.decodeBody(rw, r, &req) {
		return
	}

	if err := h.syncer.ResolveConflict(r.Context(), conflictID, req.Resolution); err != nil {
		switch {
		case errors.Is(err, fleetsync.ErrInvalidResolution):
			rw.Error(http.StatusBadRequest, ErrCodeInvalidResolution,
				"resolution must be prefer_local, prefer_remote or merge")
		case errors.Is(err, fleetsync.ErrConflictNotFound):
			rw.NotFound("no unresolved conflict with id " + conflictID)
		default:
			rw.DatabaseError(err)
		}
		return
	}

	rw.Success(h.syncer.ActiveOperation())
}
