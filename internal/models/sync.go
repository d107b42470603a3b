// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package models

import "time"

// SyncStatus is the lifecycle state of a bulk sync operation.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncPaused    SyncStatus = "paused"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SyncStatus) Terminal() bool {
	switch s {
	case SyncCompleted, SyncFailed, SyncCancelled:
		return true
	}
	return false
}

// ConflictType classifies why a sync record could not be applied
// automatically.
type ConflictType string

const (
	ConflictDuplicateDevice ConflictType = "duplicate_device"
	ConflictStaleLocal      ConflictType = "stale_local"
	ConflictMissingGroup    ConflictType = "missing_group"
	ConflictFieldMismatch   ConflictType = "field_mismatch"
)

// Resolution is the operator's chosen outcome for a conflict.
type Resolution string

const (
	ResolvePreferLocal  Resolution = "prefer_local"
	ResolvePreferRemote Resolution = "prefer_remote"
	ResolveMerge        Resolution = "merge"
)

// Valid reports whether r is one of the accepted resolution strategies.
func (r Resolution) Valid() bool {
	switch r {
	case ResolvePreferLocal, ResolvePreferRemote, ResolveMerge:
		return true
	}
	return false
}

// SyncOperation tracks one bulk import of vendor data. Progress counters
// are monotonic within a run; a paused operation resumes from the last
// persisted checkpoint rather than restarting.
type SyncOperation struct {
	ID          string         `json:"id"`
	Status      SyncStatus     `json:"status"`
	Total       int            `json:"total"`
	Processed   int            `json:"processed"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Conflicts   []SyncConflict `json:"conflicts,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Unresolved counts conflicts still awaiting a resolution.
func (op *SyncOperation) Unresolved() int {
	n := 0
	for i := range op.Conflicts {
		if !op.Conflicts[i].Resolved {
			n++
		}
	}
	return n
}

// SyncConflict is a single record the sync manager set aside for manual
// resolution. LocalValue and RemoteValue hold the competing versions as
// loosely-typed documents so the dashboard can render a diff.
type SyncConflict struct {
	ID          string         `json:"id"`
	OperationID string         `json:"operation_id"`
	DeviceID    string         `json:"device_id"`
	Type        ConflictType   `json:"type"`
	LocalValue  map[string]any `json:"local_value,omitempty"`
	RemoteValue map[string]any `json:"remote_value,omitempty"`
	Resolved    bool           `json:"resolved"`
	Resolution  Resolution     `json:"resolution,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}
