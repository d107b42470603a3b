// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
manager.go - Bulk Fleet Sync Manager

Reconciles the vendor's device tree (groups and devices from
querymonitorlist) into the local tables, outside the high-frequency
position loop.

State machine: pending -> running -> (paused | completed | failed |
cancelled), paused -> running once every open conflict is resolved. A
record the sync cannot apply automatically becomes a SyncConflict and
pauses the operation; an operator resolves it with prefer_local,
prefer_remote or merge, and resolving the last open conflict resumes
processing automatically. An operation with unresolved conflicts never
reaches completed.

At most one non-terminal operation exists per manager. Progress is
checkpointed through a ProgressTracker so a run interrupted by a restart
can be resumed by the next StartFullSync call.
*/
package fleetsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// Inventory fetches the vendor device tree. Satisfied by the gp51
// circuit breaker client.
type Inventory interface {
	QueryMonitorList(ctx context.Context, token, username string) (*models.GP51MonitorListResponse, error)
}

// TokenSource provides the current vendor token. Satisfied by the gp51
// session manager.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Store persists groups, devices and sync bookkeeping. Satisfied by
// *database.DB.
type Store interface {
	UpsertGroup(ctx context.Context, g *models.DeviceGroup) error
	UpsertDevice(ctx context.Context, d *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)

	CreateSyncOperation(ctx context.Context, op *models.SyncOperation) error
	UpdateSyncOperation(ctx context.Context, op *models.SyncOperation) error
	GetSyncOperation(ctx context.Context, id string) (*models.SyncOperation, error)
	ListSyncOperations(ctx context.Context, limit int) ([]models.SyncOperation, error)

	InsertConflict(ctx context.Context, c *models.SyncConflict) error
	MarkConflictResolved(ctx context.Context, conflictID string, resolution models.Resolution, resolvedAt time.Time) error
}

// Broadcaster pushes sync progress to connected dashboards. May be nil.
type Broadcaster interface {
	BroadcastSyncProgress(op *models.SyncOperation)
	BroadcastSyncCompleted(op *models.SyncOperation, duration time.Duration)
}

var (
	// ErrSyncInProgress is returned by StartFullSync while a non-terminal
	// operation exists.
	ErrSyncInProgress = errors.New("sync operation already in progress")

	// ErrConflictNotFound is returned when a resolution references no open
	// conflict on the active operation.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrInvalidResolution is returned for resolution strategies outside
	// prefer_local, prefer_remote and merge.
	ErrInvalidResolution = errors.New("invalid conflict resolution")

	// errSyncCancelled stops the worker loop after an operator cancel.
	errSyncCancelled = errors.New("sync cancelled")
)

const defaultBatchSize = 50

// Manager orchestrates bulk sync operations.
type Manager struct {
	inventory Inventory
	tokens    TokenSource
	store     Store
	hub       Broadcaster
	progress  ProgressTracker
	cfg       *config.SyncConfig
	username  string

	// mu guards the active operation and the resume gate. starting
	// covers the window between accepting a StartFullSync call and
	// installing its operation.
	mu       sync.Mutex
	op       *models.SyncOperation
	resume   chan struct{}
	starting bool

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]func(models.SyncOperation)

	runMu     sync.Mutex
	cancelRun context.CancelFunc

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a sync manager. username is the vendor account the device
// tree is fetched for. Pass a nil hub to disable realtime push.
func New(inventory Inventory, tokens TokenSource, store Store, hub Broadcaster, progress ProgressTracker, cfg *config.SyncConfig, username string) *Manager {
	if progress == nil {
		progress = NewInMemoryProgress()
	}
	return &Manager{
		inventory: inventory,
		tokens:    tokens,
		store:     store,
		hub:       hub,
		progress:  progress,
		cfg:       cfg,
		username:  username,
		subs:      make(map[int]func(models.SyncOperation)),
		now:       time.Now,
	}
}

// StartFullSync creates a sync operation and begins processing in the
// background, returning the operation id immediately. Callers follow
// progress via Subscribe or GetOperation. When a checkpoint from an
// interrupted run references a non-terminal stored operation, that
// operation is resumed instead of starting fresh.
func (m *Manager) StartFullSync(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.starting || (m.op != nil && !m.op.Status.Terminal()) {
		var id string
		if m.op != nil {
			id = m.op.ID
		}
		m.mu.Unlock()
		return id, ErrSyncInProgress
	}
	m.starting = true
	m.mu.Unlock()

	op, startIndex, err := m.adoptOrCreate(ctx)

	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.op = op
	m.resume = nil
	m.mu.Unlock()

	m.notify()

	runCtx, cancel := context.WithCancel(context.Background())
	m.runMu.Lock()
	m.cancelRun = cancel
	m.runMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(runCtx, startIndex)
	}()

	return op.ID, nil
}

// adoptOrCreate resumes the checkpointed operation when one is still
// open, otherwise creates a fresh one.
func (m *Manager) adoptOrCreate(ctx context.Context) (*models.SyncOperation, int, error) {
	if cp, err := m.progress.Load(ctx); err == nil && cp != nil {
		op, err := m.store.GetSyncOperation(ctx, cp.OperationID)
		if err == nil && op != nil && !op.Status.Terminal() {
			logging.Info().
				Str("operation_id", op.ID).
				Int("next_index", cp.NextIndex).
				Msg("[sync] Resuming interrupted operation from checkpoint")
			return op, cp.NextIndex, nil
		}
		// Stale checkpoint, start over.
		if clearErr := m.progress.Clear(ctx); clearErr != nil {
			logging.Warn().Err(clearErr).Msg("[sync] Failed to clear stale checkpoint")
		}
	}

	now := m.now()
	op := &models.SyncOperation{
		ID:        uuid.NewString(),
		Status:    models.SyncPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSyncOperation(ctx, op); err != nil {
		return nil, 0, fmt.Errorf("create sync operation: %w", err)
	}
	return op, 0, nil
}

// run executes the sync worker for the active operation.
func (m *Manager) run(ctx context.Context, startIndex int) {
	start := m.now()

	items, err := m.fetchInventory(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.interrupt(start, err)
			return
		}
		m.finish(models.SyncFailed, start, err)
		return
	}

	m.mu.Lock()
	op := m.op
	op.Total = len(items)
	if op.Status == models.SyncPending {
		op.Status = models.SyncRunning
	}
	op.UpdatedAt = m.now()
	m.mu.Unlock()
	m.persist()
	m.notify()

	logging.Info().
		Str("operation_id", op.ID).
		Int("devices", len(items)).
		Int("start_index", startIndex).
		Msg("[sync] Processing device tree")

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	seen := make(map[string]struct{}, len(items))
	for i := range items[:startIndex] {
		seen[items[i].device.DeviceID] = struct{}{}
	}

	for i := startIndex; i < len(items); i++ {
		if err := m.gate(ctx); err != nil {
			m.interrupt(start, err)
			return
		}

		m.processItem(ctx, &items[i], seen)
		metrics.SyncRecordsProcessed.Inc()

		if (i+1)%batchSize == 0 {
			m.checkpoint(ctx, i+1)
			m.persist()
			m.notify()
		} else {
			m.checkpoint(ctx, i+1)
		}
	}

	// A conflict on the final record leaves the operation paused; it may
	// not complete until the operator resolves it.
	if err := m.gate(ctx); err != nil {
		m.interrupt(start, err)
		return
	}

	m.finish(models.SyncCompleted, start, nil)
}

// gate blocks while the operation is paused and reports cancellation.
func (m *Manager) gate(ctx context.Context) error {
	for {
		m.mu.Lock()
		status := m.op.Status
		resume := m.resume
		m.mu.Unlock()

		switch status {
		case models.SyncRunning, models.SyncPending:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		case models.SyncPaused:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-resume:
			}
		default:
			return errSyncCancelled
		}
	}
}

// interrupt handles a worker exit before completion. Operator cancels
// finish the operation; context cancellation (process shutdown) leaves
// it open so the checkpoint can resume it later.
func (m *Manager) interrupt(start time.Time, err error) {
	if errors.Is(err, errSyncCancelled) {
		m.finish(models.SyncCancelled, start, nil)
		return
	}

	m.persist()
	logging.Warn().Err(err).Msg("[sync] Worker interrupted, operation left resumable")
}

// fetchInventory obtains the device tree, retrying transient failures,
// and upserts every parseable group before device processing starts.
func (m *Manager) fetchInventory(ctx context.Context) ([]workItem, error) {
	attempts := m.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var resp *models.GP51MonitorListResponse
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.RetryDelay):
			}
		}

		var token string
		token, err = m.tokens.GetToken(ctx)
		if err != nil {
			err = fmt.Errorf("acquire token: %w", err)
			continue
		}

		resp, err = m.inventory.QueryMonitorList(ctx, token, m.username)
		if err == nil {
			break
		}
		logging.Warn().Err(err).Int("attempt", attempt+1).Msg("[sync] Monitor list fetch failed")
	}
	if err != nil {
		return nil, fmt.Errorf("fetch monitor list: %w", err)
	}

	groups, items := flattenMonitorList(resp, m.now())
	for i := range groups {
		if err := m.store.UpsertGroup(ctx, &groups[i]); err != nil {
			return nil, fmt.Errorf("upsert group: %w", err)
		}
	}
	return items, nil
}

// processItem reconciles one device record, raising a conflict when it
// cannot be applied automatically.
func (m *Manager) processItem(ctx context.Context, item *workItem, seen map[string]struct{}) {
	remote := &item.device

	if _, dup := seen[remote.DeviceID]; dup {
		m.raiseConflict(ctx, models.ConflictDuplicateDevice, nil, remote)
		return
	}
	seen[remote.DeviceID] = struct{}{}

	if !item.groupOK {
		m.raiseConflict(ctx, models.ConflictMissingGroup, nil, remote)
		return
	}

	local, err := m.store.GetDevice(ctx, remote.DeviceID)
	if err != nil {
		m.recordFailure(remote.DeviceID, err)
		return
	}

	if local != nil && deviceDiffers(local, remote) {
		// A vendor record older than the local row would regress it; other
		// disagreements are plain field mismatches. Neither is applied
		// without an operator decision.
		conflictType := models.ConflictFieldMismatch
		if remote.LastActiveAt != nil && local.LastActiveAt != nil &&
			remote.LastActiveAt.Before(*local.LastActiveAt) {
			conflictType = models.ConflictStaleLocal
		}
		m.raiseConflict(ctx, conflictType, local, remote)
		return
	}

	if local == nil {
		if err := m.store.UpsertDevice(ctx, remote); err != nil {
			m.recordFailure(remote.DeviceID, err)
			return
		}
	}

	m.mu.Lock()
	m.op.Processed++
	m.op.Succeeded++
	m.op.UpdatedAt = m.now()
	m.mu.Unlock()
}

// raiseConflict stores a conflict and pauses the operation.
func (m *Manager) raiseConflict(ctx context.Context, conflictType models.ConflictType, local, remote *models.Device) {
	now := m.now()
	conflict := models.SyncConflict{
		ID:          uuid.NewString(),
		DeviceID:    remote.DeviceID,
		Type:        conflictType,
		LocalValue:  deviceDoc(local),
		RemoteValue: deviceDoc(remote),
		CreatedAt:   now,
	}

	m.mu.Lock()
	conflict.OperationID = m.op.ID
	m.op.Conflicts = append(m.op.Conflicts, conflict)
	m.op.Processed++
	m.op.Status = models.SyncPaused
	m.op.UpdatedAt = now
	m.resume = make(chan struct{})
	m.mu.Unlock()

	if err := m.store.InsertConflict(ctx, &conflict); err != nil {
		logging.Error().Err(err).Str("device_id", remote.DeviceID).Msg("[sync] Failed to store conflict")
	}
	metrics.SyncConflicts.WithLabelValues(string(conflictType)).Inc()

	logging.Warn().
		Str("device_id", remote.DeviceID).
		Str("conflict_type", string(conflictType)).
		Msg("[sync] Conflict detected, operation paused")

	m.persist()
	m.notify()
}

func (m *Manager) recordFailure(deviceID string, err error) {
	logging.Warn().Err(err).Str("device_id", deviceID).Msg("[sync] Device reconcile failed")
	m.mu.Lock()
	m.op.Processed++
	m.op.Failed++
	m.op.UpdatedAt = m.now()
	m.mu.Unlock()
}

// ResolveConflict applies an operator decision to an open conflict on
// the active operation. prefer_remote writes the vendor version,
// prefer_local keeps the local row untouched, merge keeps local
// operator-entered fields and takes the rest from the vendor. Resolving
// the last open conflict resumes processing automatically.
func (m *Manager) ResolveConflict(ctx context.Context, conflictID string, resolution models.Resolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	m.mu.Lock()
	if m.op == nil {
		m.mu.Unlock()
		return ErrConflictNotFound
	}
	var conflict *models.SyncConflict
	for i := range m.op.Conflicts {
		if m.op.Conflicts[i].ID == conflictID && !m.op.Conflicts[i].Resolved {
			conflict = &m.op.Conflicts[i]
			break
		}
	}
	if conflict == nil {
		m.mu.Unlock()
		return ErrConflictNotFound
	}
	localDoc := conflict.LocalValue
	remoteDoc := conflict.RemoteValue
	m.mu.Unlock()

	if err := m.applyResolution(ctx, resolution, localDoc, remoteDoc); err != nil {
		return fmt.Errorf("apply resolution: %w", err)
	}

	now := m.now()
	if err := m.store.MarkConflictResolved(ctx, conflictID, resolution, now); err != nil {
		return fmt.Errorf("mark conflict resolved: %w", err)
	}
	metrics.SyncConflictsResolved.WithLabelValues(string(resolution)).Inc()

	m.mu.Lock()
	conflict.Resolved = true
	conflict.Resolution = resolution
	conflict.ResolvedAt = &now
	m.op.Succeeded++
	m.op.UpdatedAt = now

	resumed := false
	if m.op.Status == models.SyncPaused && m.op.Unresolved() == 0 {
		m.op.Status = models.SyncRunning
		if m.resume != nil {
			close(m.resume)
			m.resume = nil
		}
		resumed = true
	}
	m.mu.Unlock()

	if resumed {
		logging.Info().Str("conflict_id", conflictID).Msg("[sync] Last conflict resolved, resuming")
	}

	m.persist()
	m.notify()
	return nil
}

// applyResolution performs the local write a resolution calls for.
func (m *Manager) applyResolution(ctx context.Context, resolution models.Resolution, localDoc, remoteDoc map[string]any) error {
	if resolution == models.ResolvePreferLocal {
		return nil
	}

	remote, err := docDevice(remoteDoc)
	if err != nil {
		return fmt.Errorf("decode remote value: %w", err)
	}

	target := remote
	if resolution == models.ResolveMerge && localDoc != nil {
		local, err := docDevice(localDoc)
		if err != nil {
			return fmt.Errorf("decode local value: %w", err)
		}
		target = mergeDevices(local, remote)
	}

	target.UpdatedAt = m.now()
	return m.store.UpsertDevice(ctx, target)
}

// Pause suspends a running operation. A no-op from any other state.
func (m *Manager) Pause() {
	m.mu.Lock()
	if m.op == nil || m.op.Status != models.SyncRunning {
		m.mu.Unlock()
		return
	}
	m.op.Status = models.SyncPaused
	m.op.UpdatedAt = m.now()
	m.resume = make(chan struct{})
	m.mu.Unlock()

	m.persist()
	m.notify()
}

// Resume continues a paused operation. A no-op from any other state,
// and while unresolved conflicts remain.
func (m *Manager) Resume() {
	m.mu.Lock()
	if m.op == nil || m.op.Status != models.SyncPaused || m.op.Unresolved() > 0 {
		m.mu.Unlock()
		return
	}
	m.op.Status = models.SyncRunning
	m.op.UpdatedAt = m.now()
	if m.resume != nil {
		close(m.resume)
		m.resume = nil
	}
	m.mu.Unlock()

	m.persist()
	m.notify()
}

// Cancel aborts a running or paused operation. A no-op from terminal
// states.
func (m *Manager) Cancel() {
	m.mu.Lock()
	if m.op == nil || m.op.Status.Terminal() || m.op.Status == models.SyncPending {
		m.mu.Unlock()
		return
	}
	m.op.Status = models.SyncCancelled
	m.op.UpdatedAt = m.now()
	if m.resume != nil {
		close(m.resume)
		m.resume = nil
	}
	m.mu.Unlock()
}

// GetOperation returns a stored operation by id, conflicts included.
func (m *Manager) GetOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	return m.store.GetSyncOperation(ctx, id)
}

// ListOperations returns recent operations, newest first.
func (m *Manager) ListOperations(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	return m.store.ListSyncOperations(ctx, limit)
}

// ActiveOperation returns a snapshot of the non-terminal operation, or
// nil when none is running.
func (m *Manager) ActiveOperation() *models.SyncOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op == nil || m.op.Status.Terminal() {
		return nil
	}
	snapshot := m.snapshotLocked()
	return &snapshot
}

// Subscribe registers a callback invoked with a full operation snapshot
// on every state change. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(models.SyncOperation)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

// Stop cancels any in-flight worker and waits for it to exit. An
// interrupted operation stays resumable through its checkpoint.
func (m *Manager) Stop() {
	m.runMu.Lock()
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.runMu.Unlock()
	m.wg.Wait()
}

// Serve runs the manager under a supervision tree, stopping the worker
// when the context is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

// finish moves the operation to a terminal state and emits bookkeeping.
func (m *Manager) finish(status models.SyncStatus, start time.Time, err error) {
	now := m.now()

	m.mu.Lock()
	if m.op.Status == models.SyncCancelled {
		status = models.SyncCancelled
	}
	m.op.Status = status
	if err != nil {
		m.op.Error = err.Error()
	}
	m.op.CompletedAt = &now
	m.op.UpdatedAt = now
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist()

	duration := now.Sub(start)
	metrics.SyncDuration.Observe(duration.Seconds())
	metrics.SyncOperations.WithLabelValues(string(status)).Inc()
	if status == models.SyncCompleted {
		metrics.SyncLastSuccess.SetToCurrentTime()
	}

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if clearErr := m.progress.Clear(clearCtx); clearErr != nil {
		logging.Warn().Err(clearErr).Msg("[sync] Failed to clear checkpoint")
	}

	event := logging.Info()
	if status == models.SyncFailed {
		event = logging.Error().Err(err)
	}
	event.
		Str("operation_id", snapshot.ID).
		Str("status", string(status)).
		Int("processed", snapshot.Processed).
		Int("succeeded", snapshot.Succeeded).
		Int("failed", snapshot.Failed).
		Dur("duration", duration).
		Msg("[sync] Operation finished")

	m.notify()
	if m.hub != nil {
		m.hub.BroadcastSyncCompleted(&snapshot, duration)
	}
}

// checkpoint saves resumption progress; failures are logged, not fatal.
func (m *Manager) checkpoint(ctx context.Context, nextIndex int) {
	m.mu.Lock()
	opID := m.op.ID
	m.mu.Unlock()

	cp := &Checkpoint{OperationID: opID, NextIndex: nextIndex, SavedAt: m.now()}
	if err := m.progress.Save(ctx, cp); err != nil {
		logging.Warn().Err(err).Msg("[sync] Failed to save checkpoint")
	}
}

// persist writes the current operation snapshot to the store.
func (m *Manager) persist() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.UpdateSyncOperation(ctx, &snapshot); err != nil {
		logging.Error().Err(err).Str("operation_id", snapshot.ID).Msg("[sync] Failed to persist operation")
	}
}

// notify sends a full snapshot to every subscriber and the hub.
func (m *Manager) notify() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.subMu.Lock()
	subs := make([]func(models.SyncOperation), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	if m.hub != nil {
		m.hub.BroadcastSyncProgress(&snapshot)
	}
}

// snapshotLocked copies the active operation. Callers hold mu.
func (m *Manager) snapshotLocked() models.SyncOperation {
	snapshot := *m.op
	snapshot.Conflicts = append([]models.SyncConflict(nil), m.op.Conflicts...)
	return snapshot
}
