// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package fleetsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// progressKey is the BadgerDB key for the sync checkpoint.
const progressKey = "sync:gp51:checkpoint"

// Checkpoint records how far a sync operation got, so an interrupted run
// can resume after a restart instead of starting over.
type Checkpoint struct {
	OperationID string    `json:"operation_id"`
	NextIndex   int       `json:"next_index"`
	SavedAt     time.Time `json:"saved_at"`
}

// ProgressTracker persists sync checkpoints across restarts.
type ProgressTracker interface {
	// Save persists the current checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves the last saved checkpoint, or nil when none exists.
	Load(ctx context.Context) (*Checkpoint, error)

	// Clear removes the saved checkpoint.
	Clear(ctx context.Context) error
}

// BadgerProgress implements ProgressTracker on BadgerDB.
type BadgerProgress struct {
	db *badger.DB
}

// NewBadgerProgress creates a checkpoint tracker backed by the given
// BadgerDB instance.
func NewBadgerProgress(db *badger.DB) *BadgerProgress {
	return &BadgerProgress{db: db}
}

// Save persists the checkpoint.
func (p *BadgerProgress) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(progressKey), data)
	})
}

// Load retrieves the last saved checkpoint. Returns nil, nil when no
// checkpoint has been saved.
func (p *BadgerProgress) Load(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint

	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.OperationID == "" {
		return nil, nil
	}
	return &cp, nil
}

// Clear removes the saved checkpoint.
func (p *BadgerProgress) Clear(ctx context.Context) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(progressKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// InMemoryProgress implements ProgressTracker without persistence, for
// tests and deployments that do not need restart resumption.
type InMemoryProgress struct {
	mu sync.Mutex
	cp *Checkpoint
}

// NewInMemoryProgress creates an in-memory checkpoint tracker.
func NewInMemoryProgress() *InMemoryProgress {
	return &InMemoryProgress{}
}

// Save stores a copy of the checkpoint.
func (p *InMemoryProgress) Save(_ context.Context, cp *Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cpCopy := *cp
	p.cp = &cpCopy
	return nil
}

// Load returns a copy of the stored checkpoint, or nil.
func (p *InMemoryProgress) Load(_ context.Context) (*Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cp == nil {
		return nil, nil
	}
	cpCopy := *p.cp
	return &cpCopy, nil
}

// Clear removes the stored checkpoint.
func (p *InMemoryProgress) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cp = nil
	return nil
}
