// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	stopErr  error
}

func (f *fakeLifecycle) Start(context.Context) error { return f.start() }
func (f *fakeLifecycle) StartNoCtx() error           { return f.start() }

func (f *fakeLifecycle) start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeLifecycle) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.stopErr
}

func (f *fakeLifecycle) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

// listenerAdapter presents fakeLifecycle through the no-context Start
// the notify listener uses.
type listenerAdapter struct{ *fakeLifecycle }

func (a listenerAdapter) Start() error { return a.StartNoCtx() }

func runService(t *testing.T, serve func(context.Context) error) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx) }()

	// Give Serve a moment to start before requesting shutdown.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after context cancellation")
		return nil
	}
}

func TestSessionServiceLifecycle(t *testing.T) {
	t.Parallel()

	fake := &fakeLifecycle{}
	svc := NewSessionService(fake)

	err := runService(t, svc.Serve)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}

	started, stopped := fake.counts()
	if started != 1 || stopped != 1 {
		t.Errorf("started/stopped = %d/%d, want 1/1", started, stopped)
	}
}

func TestSessionServiceStartFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeLifecycle{startErr: errors.New("no database")}
	svc := NewSessionService(fake)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve() = nil, want start error")
	}
	if _, stopped := fake.counts(); stopped != 0 {
		t.Error("Stop called after failed Start")
	}
}

func TestListenerServiceLifecycle(t *testing.T) {
	t.Parallel()

	fake := &fakeLifecycle{}
	svc := NewListenerService(listenerAdapter{fake})

	err := runService(t, svc.Serve)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}

	started, stopped := fake.counts()
	if started != 1 || stopped != 1 {
		t.Errorf("started/stopped = %d/%d, want 1/1", started, stopped)
	}
}

func TestListenerServiceStopFailureSurfaces(t *testing.T) {
	t.Parallel()

	fake := &fakeLifecycle{stopErr: errors.New("connection lost")}
	svc := NewListenerService(listenerAdapter{fake})

	if err := runService(t, svc.Serve); err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want stop error", err)
	}
}

type fakeHub struct{ ran chan struct{} }

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	close(f.ran)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegates(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{ran: make(chan struct{})}
	svc := NewHubService(hub)

	err := runService(t, svc.Serve)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}

	select {
	case <-hub.ran:
	default:
		t.Error("hub run loop never started")
	}
}

func TestServiceNames(t *testing.T) {
	t.Parallel()

	names := map[string]interface{ String() string }{
		"gp51-session-manager": NewSessionService(&fakeLifecycle{}),
		"position-listener":    NewListenerService(listenerAdapter{&fakeLifecycle{}}),
		"websocket-hub":        NewHubService(&fakeHub{ran: make(chan struct{})}),
	}
	for want, svc := range names {
		if got := svc.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
