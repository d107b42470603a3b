// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/gp51"
	"github.com/fleetiq/fleetiq/internal/models"
)

type fakeSource struct {
	mu       sync.Mutex
	records  []models.GP51PositionRecord
	err      error
	calls    int
	lastSeen int64
	block    chan struct{} // when set, the fetch blocks until closed
}

func (s *fakeSource) GetLastPositions(ctx context.Context, token string, deviceIDs []string, lastQueryTime int64) (*models.GP51PositionResponse, error) {
	s.mu.Lock()
	s.calls++
	s.lastSeen = lastQueryTime
	block := s.block
	err := s.err
	records := s.records
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &models.GP51PositionResponse{Records: records}, nil
}

type fakeTokens struct {
	mu    sync.Mutex
	token string
	err   error
}

func (t *fakeTokens) GetToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token, t.err
}

type fakeSink struct {
	mu        sync.Mutex
	positions map[string]models.DevicePosition
	upserts   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{positions: make(map[string]models.DevicePosition)}
}

func (s *fakeSink) UpsertPositions(ctx context.Context, positions []models.DevicePosition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, p := range positions {
		s.positions[p.DeviceID] = p
	}
	return len(positions), nil
}

func (s *fakeSink) GetFleetMetrics(ctx context.Context, activeWindow time.Duration) (*models.FleetMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.FleetMetrics{Total: len(s.positions), Active: len(s.positions)}, nil
}

func (s *fakeSink) get(deviceID string) (models.DevicePosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[deviceID]
	return p, ok
}

func testPollerConfig() *config.PollerConfig {
	return &config.PollerConfig{
		Enabled:      true,
		Interval:     time.Second,
		ActiveWindow: 5 * time.Minute,
	}
}

func TestRefreshOnceStoresPositions(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: []models.GP51PositionRecord{
		{DeviceID: "d1", Latitude: "22.5", Longitude: "114.1", Speed: "10", UpdateTime: "1735689600", Moving: "1"},
		{DeviceID: "", Latitude: "1", Longitude: "2"}, // dropped
	}}
	sink := newFakeSink()
	p := New(source, &fakeTokens{token: "tok"}, sink, nil, testPollerConfig())

	stats, err := p.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("RefreshOnce() error = %v", err)
	}
	if stats.Received != 2 || stats.Stored != 1 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want received 2, stored 1, dropped 1", stats)
	}

	pos, ok := sink.get("d1")
	if !ok {
		t.Fatal("position d1 not stored")
	}
	if pos.Latitude != 22.5 || !pos.Moving {
		t.Errorf("stored position = %+v", pos)
	}
}

func TestRefreshOnceUpsertIdempotent(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: []models.GP51PositionRecord{
		{DeviceID: "d1", Latitude: "10", Longitude: "20", UpdateTime: "1735689600"},
	}}
	sink := newFakeSink()
	p := New(source, &fakeTokens{token: "tok"}, sink, nil, testPollerConfig())

	for i := 0; i < 3; i++ {
		if _, err := p.RefreshOnce(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	sink.mu.Lock()
	count := len(sink.positions)
	sink.mu.Unlock()
	if count != 1 {
		t.Errorf("distinct positions = %d, want 1 (upsert keyed by device id)", count)
	}
}

func TestPollSkipsWithoutSession(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	tokens := &fakeTokens{err: gp51.ErrNotAuthenticated}
	p := New(source, tokens, newFakeSink(), nil, testPollerConfig())

	stats, err := p.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("missing session should be a silent skip, got error %v", err)
	}
	if stats != nil {
		t.Errorf("stats = %+v, want nil for a skipped poll", stats)
	}

	source.mu.Lock()
	calls := source.calls
	source.mu.Unlock()
	if calls != 0 {
		t.Errorf("vendor calls = %d, want 0 without a session", calls)
	}
}

func TestPollsDoNotOverlap(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	source := &fakeSource{block: block}
	p := New(source, &fakeTokens{token: "tok"}, newFakeSink(), nil, testPollerConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.RefreshOnce(context.Background())
	}()

	// Wait until the first poll is inside the vendor call.
	deadline := time.After(2 * time.Second)
	for {
		source.mu.Lock()
		calls := source.calls
		source.mu.Unlock()
		if calls == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first poll never reached the vendor call")
		case <-time.After(time.Millisecond):
		}
	}

	// A second poll while the first is in flight must be skipped.
	_, err := p.RefreshOnce(context.Background())
	if !errors.Is(err, errPollSkipped) {
		t.Errorf("overlapping poll error = %v, want errPollSkipped", err)
	}

	close(block)
	wg.Wait()

	source.mu.Lock()
	calls := source.calls
	source.mu.Unlock()
	if calls != 1 {
		t.Errorf("vendor calls = %d, want 1 (second poll skipped, not queued)", calls)
	}
}

func TestPollPassesWatermark(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: []models.GP51PositionRecord{
		{DeviceID: "d1", Latitude: "1", Longitude: "2", UpdateTime: "1735689600000"},
	}}
	p := New(source, &fakeTokens{token: "tok"}, newFakeSink(), nil, testPollerConfig())

	if _, err := p.RefreshOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	source.mu.Lock()
	source.records = nil
	source.mu.Unlock()

	if _, err := p.RefreshOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	source.mu.Lock()
	lastSeen := source.lastSeen
	source.mu.Unlock()
	if lastSeen != 1735689600000 {
		t.Errorf("second poll watermark = %d, want 1735689600000", lastSeen)
	}
}

func TestPollerStartStop(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: []models.GP51PositionRecord{
		{DeviceID: "d1", Latitude: "1", Longitude: "2", UpdateTime: "1735689600"},
	}}
	sink := newFakeSink()
	p := New(source, &fakeTokens{token: "tok"}, sink, nil, testPollerConfig())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	// Idempotent start.
	if err := p.Start(ctx); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	// First poll fires immediately, before any tick.
	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		upserts := sink.upserts
		sink.mu.Unlock()
		if upserts >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("immediate first poll never stored anything")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	// Idempotent stop.
	p.Stop()
}

func TestPollerRejectsTinyInterval(t *testing.T) {
	t.Parallel()

	cfg := testPollerConfig()
	cfg.Interval = 100 * time.Millisecond
	p := New(&fakeSource{}, &fakeTokens{token: "tok"}, newFakeSink(), nil, cfg)

	if err := p.Start(context.Background()); err == nil {
		t.Error("Start() with sub-second interval should error")
		p.Stop()
	}
}

func TestPollFetchErrorSurfaces(t *testing.T) {
	t.Parallel()

	source := &fakeSource{err: gp51.ErrTransport}
	p := New(source, &fakeTokens{token: "tok"}, newFakeSink(), nil, testPollerConfig())

	_, err := p.RefreshOnce(context.Background())
	if !errors.Is(err, gp51.ErrTransport) {
		t.Errorf("RefreshOnce() error = %v, want wrapped ErrTransport", err)
	}
}
