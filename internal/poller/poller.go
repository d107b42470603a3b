// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
poller.go - GP51 Position Poller

Keeps local device-position rows fresh by periodically calling the vendor
position endpoint, normalizing the records, and upserting them keyed by
device id. After each write the derived fleet metrics are recomputed and
both positions and metrics are pushed to WebSocket clients.

Polls never overlap: a tick that fires while the previous poll is still
in flight is skipped (counted, not queued). Stop cancels the timer but
not an in-flight call; a result arriving after Stop is still written,
since the upsert is idempotent and newer data is never worse than stale
data.
*/

//nolint:staticcheck // File documentation, not package doc
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// PositionSource fetches last-known positions from the vendor. Satisfied
// by the gp51 circuit breaker client.
type PositionSource interface {
	GetLastPositions(ctx context.Context, token string, deviceIDs []string, lastQueryTime int64) (*models.GP51PositionResponse, error)
}

// TokenSource provides the current vendor token. Satisfied by the gp51
// session manager.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// PositionSink persists normalized positions and derives fleet metrics.
// Satisfied by *database.DB.
type PositionSink interface {
	UpsertPositions(ctx context.Context, positions []models.DevicePosition) (int, error)
	GetFleetMetrics(ctx context.Context, activeWindow time.Duration) (*models.FleetMetrics, error)
}

// Broadcaster pushes updates to connected dashboards. Satisfied by the
// websocket hub. May be nil when realtime push is disabled.
type Broadcaster interface {
	BroadcastPositions(positions []models.DevicePosition)
	BroadcastFleetMetrics(m *models.FleetMetrics)
}

// PollStats summarizes one poll cycle.
type PollStats struct {
	Received int           `json:"received"`
	Stored   int           `json:"stored"`
	Dropped  int           `json:"dropped"`
	Duration time.Duration `json:"duration"`
}

// Poller periodically fetches and stores device positions.
type Poller struct {
	source  PositionSource
	tokens  TokenSource
	sink    PositionSink
	hub     Broadcaster
	cfg     *config.PollerConfig

	// pollMu serializes poll cycles; TryLock makes an overlapping tick a
	// cheap skip instead of a queue.
	pollMu sync.Mutex

	// lastQueryTime carries the vendor's raw epoch watermark between
	// polls so each request only asks for newer records.
	lastQueryTime atomic.Int64

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates a position poller. Pass a nil hub to disable realtime push.
func New(source PositionSource, tokens TokenSource, sink PositionSink, hub Broadcaster, cfg *config.PollerConfig) *Poller {
	return &Poller{
		source: source,
		tokens: tokens,
		sink:   sink,
		hub:    hub,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start begins the polling loop. The first poll fires immediately,
// subsequent polls on a fixed ticker. Calling Start while running is a
// no-op.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.Interval < time.Second {
		return fmt.Errorf("poll interval %s below 1s minimum", p.cfg.Interval)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	logging.Info().Dur("interval", p.cfg.Interval).Int("device_filter", len(p.cfg.DeviceIDs)).Msg("Starting position poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)

	return nil
}

// Serve implements suture.Service for supervisor integration.
func (p *Poller) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Stop cancels the timer and waits for the loop goroutine. Idempotent.
// An in-flight poll finishes and its result is written.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("[poller] Position poller stopped")
}

// IsRunning reports whether the polling loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// RefreshOnce performs a single poll outside the timer, for manual
// refresh actions. It shares the overlap lock with the loop, so a manual
// refresh during a scheduled poll reports a skip.
func (p *Poller) RefreshOnce(ctx context.Context) (*PollStats, error) {
	return p.poll(ctx)
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	if _, err := p.poll(ctx); err != nil {
		logging.Warn().Err(err).Msg("[poller] Initial poll failed")
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("[poller] Context canceled, stopping")
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if _, err := p.poll(ctx); err != nil {
				logging.Warn().Err(err).Msg("[poller] Poll failed")
			}
		}
	}
}

// errPollSkipped marks a tick that overlapped a running poll.
var errPollSkipped = errors.New("poll skipped: previous poll still running")

// poll executes one fetch-normalize-store cycle.
func (p *Poller) poll(ctx context.Context) (*PollStats, error) {
	if !p.pollMu.TryLock() {
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		logging.Debug().Msg("[poller] Tick overlapped running poll, skipping")
		return nil, errPollSkipped
	}
	defer p.pollMu.Unlock()

	start := p.now()

	token, err := p.tokens.GetToken(ctx)
	if err != nil {
		// No valid session is a skip, not a failure: the session manager
		// owns recovery and the next tick retries.
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		logging.Warn().Err(err).Msg("[poller] No valid session, skipping poll")
		return nil, nil
	}

	resp, err := p.source.GetLastPositions(ctx, token, p.cfg.DeviceIDs, p.lastQueryTime.Load())
	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	positions, dropped, watermark := normalizeRecords(resp.Records, p.now())
	if watermark > p.lastQueryTime.Load() {
		p.lastQueryTime.Store(watermark)
	}

	stored := 0
	if len(positions) > 0 {
		stored, err = p.sink.UpsertPositions(ctx, positions)
		if err != nil {
			metrics.PollsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("store positions: %w", err)
		}
		metrics.PositionsStored.Add(float64(stored))

		if p.hub != nil {
			p.hub.BroadcastPositions(positions)
		}
	}

	p.refreshFleetMetrics(ctx)

	duration := p.now().Sub(start)
	metrics.PollDuration.Observe(duration.Seconds())
	metrics.PollsTotal.WithLabelValues("success").Inc()

	stats := &PollStats{
		Received: len(resp.Records),
		Stored:   stored,
		Dropped:  dropped,
		Duration: duration,
	}

	logging.Debug().
		Int("received", stats.Received).
		Int("stored", stats.Stored).
		Int("dropped", stats.Dropped).
		Dur("duration", duration).
		Msg("[poller] Poll complete")
	return stats, nil
}

// refreshFleetMetrics recomputes the derived activity counts and pushes
// them to dashboards. Failures are logged, not returned: stale metrics
// are not worth failing a successful poll over.
func (p *Poller) refreshFleetMetrics(ctx context.Context) {
	m, err := p.sink.GetFleetMetrics(ctx, p.cfg.ActiveWindow)
	if err != nil {
		logging.Warn().Err(err).Msg("[poller] Fleet metrics refresh failed")
		return
	}

	metrics.RecordFleetMetrics(m.Total, m.Active, m.Moving, m.Parked, m.Offline)
	if p.hub != nil {
		p.hub.BroadcastFleetMetrics(m)
	}
}
