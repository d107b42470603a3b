// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
)

// PositionListener bridges PostgreSQL LISTEN/NOTIFY to an in-process
// callback. The device_positions trigger notifies on every upsert, so
// dashboards connected to any server instance hear about writes made by
// every other instance, not just their own.
type PositionListener struct {
	cfg     *config.DatabaseConfig
	onEvent func(deviceID string)

	mu       sync.Mutex
	listener *pq.Listener
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPositionListener creates a listener that invokes onEvent with the
// device id of every changed position row.
func NewPositionListener(cfg *config.DatabaseConfig, onEvent func(deviceID string)) *PositionListener {
	return &PositionListener{cfg: cfg, onEvent: onEvent}
}

// Start opens the dedicated listener connection and begins dispatching
// notifications.
func (l *PositionListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("position listener already running")
	}

	listener := pq.NewListener(l.cfg.URL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logging.Warn().Err(err).Int("event", int(ev)).Msg("Position listener connection event")
		}
	})
	if err := listener.Listen(positionChannel); err != nil {
		closeQuietly(listener)
		return fmt.Errorf("listen on %s: %w", positionChannel, err)
	}

	l.listener = listener
	l.running = true
	l.stopChan = make(chan struct{})

	l.wg.Add(1)
	go l.dispatch(listener, l.stopChan)

	logging.Info().Str("channel", positionChannel).Msg("Position change listener started")
	return nil
}

// Stop closes the listener connection and waits for the dispatch loop.
func (l *PositionListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return nil
	}
	close(l.stopChan)
	closeWithLog(l.listener, "pq listener")
	l.wg.Wait()
	l.running = false
	l.listener = nil
	logging.Info().Msg("Position change listener stopped")
	return nil
}

func (l *PositionListener) dispatch(listener *pq.Listener, stop <-chan struct{}) {
	defer l.wg.Done()

	// Without traffic, ping periodically so a dead connection is noticed
	// and pq's internal reconnect kicks in.
	pingTicker := time.NewTicker(90 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// nil notification signals a reconnect; nothing to relay.
				continue
			}
			metrics.DBNotificationsReceived.Inc()
			if l.onEvent != nil {
				l.onEvent(n.Extra)
			}
		case <-pingTicker.C:
			if err := listener.Ping(); err != nil {
				logging.Warn().Err(err).Msg("Position listener ping failed")
			}
		}
	}
}
