// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
session.go - GP51 Session Lifecycle Manager

One vendor session per deployment: a single shared service credential, not
per dashboard user. The manager owns login, proactive refresh, expiry
enforcement, and the periodic health probe; every other component obtains
the token through GetToken and must tolerate a concurrent login or logout
invalidating it mid-use.

State machine:

	unauthenticated -> authenticating -> authenticated
	authenticated -> stale (expiry closer than refresh threshold) -> authenticating
	authenticated -> unauthenticated (logout, expiry, or auth error)

Concurrent refreshes across server instances are serialized with a
compare-and-swap on the persisted session row: the instance whose swap
fails adopts the winner's session instead of writing its own.
*/

//nolint:staticcheck // File documentation, not package doc
package gp51

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// SessionStore persists the single active vendor session. Implemented by
// the database package; nil session with nil error means no session exists.
type SessionStore interface {
	GetSession(ctx context.Context) (*models.VendorSession, error)
	PutSession(ctx context.Context, s *models.VendorSession) error
	// SwapSession replaces the session only if the stored row still has
	// UpdatedAt == prevUpdatedAt. Returns false when another writer won.
	SwapSession(ctx context.Context, s *models.VendorSession, prevUpdatedAt time.Time) (bool, error)
	DeleteSession(ctx context.Context) error
}

// VendorAPI is the subset of the GP51 client the session manager needs.
// Satisfied by both *Client and *CircuitBreakerClient.
type VendorAPI interface {
	Login(ctx context.Context, username, passwordMD5 string) (*models.GP51LoginResponse, error)
	Logout(ctx context.Context, token string) error
	QueryToken(ctx context.Context, token string) error
}

// SessionManager validates, refreshes, and exposes the current vendor
// session, and runs the periodic health probe.
type SessionManager struct {
	api   VendorAPI
	store SessionStore
	cfg   *config.GP51Config

	mu      sync.RWMutex
	session *models.VendorSession
	health  models.SessionHealth

	subMu       sync.Mutex
	nextSubID   int
	sessionSubs map[int]func(*models.VendorSession)
	healthSubs  map[int]func(models.SessionHealth)

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewSessionManager creates a session manager. The probe loop does not run
// until Start is called.
func NewSessionManager(api VendorAPI, store SessionStore, cfg *config.GP51Config) *SessionManager {
	m := &SessionManager{
		api:         api,
		store:       store,
		cfg:         cfg,
		sessionSubs: make(map[int]func(*models.VendorSession)),
		healthSubs:  make(map[int]func(models.SessionHealth)),
		now:         time.Now,
	}
	m.health = models.SessionHealth{
		Status:    models.SessionDisconnected,
		CheckedAt: m.now(),
	}
	return m
}

// Login authenticates against GP51 with the given plaintext password,
// persists the resulting session with a fixed validity window, and
// notifies session subscribers. On failure the returned error
// distinguishes bad credentials (ErrInvalidCredentials) from transport
// problems (ErrTransport).
func (m *SessionManager) Login(ctx context.Context, username, password string) (*models.VendorSession, error) {
	m.setHealthStatus(models.SessionConnecting, 0, "")

	resp, err := m.api.Login(ctx, username, HashPassword(password))
	if err != nil {
		if IsAuthError(err) {
			metrics.SessionLogins.WithLabelValues("auth_error").Inc()
			m.setHealthStatus(models.SessionAuthError, 0, err.Error())
		} else {
			metrics.SessionLogins.WithLabelValues("transport_error").Inc()
			m.setHealthStatus(models.SessionDisconnected, 0, err.Error())
		}
		return nil, fmt.Errorf("gp51 login: %w", err)
	}

	now := m.now()
	session := &models.VendorSession{
		Username:  username,
		Token:     resp.Token,
		APIURL:    m.cfg.BaseURL,
		ExpiresAt: now.Add(m.cfg.TokenValidity),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	metrics.SessionLogins.WithLabelValues("success").Inc()
	m.setHealthStatus(models.SessionConnected, 0, "")
	m.notifySession(session)

	logging.Info().Str("username", username).Time("expires_at", session.ExpiresAt).Msg("GP51 session established")
	return session, nil
}

// GetToken returns the current token if the session is valid. An expired
// session is torn down (logout semantics) rather than returned stale; the
// caller gets an empty token and ErrSessionExpired.
func (m *SessionManager) GetToken(ctx context.Context) (string, error) {
	session, err := m.currentSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrNotAuthenticated
	}
	if session.IsExpired(m.now()) {
		logging.Warn().Str("username", session.Username).Time("expired_at", session.ExpiresAt).Msg("GP51 session expired, clearing")
		if err := m.Logout(ctx); err != nil {
			logging.Warn().Err(err).Msg("Cleanup of expired session failed")
		}
		return "", ErrSessionExpired
	}
	return session.Token, nil
}

// ValidateSession re-reads the persisted session, checks expiry, and
// probes the vendor to confirm the token is still accepted. Both checks
// must pass for the session to count as valid.
func (m *SessionManager) ValidateSession(ctx context.Context) (bool, *models.VendorSession, error) {
	session, err := m.store.GetSession(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("read persisted session: %w", err)
	}
	if session == nil || session.IsExpired(m.now()) {
		return false, session, nil
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if err := m.api.QueryToken(ctx, session.Token); err != nil {
		if IsAuthError(err) {
			return false, session, nil
		}
		return false, session, fmt.Errorf("session probe: %w", err)
	}
	return true, session, nil
}

// Logout clears the persisted session and in-memory cache. Idempotent:
// logging out with no session is a no-op. The vendor-side logout is best
// effort; local state is cleared regardless.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		// May still have a persisted row from a previous process.
		stored, err := m.store.GetSession(ctx)
		if err == nil {
			session = stored
		}
	}

	if session != nil && session.Token != "" {
		if err := m.api.Logout(ctx, session.Token); err != nil {
			logging.Warn().Err(err).Msg("Vendor-side logout failed, clearing local session anyway")
		}
	}

	if err := m.store.DeleteSession(ctx); err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}

	m.setHealthStatus(models.SessionDisconnected, 0, "")
	m.notifySession(nil)
	return nil
}

// Health returns the most recent health probe result.
func (m *SessionManager) Health() models.SessionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Subscribe registers a callback invoked whenever the session changes
// (login, refresh, logout). The callback receives nil on logout. The
// returned function removes the subscription.
func (m *SessionManager) Subscribe(fn func(*models.VendorSession)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.sessionSubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.sessionSubs, id)
	}
}

// SubscribeHealth registers a callback invoked on every health status
// change. The returned function removes the subscription.
func (m *SessionManager) SubscribeHealth(fn func(models.SessionHealth)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.healthSubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.healthSubs, id)
	}
}

// Start launches the periodic health probe loop. The first probe fires
// immediately. Safe to call once; subsequent calls while running error.
func (m *SessionManager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("session manager already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.probeLoop(ctx, m.stopChan)

	logging.Info().Dur("interval", m.cfg.HealthCheckInterval).Msg("GP51 session health probe started")
	return nil
}

// Stop halts the probe loop and waits for it to finish. An in-flight
// probe completes; its result is still recorded.
func (m *SessionManager) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	close(m.stopChan)
	m.wg.Wait()
	m.running = false
	logging.Info().Msg("GP51 session health probe stopped")
	return nil
}

func (m *SessionManager) probeLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe performs one health check cycle: refresh the session if it is
// close to expiry, then verify the token against the vendor. Transport
// failures surface as disconnected and are retried on the next tick, not
// in a tight loop. Auth failures surface as auth_error and clear the
// session; only a fresh login recovers from them.
func (m *SessionManager) probe(ctx context.Context) {
	session, err := m.currentSession(ctx)
	if err != nil {
		m.setHealthStatus(models.SessionDisconnected, 0, err.Error())
		return
	}
	if session == nil {
		m.setHealthStatus(models.SessionDisconnected, 0, "no active vendor session")
		return
	}

	if session.IsExpired(m.now()) {
		m.setHealthStatus(models.SessionAuthError, 0, "session expired")
		if err := m.Logout(ctx); err != nil {
			logging.Warn().Err(err).Msg("Cleanup of expired session failed")
		}
		return
	}

	if session.IsStale(m.now(), m.cfg.RefreshThreshold) {
		if refreshed := m.refresh(ctx, session); refreshed != nil {
			session = refreshed
		}
	}

	start := m.now()
	err = m.api.QueryToken(ctx, session.Token)
	latency := m.now().Sub(start)
	metrics.SessionHealthCheckLatency.Observe(latency.Seconds())

	switch {
	case err == nil && latency <= m.cfg.DegradedLatency:
		m.setHealthStatus(models.SessionConnected, latency, "")
	case err == nil:
		m.setHealthStatus(models.SessionDegraded, latency, fmt.Sprintf("probe latency %s above threshold", latency))
	case IsAuthError(err):
		logging.Warn().Err(err).Msg("GP51 token rejected, fresh login required")
		m.setHealthStatus(models.SessionAuthError, latency, err.Error())
		if lerr := m.Logout(ctx); lerr != nil {
			logging.Warn().Err(lerr).Msg("Cleanup of rejected session failed")
		}
	default:
		m.setHealthStatus(models.SessionDisconnected, latency, err.Error())
	}
}

// refresh performs a proactive re-login before the token expires. The
// write uses compare-and-swap keyed on the previous UpdatedAt so that two
// instances refreshing concurrently produce one winner; the loser adopts
// the stored session.
func (m *SessionManager) refresh(ctx context.Context, prev *models.VendorSession) *models.VendorSession {
	if m.cfg.Password == "" {
		logging.Warn().Msg("Session near expiry but no configured credentials to refresh with")
		return nil
	}

	m.setHealthStatus(models.SessionConnecting, 0, "")

	resp, err := m.api.Login(ctx, m.cfg.Username, HashPassword(m.cfg.Password))
	if err != nil {
		logging.Warn().Err(err).Msg("Proactive session refresh failed")
		return nil
	}

	now := m.now()
	next := &models.VendorSession{
		ID:        prev.ID,
		Username:  m.cfg.Username,
		Token:     resp.Token,
		APIURL:    m.cfg.BaseURL,
		ExpiresAt: now.Add(m.cfg.TokenValidity),
		CreatedAt: prev.CreatedAt,
		UpdatedAt: now,
	}

	swapped, err := m.store.SwapSession(ctx, next, prev.UpdatedAt)
	if err != nil {
		logging.Warn().Err(err).Msg("Persisting refreshed session failed")
		return nil
	}
	if !swapped {
		// Another instance refreshed first; use its session.
		stored, err := m.store.GetSession(ctx)
		if err != nil || stored == nil {
			return nil
		}
		next = stored
	}

	m.mu.Lock()
	m.session = next
	m.mu.Unlock()

	metrics.SessionRefreshes.Inc()
	m.notifySession(next)
	logging.Info().Time("expires_at", next.ExpiresAt).Bool("swap_won", swapped).Msg("GP51 session refreshed")
	return next
}

// currentSession returns the cached session, falling back to the store
// when the cache is cold (fresh process, or another instance logged in).
func (m *SessionManager) currentSession(ctx context.Context) (*models.VendorSession, error) {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session != nil {
		return session, nil
	}

	stored, err := m.store.GetSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("read persisted session: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.session = stored
	m.mu.Unlock()
	return stored, nil
}

func (m *SessionManager) setHealthStatus(status models.SessionStatus, latency time.Duration, errMsg string) {
	m.mu.Lock()
	changed := m.health.Status != status || m.health.Error != errMsg
	m.health = models.SessionHealth{
		Status:    status,
		Latency:   latency,
		Error:     errMsg,
		CheckedAt: m.now(),
	}
	health := m.health
	m.mu.Unlock()

	metrics.SetSessionStatus(string(status))

	if changed {
		m.notifyHealth(health)
	}
}

func (m *SessionManager) notifySession(s *models.VendorSession) {
	m.subMu.Lock()
	subs := make([]func(*models.VendorSession), 0, len(m.sessionSubs))
	for _, fn := range m.sessionSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (m *SessionManager) notifyHealth(h models.SessionHealth) {
	m.subMu.Lock()
	subs := make([]func(models.SessionHealth), 0, len(m.healthSubs))
	for _, fn := range m.healthSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(h)
	}
}
