// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/models"
)

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu      sync.Mutex
	session *models.VendorSession
	getErr  error
}

func (s *fakeStore) GetSession(_ context.Context) (*models.VendorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *fakeStore) PutSession(_ context.Context, sess *models.VendorSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.session = &cp
	return nil
}

func (s *fakeStore) SwapSession(_ context.Context, sess *models.VendorSession, prevUpdatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || !s.session.UpdatedAt.Equal(prevUpdatedAt) {
		return false, nil
	}
	cp := *sess
	s.session = &cp
	return true, nil
}

func (s *fakeStore) DeleteSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// fakeAPI is a scriptable VendorAPI.
type fakeAPI struct {
	mu          sync.Mutex
	loginErr    error
	queryErr    error
	loginCalls  int
	logoutCalls int
	token       string
}

func (a *fakeAPI) Login(_ context.Context, username, passwordMD5 string) (*models.GP51LoginResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginCalls++
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	tok := a.token
	if tok == "" {
		tok = "tok-1"
	}
	return &models.GP51LoginResponse{Token: tok}, nil
}

func (a *fakeAPI) Logout(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutCalls++
	return nil
}

func (a *fakeAPI) QueryToken(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queryErr
}

func testSessionConfig() *config.GP51Config {
	return &config.GP51Config{
		BaseURL:             "https://gps.example.com/webapi",
		Username:            "fleetops",
		Password:            "secret",
		TokenValidity:       23 * time.Hour,
		RefreshThreshold:    30 * time.Minute,
		HealthCheckInterval: time.Minute,
		DegradedLatency:     5 * time.Second,
	}
}

func newTestManager(api VendorAPI, store SessionStore) *SessionManager {
	return NewSessionManager(api, store, testSessionConfig())
}

func TestSessionLoginStoresSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{token: "tok-login"}
	store := &fakeStore{}
	m := newTestManager(api, store)

	session, err := m.Login(context.Background(), "fleetops", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token != "tok-login" {
		t.Errorf("token = %q", session.Token)
	}
	if !session.ExpiresAt.After(time.Now()) {
		t.Error("expiry should be in the future")
	}

	stored, _ := store.GetSession(context.Background())
	if stored == nil || stored.Token != "tok-login" {
		t.Error("session was not persisted")
	}

	token, err := m.GetToken(context.Background())
	if err != nil || token != "tok-login" {
		t.Errorf("GetToken() = %q, %v", token, err)
	}
}

func TestSessionLoginBadCredentials(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{loginErr: ErrInvalidCredentials}
	store := &fakeStore{}
	m := newTestManager(api, store)

	_, err := m.Login(context.Background(), "fleetops", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	if stored, _ := store.GetSession(context.Background()); stored != nil {
		t.Error("failed login must not persist a session")
	}
	if _, err := m.GetToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetToken() after failed login: error = %v, want ErrNotAuthenticated", err)
	}
	if m.Health().Status != models.SessionAuthError {
		t.Errorf("health = %s, want auth_error", m.Health().Status)
	}
}

func TestSessionLoginTransportFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{loginErr: ErrTransport}
	m := newTestManager(api, &fakeStore{})

	_, err := m.Login(context.Background(), "fleetops", "secret")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Login() error = %v, want ErrTransport", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("transport failure must not be classified as a credential failure")
	}
	if m.Health().Status != models.SessionDisconnected {
		t.Errorf("health = %s, want disconnected", m.Health().Status)
	}
}

func TestGetTokenNeverReturnsExpired(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	// Move the clock past expiry.
	m.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	token, err := m.GetToken(context.Background())
	if token != "" {
		t.Errorf("GetToken() returned %q for an expired session", token)
	}
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired", err)
	}
	if stored, _ := store.GetSession(context.Background()); stored != nil {
		t.Error("expired session should have been cleared")
	}
}

func TestLogoutIdempotent(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("first Logout() error = %v", err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout() error = %v", err)
	}

	if _, err := m.GetToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetToken() after logout: error = %v, want ErrNotAuthenticated", err)
	}
}

func TestValidateSessionRequiresBothChecks(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	// No session at all.
	valid, _, err := m.ValidateSession(context.Background())
	if err != nil || valid {
		t.Errorf("ValidateSession() with no session = %v, %v", valid, err)
	}

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	// Unexpired and accepted by the vendor.
	valid, session, err := m.ValidateSession(context.Background())
	if err != nil || !valid || session == nil {
		t.Errorf("ValidateSession() = %v, %v, %v; want valid session", valid, session, err)
	}

	// Unexpired locally but rejected by the vendor: invalid.
	api.mu.Lock()
	api.queryErr = ErrSessionExpired
	api.mu.Unlock()

	valid, _, err = m.ValidateSession(context.Background())
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if valid {
		t.Error("vendor-rejected token must not validate")
	}
}

func TestSessionSubscribers(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := newTestManager(api, &fakeStore{})

	var mu sync.Mutex
	var events []*models.VendorSession
	unsub := m.Subscribe(func(s *models.VendorSession) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (login then logout)", len(events))
	}
	if events[0] == nil || events[1] != nil {
		t.Error("expected non-nil session on login and nil on logout")
	}
	mu.Unlock()

	// After unsubscribe no further events arrive.
	unsub()
	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if len(events) != 2 {
		t.Errorf("events after unsubscribe = %d, want 2", len(events))
	}
	mu.Unlock()
}

func TestHealthProbeStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		queryErr error
		want     models.SessionStatus
	}{
		{name: "healthy probe", queryErr: nil, want: models.SessionConnected},
		{name: "transport failure", queryErr: ErrTransport, want: models.SessionDisconnected},
		{name: "rejected token", queryErr: ErrSessionExpired, want: models.SessionAuthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeAPI{}
			store := &fakeStore{}
			m := newTestManager(api, store)

			if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
				t.Fatal(err)
			}

			api.mu.Lock()
			api.queryErr = tt.queryErr
			api.mu.Unlock()

			m.probe(context.Background())

			if got := m.Health().Status; got != tt.want {
				t.Errorf("health after probe = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHealthProbeAuthErrorClearsSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	api.queryErr = ErrSessionExpired
	api.mu.Unlock()

	m.probe(context.Background())

	if stored, _ := store.GetSession(context.Background()); stored != nil {
		t.Error("auth_error probe should clear the persisted session")
	}
	if _, err := m.GetToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetToken() = %v, want ErrNotAuthenticated", err)
	}
}

func TestHealthProbeNoSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeAPI{}, &fakeStore{})
	m.probe(context.Background())

	h := m.Health()
	if h.Status != models.SessionDisconnected {
		t.Errorf("status = %s, want disconnected", h.Status)
	}
	if h.Error == "" {
		t.Error("expected an explanatory error message")
	}
}

func TestProbeRefreshesStaleSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	// Jump to just inside the refresh threshold: stale but not expired.
	m.now = func() time.Time { return time.Now().Add(23*time.Hour - 10*time.Minute) }

	api.mu.Lock()
	api.token = "tok-2"
	api.mu.Unlock()

	m.probe(context.Background())

	token, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want refreshed token %q", token, "tok-2")
	}

	api.mu.Lock()
	calls := api.loginCalls
	api.mu.Unlock()
	if calls != 2 {
		t.Errorf("login calls = %d, want 2 (initial + refresh)", calls)
	}
}

func TestRefreshLosesSwapAdoptsWinner(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &fakeStore{}
	m := newTestManager(api, store)

	if _, err := m.Login(context.Background(), "fleetops", "secret"); err != nil {
		t.Fatal(err)
	}

	prev, _ := store.GetSession(context.Background())

	// Another instance refreshes the row first.
	winner := *prev
	winner.Token = "tok-winner"
	winner.UpdatedAt = prev.UpdatedAt.Add(time.Second)
	winner.ExpiresAt = prev.ExpiresAt.Add(time.Hour)
	if err := store.PutSession(context.Background(), &winner); err != nil {
		t.Fatal(err)
	}

	got := m.refresh(context.Background(), prev)
	if got == nil {
		t.Fatal("refresh returned nil")
	}
	if got.Token != "tok-winner" {
		t.Errorf("token = %q, want the winning instance's %q", got.Token, "tok-winner")
	}
}

func TestManagerStartStop(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeAPI{}, &fakeStore{})
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() should error while running")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// Stop is idempotent.
	if err := m.Stop(); err != nil {
		t.Fatalf("repeated Stop() error = %v", err)
	}
}
