// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/config"
)

func testClientConfig(baseURL string) *config.GP51Config {
	return &config.GP51Config{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		RateLimitRPS: 100, // effectively unlimited for tests
	}
}

func TestClientLogin(t *testing.T) {
	t.Parallel()

	var gotAction, gotPassword string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.URL.Query().Get("action")

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		gotPassword = body["password"]

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": 0, "token": "abc123"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	digest := HashPassword("secret")

	resp, err := client.Login(context.Background(), "fleetops", digest)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token != "abc123" {
		t.Errorf("token = %q, want %q", resp.Token, "abc123")
	}
	if gotAction != "login" {
		t.Errorf("action = %q, want %q", gotAction, "login")
	}
	if gotPassword != digest {
		t.Errorf("password sent = %q, want the md5 digest %q", gotPassword, digest)
	}
}

func TestClientLoginBadCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 1, "cause": "username or password error"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.Login(context.Background(), "fleetops", HashPassword("wrong"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected *APIError in chain")
	}
	if apiErr.Cause != "username or password error" {
		t.Errorf("cause = %q", apiErr.Cause)
	}
}

func TestClientLoginMissingToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 0}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.Login(context.Background(), "fleetops", HashPassword("secret"))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Login() error = %v, want ErrMalformedResponse", err)
	}
}

func TestClientTokenRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 6, "cause": "token expired"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	err := client.QueryToken(context.Background(), "stale-token")
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("QueryToken() error = %v, want ErrSessionExpired", err)
	}
}

func TestClientTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(testClientConfig(server.URL))

	_, err := client.Login(context.Background(), "fleetops", HashPassword("secret"))
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Login() error = %v, want ErrTransport", err)
	}
}

func TestClientMalformedJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 0, "records": [`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.GetLastPositions(context.Background(), "tok", nil, 0)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("GetLastPositions() error = %v, want ErrMalformedResponse", err)
	}
}

func TestClientRateLimitRetry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"status": 0, "records": []}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	resp, err := client.GetLastPositions(context.Background(), "tok", []string{"dev1"}, 0)
	if err != nil {
		t.Fatalf("GetLastPositions() error = %v", err)
	}
	if len(resp.Records) != 0 {
		t.Errorf("records = %d, want 0", len(resp.Records))
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (two 429s then success)", got)
	}
}

func TestClientRequiresToken(t *testing.T) {
	t.Parallel()

	client := NewClient(testClientConfig("http://unused.invalid"))

	if _, err := client.GetLastPositions(context.Background(), "", nil, 0); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetLastPositions with empty token: error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := client.QueryMonitorList(context.Background(), "", "user"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("QueryMonitorList with empty token: error = %v, want ErrNotAuthenticated", err)
	}
}

func TestClientPositionRecordsDecode(t *testing.T) {
	t.Parallel()

	// Vendor payloads mix quoted and bare numerics; json.Number keeps both.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": 0,
			"records": [
				{"deviceid": "d1", "callat": "22.5431", "callon": 114.0579, "speed": 42, "course": "180", "altitude": 10, "updatetime": 1735689600000, "moving": 1}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	resp, err := client.GetLastPositions(context.Background(), "tok", nil, 0)
	if err != nil {
		t.Fatalf("GetLastPositions() error = %v", err)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(resp.Records))
	}

	rec := resp.Records[0]
	if rec.DeviceID != "d1" {
		t.Errorf("deviceid = %q", rec.DeviceID)
	}
	if lat, err := rec.Latitude.Float64(); err != nil || lat != 22.5431 {
		t.Errorf("latitude = %v (err %v), want 22.5431", lat, err)
	}
	if lon, err := rec.Longitude.Float64(); err != nil || lon != 114.0579 {
		t.Errorf("longitude = %v (err %v), want 114.0579", lon, err)
	}
}
