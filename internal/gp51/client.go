// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

/*
client.go - GP51 Webapi HTTP Client

Every GP51 call is a POST to the webapi base URL with the operation named
in the "action" query parameter and a JSON request body. Authenticated
calls additionally carry the session token as a "token" query parameter.

The vendor signals failures two ways and this client normalizes both:
  - HTTP-level: 429 rate limiting (retried with exponential backoff,
    honoring Retry-After), transport errors (wrapped as ErrTransport)
  - Body-level: a non-zero "status" field (mapped onto the sentinel
    taxonomy in errors.go via APIError)

Outbound request rate is capped with a token-bucket limiter so a burst of
dashboard activity cannot trip the vendor's limits in the first place.
*/

//nolint:staticcheck // File documentation, not package doc
package gp51

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/models"
)

// GP51 response status codes.
const (
	statusOK          = 0
	statusLoginFailed = 1
	statusTokenError  = 6
)

// GP51 webapi action names.
const (
	actionLogin        = "login"
	actionLogout       = "logout"
	actionLastPosition = "lastposition"
	actionMonitorList  = "querymonitorlist"
	actionQueryToken   = "querytoken"
)

// Client is a low-level GP51 webapi client. It is stateless with respect
// to sessions: the token is passed per call so the session manager owns
// the credential lifecycle.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a GP51 client from configuration. The HTTP client uses
// a 30-second timeout as a backstop behind per-request contexts.
func NewClient(cfg *config.GP51Config) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// Login authenticates with the vendor. The password must already be the
// MD5 hex digest (see HashPassword); plaintext is never sent.
func (c *Client) Login(ctx context.Context, username, passwordMD5 string) (*models.GP51LoginResponse, error) {
	req := models.GP51LoginRequest{
		Username: username,
		Password: passwordMD5,
		From:     "WEB",
		Type:     "USER",
	}

	var resp models.GP51LoginResponse
	if err := c.doAction(ctx, actionLogin, "", req, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(actionLogin, resp.Status, resp.Cause); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: login succeeded without token", ErrMalformedResponse)
	}
	return &resp, nil
}

// Logout invalidates the token server-side. A vendor-side failure is
// returned but the caller should discard the local session regardless.
func (c *Client) Logout(ctx context.Context, token string) error {
	var resp models.GP51GenericResponse
	if err := c.doAction(ctx, actionLogout, token, struct{}{}, &resp); err != nil {
		return err
	}
	return checkStatus(actionLogout, resp.Status, resp.Cause)
}

// QueryToken verifies that a token is still accepted by the vendor. Used
// by the session health probe.
func (c *Client) QueryToken(ctx context.Context, token string) error {
	var resp models.GP51GenericResponse
	if err := c.doAction(ctx, actionQueryToken, token, struct{}{}, &resp); err != nil {
		return err
	}
	return checkStatus(actionQueryToken, resp.Status, resp.Cause)
}

// lastPositionRequest is the body for action=lastposition.
type lastPositionRequest struct {
	DeviceIDs     []string `json:"deviceids"`
	LastQueryTime int64    `json:"lastquerypositiontime"`
}

// GetLastPositions fetches the most recent position for each requested
// device. An empty deviceIDs slice asks for every device the account can
// see. lastQueryTime (vendor epoch value) restricts results to records
// newer than the previous poll; pass 0 for a full snapshot.
func (c *Client) GetLastPositions(ctx context.Context, token string, deviceIDs []string, lastQueryTime int64) (*models.GP51PositionResponse, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	req := lastPositionRequest{
		DeviceIDs:     deviceIDs,
		LastQueryTime: lastQueryTime,
	}

	var resp models.GP51PositionResponse
	if err := c.doAction(ctx, actionLastPosition, token, req, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(actionLastPosition, resp.Status, resp.Cause); err != nil {
		return nil, err
	}
	return &resp, nil
}

// monitorListRequest is the body for action=querymonitorlist.
type monitorListRequest struct {
	Username string `json:"username"`
}

// QueryMonitorList fetches the account's device tree: every group and the
// devices registered under it. This is the source feed for bulk sync.
func (c *Client) QueryMonitorList(ctx context.Context, token, username string) (*models.GP51MonitorListResponse, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp models.GP51MonitorListResponse
	if err := c.doAction(ctx, actionMonitorList, token, monitorListRequest{Username: username}, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(actionMonitorList, resp.Status, resp.Cause); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doAction executes one GP51 webapi POST and decodes the JSON response.
// It applies the outbound rate limit, retries HTTP 429 with backoff, and
// wraps network failures as ErrTransport.
func (c *Client) doAction(ctx context.Context, action, token string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	query := url.Values{}
	query.Set("action", action)
	if token != "" {
		query.Set("token", token)
	}
	reqURL := fmt.Sprintf("%s?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequestWithRateLimit(req, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrTransport, action, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, action, err)
	}
	return nil
}

// doRequestWithRateLimit executes an HTTP request with automatic retry on
// HTTP 429. Exponential backoff 1s, 2s, 4s, 8s, 16s across 5 retries,
// honoring a Retry-After header (RFC 6585) when present. The request body
// is re-supplied on each attempt since the reader is consumed per try.
func (c *Client) doRequestWithRateLimit(req *http.Request, payload []byte) (*http.Response, error) {
	const maxRetries = 5
	baseDelay := 1 * time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		req.Body = http.NoBody
		if len(payload) > 0 {
			req.Body = newByteReadCloser(payload)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		resp.Body.Close()

		if attempt == maxRetries {
			return nil, fmt.Errorf("%w: exceeded %d retries", ErrRateLimited, maxRetries)
		}

		retryDelay := baseDelay * (1 << attempt)

		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				retryDelay = seconds
			}
		}

		logging.Warn().
			Dur("retry_delay", retryDelay).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Msg("GP51 API rate limited (HTTP 429), retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("unreachable code: retry loop should return or error")
}

// newByteReadCloser wraps a byte slice as a fresh request body.
func newByteReadCloser(b []byte) *byteReadCloser {
	return &byteReadCloser{Reader: bytes.NewReader(b)}
}

type byteReadCloser struct {
	*bytes.Reader
}

func (*byteReadCloser) Close() error { return nil }

// checkStatus maps a GP51 body-level status onto the error taxonomy.
func checkStatus(action string, status json.Number, cause string) error {
	code, err := status.Int64()
	if err != nil {
		return fmt.Errorf("%w: non-numeric status %q in %s response", ErrMalformedResponse, status.String(), action)
	}
	if code == statusOK {
		return nil
	}
	return &APIError{Action: action, Status: int(code), Cause: cause}
}
