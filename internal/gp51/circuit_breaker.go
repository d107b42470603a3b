// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/fleetiq/fleetiq/internal/config"
	"github.com/fleetiq/fleetiq/internal/logging"
	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// CircuitBreakerClient wraps Client with the circuit breaker pattern so a
// slow or unavailable GP51 backend cannot pile up goroutines behind the
// poller and the health probe.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. The timing decides recovery, not data integrity;
// unit tests target the wrapped client directly.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates a GP51 client with circuit breaker
// protection. Breaker configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
//
// Auth failures do not count toward tripping the breaker: the backend is
// reachable and answering, it just dislikes our credentials.
func NewCircuitBreakerClient(cfg *config.GP51Config) *CircuitBreakerClient {
	client := NewClient(cfg)
	cbName := "gp51-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			return err == nil || IsAuthError(err)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps a GP51 API call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(func() (interface{}, error) {
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()

			counts := cbc.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)

	return result, nil
}

// castResult safely type-casts the circuit breaker result with error checking.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Login authenticates with circuit breaker protection.
func (cbc *CircuitBreakerClient) Login(ctx context.Context, username, passwordMD5 string) (*models.GP51LoginResponse, error) {
	return castResult[models.GP51LoginResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.Login(ctx, username, passwordMD5)
	}))
}

// Logout invalidates the vendor session with circuit breaker protection.
func (cbc *CircuitBreakerClient) Logout(ctx context.Context, token string) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Logout(ctx, token)
	})
	return err
}

// QueryToken probes token validity with circuit breaker protection.
func (cbc *CircuitBreakerClient) QueryToken(ctx context.Context, token string) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.QueryToken(ctx, token)
	})
	return err
}

// GetLastPositions fetches latest device positions with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetLastPositions(ctx context.Context, token string, deviceIDs []string, lastQueryTime int64) (*models.GP51PositionResponse, error) {
	return castResult[models.GP51PositionResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetLastPositions(ctx, token, deviceIDs, lastQueryTime)
	}))
}

// QueryMonitorList fetches the device tree with circuit breaker protection.
func (cbc *CircuitBreakerClient) QueryMonitorList(ctx context.Context, token, username string) (*models.GP51MonitorListResponse, error) {
	return castResult[models.GP51MonitorListResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.QueryMonitorList(ctx, token, username)
	}))
}
