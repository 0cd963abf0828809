// Package store is the durable-store adapter: a typed RPC surface over
// Supabase PostgREST. Every call goes through a circuit breaker so a dead
// upstream degrades into typed unavailable errors instead of piling up
// blocked goroutines.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned when the circuit breaker is open or the
	// upstream cannot be reached.
	ErrUnavailable = errors.New("durable store unavailable")
	// ErrNotFound is returned for rooms or rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an optimistic-lock write lost.
	ErrVersionConflict = errors.New("version conflict")
)

// Client talks to Supabase PostgREST.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

// New creates a store client. The breaker opens after 3 consecutive failures
// and probes again after 10 seconds.
func New(baseURL, apiKey string) *Client {
	st := gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Typed business errors are not availability failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("supabase").Set(stateVal)
		},
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

// httpError is a PostgREST error body.
type httpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do runs a request through the circuit breaker and decodes the response into
// out when it is non-nil. Version conflicts and not-found rows pass through
// as typed errors without tripping the breaker.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 400 {
			var pgErr httpError
			_ = json.Unmarshal(data, &pgErr)
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, ErrNotFound
			case http.StatusConflict:
				return nil, ErrVersionConflict
			default:
				return nil, fmt.Errorf("store returned %d: %s", resp.StatusCode, pgErr.Message)
			}
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("failed to decode store response: %w", err)
			}
		}
		return nil, nil
	})

	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return err
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.CircuitBreakerFailures.WithLabelValues("supabase").Inc()
			logging.Warn(ctx, "Supabase circuit breaker open", zap.String("path", path))
			return ErrUnavailable
		}
		return err
	}
	return nil
}

// rpc invokes a PostgREST stored procedure.
func (c *Client) rpc(ctx context.Context, fn string, params any, out any) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, params, out)
}

// Ping checks PostgREST reachability. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/rest/v1/", nil, nil)
}
