package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mmynk/ajo/internal/models"
)

// Ensure HTTPClient implements Gateway
var _ Gateway = (*HTTPClient)(nil)

// ClientConfig configures the HTTP gateway client.
type ClientConfig struct {
	BaseURL   string
	SecretKey string

	// Timeout bounds every gateway call.
	Timeout time.Duration

	// RequestsPerSecond and Burst rate-limit outbound calls.
	RequestsPerSecond float64
	Burst             int
}

// HTTPClient talks to the gateway's REST API through a circuit breaker and a
// rate limiter.
type HTTPClient struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

// NewHTTPClient creates a gateway client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	st := gobreaker.Settings{Name: "payment-gateway"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 5 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
	}
	st.IsSuccessful = func(err error) bool {
		// A rejection is the gateway working correctly.
		return err == nil || errors.Is(err, ErrRejected)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("Gateway circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	return &HTTPClient{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		timeout:   cfg.Timeout,
		http:      &http.Client{Timeout: cfg.Timeout},
		breaker:   gobreaker.NewCircuitBreaker(st),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// InitiateTransfer posts a transfer. The idempotency key is sent as a header
// so the gateway deduplicates replays of the same attempt.
func (c *HTTPClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/transfers", body, req.IdempotencyKey)
}

// GetTransfer fetches a transfer by idempotency key.
func (c *HTTPClient) GetTransfer(ctx context.Context, idempotencyKey string) (*Transfer, error) {
	return c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(idempotencyKey), nil, "")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build gateway request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
		httpReq.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, classify(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, classify(err)
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(raw))
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
		}

		var transfer Transfer
		if err := json.Unmarshal(raw, &transfer); err != nil {
			return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
		}
		return &transfer, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*Transfer), nil
}

// classify maps transport failures onto the engine's error taxonomy.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrExternalTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
