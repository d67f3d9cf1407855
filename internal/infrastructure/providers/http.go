// Package providers holds the third-party market data adapters and the
// retrying HTTP client they share.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider responded %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status belongs to the transient set.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusRequestEntityTooLarge,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client issues GET requests with bounded exponential-backoff retries.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxJitter  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client with a 15s timeout and up to 4 retries.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		maxRetries: 4,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   60 * time.Second,
		maxJitter:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry limit.
func WithRetries(max int) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithBackoff sets the base delay, its ceiling and the maximum added jitter.
func WithBackoff(base, ceiling, jitter time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = ceiling
		c.maxJitter = jitter
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// min(ceiling, base*2^attempt) plus jitter in [0, maxJitter).
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.maxDelay
	if attempt < 32 {
		d = min(c.maxDelay, c.baseDelay*time.Duration(int64(1)<<attempt))
	}
	if c.maxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.maxJitter)))
	}
	return d
}

// GetJSON fetches url and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	body, err := c.getWithRetry(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Backoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", delay, "url", url)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.get(ctx, url, header)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Body: body}
	}
	return body, nil
}

// isRetryable covers transient statuses, timeouts, connection resets and
// temporary DNS failures.
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
