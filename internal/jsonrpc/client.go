// Package jsonrpc implements a JSON-RPC 2.0 over HTTP client with retries,
// exponential backoff and client-side rate limiting. It is shared by the
// Solana and EVM ledger clients.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"edufund/internal/observability"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultMaxDelay   = 10 * time.Second

	// maxErrorBody caps how much of a failed response ends up in an error.
	maxErrorBody = 512
)

// ErrMaxRetries wraps the last transport error once all attempts are spent.
var ErrMaxRetries = errors.New("max retries exceeded")

// Client performs JSON-RPC 2.0 calls against a single HTTP endpoint.
type Client struct {
	endpoint   string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	header     http.Header
	nextID     atomic.Uint64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds one HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the first backoff pause; it doubles per retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMaxDelay caps the backoff pause.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithHeader adds a header to every request, e.g. a provider API key.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// NewClient creates a JSON-RPC client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		http:       &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		header:     make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// retryable marks a failed attempt worth repeating. after, when set, is
// the pause the server asked for.
type retryable struct {
	err   error
	after time.Duration
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// Call invokes method and decodes the result into result (nil discards
// it). Transport failures, 429 and 5xx responses are retried with
// exponential backoff; RPC error objects come back at once as *Error.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		raw, err := c.attempt(ctx, body)
		if err == nil {
			if result == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
			return nil
		}

		var r *retryable
		if !errors.As(err, &r) {
			return err
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("%s: %w: %w", method, ErrMaxRetries, r.err)
		}

		pause := max(delay, r.after)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
		delay = min(delay*2, c.maxDelay)
	}
}

// attempt performs one POST and returns the raw result.
func (c *Client) attempt(ctx context.Context, body []byte) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryable{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryable{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryable{err: errors.New("rate limited (429)"), after: retryAfter(resp.Header)}
	case resp.StatusCode >= 500:
		return nil, &retryable{err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(payload))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(payload))
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &retryable{err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
