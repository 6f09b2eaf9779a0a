package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer replies with result to every request after the first
// `failures` attempts, which get failStatus.
func rpcServer(t *testing.T, failures int32, failStatus int, result any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failures {
			w.WriteHeader(failStatus)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func TestClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "getSlot", req.Method)
		assert.Equal(t, []any{"finalized"}, req.Params)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 4242})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithHeader("X-Api-Key", "secret"))

	var slot int64
	require.NoError(t, client.Call(context.Background(), "getSlot", []any{"finalized"}, &slot))
	assert.Equal(t, int64(4242), slot)
	assert.Equal(t, srv.URL, client.Endpoint())
}

func TestClient_RetriesTransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, attempts := rpcServer(t, 2, status, "ok")
			client := NewClient(srv.URL, WithMaxRetries(3), WithRetryDelay(5*time.Millisecond))

			var out string
			require.NoError(t, client.Call(context.Background(), "ping", nil, &out))
			assert.Equal(t, "ok", out)
			assert.Equal(t, int32(3), attempts.Load())
		})
	}
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	srv, attempts := rpcServer(t, 100, http.StatusBadGateway, nil)
	client := NewClient(srv.URL, WithMaxRetries(2), WithRetryDelay(5*time.Millisecond))

	err := client.Call(context.Background(), "ping", nil, nil)
	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	srv, attempts := rpcServer(t, 100, http.StatusUnauthorized, nil)
	client := NewClient(srv.URL, WithRetryDelay(5*time.Millisecond))

	err := client.Call(context.Background(), "ping", nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_RPCErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32600, "message": "Invalid Request"},
		})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, WithRetryDelay(5*time.Millisecond)).Call(context.Background(), "ping", nil, nil)

	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr), "got %T", err)
	assert.Equal(t, -32600, rpcErr.Code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryDelay(time.Millisecond))
	start := time.Now()
	require.NoError(t, client.Call(context.Background(), "ping", nil, nil))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestClient_RateLimit(t *testing.T) {
	srv, _ := rpcServer(t, 0, 0, 1)

	// One token up front, then 20 per second.
	client := NewClient(srv.URL, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Call(context.Background(), "ping", nil, nil))
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClient_ContextCancellation(t *testing.T) {
	srv, _ := rpcServer(t, 0, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient(srv.URL).Call(ctx, "ping", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxErrorBody+10)
	assert.Len(t, truncate([]byte(long)), maxErrorBody+3)
	assert.Equal(t, "short", truncate([]byte("short")))
}
