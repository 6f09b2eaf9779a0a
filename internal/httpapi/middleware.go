package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"edufund/internal/observability"
)

// WalletHeader carries the caller wallet, already authenticated upstream.
const WalletHeader = "X-Wallet-Address"

func callerWallet(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(WalletHeader))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs one line per request and records the request metrics
// under the route template, so ids do not explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())

		entry := s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
			"wallet":      callerWallet(r),
		})
		switch {
		case route == "/health" || route == "/metrics":
			entry.Debug("http request")
		case rec.status >= http.StatusInternalServerError:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	})
}

// withTimeout bounds the request context.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.opts.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimiter keeps one token bucket per caller wallet, falling back to
// the client IP for anonymous requests.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	capacity int
	idle     time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	// maxLimiters bounds the bucket map.
	maxLimiters = 10000
	// limiterIdle is how long an unused bucket survives a sweep. A bucket
	// idle this long has refilled anyway.
	limiterIdle = 10 * time.Minute
)

func newRateLimiter(rps float64, burst int, log logrus.FieldLogger) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		capacity: maxLimiters,
		idle:     limiterIdle,
		now:      time.Now,
		log:      log,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= rl.capacity {
			rl.evict(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.seen = now
	return e.lim
}

// evict drops idle buckets, or the least recently seen one when none is
// idle. Active callers keep their buckets. Called with mu held.
func (rl *rateLimiter) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range rl.limiters {
		if now.Sub(e.seen) > rl.idle {
			delete(rl.limiters, k)
			continue
		}
		if oldestKey == "" || e.seen.Before(oldest) {
			oldestKey, oldest = k, e.seen
		}
	}
	if len(rl.limiters) >= rl.capacity && oldestKey != "" {
		delete(rl.limiters, oldestKey)
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerWallet(r)
		if key == "" {
			key = clientIP(r)
		}
		if !rl.limiter(key).Allow() {
			rl.log.WithFields(logrus.Fields{
				"key":    key,
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware answers preflight requests and sets the allow headers for
// permitted origins. "*" permits every origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !allowAll && !allowed[strings.TrimRight(origin, "/")] {
					if r.Method == http.MethodOptions {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					writeErrorCode(w, http.StatusForbidden, "CORS_ORIGIN_NOT_ALLOWED", "origin not allowed")
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+WalletHeader)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
