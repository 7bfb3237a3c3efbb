// Package httpapi exposes the RAPTOR engine over HTTP: raw stop-id queries,
// name-based travel-times queries, a health check, and Prometheus metrics.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"raptor.onebusaway.org/internal/clock"
)

type contextKey string

const requestIDKey contextKey = "request_id"

var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-._:]+$`)

// requestIDMiddleware attaches an X-Request-ID to every request, generating
// one when the caller didn't send a well-formed one of its own.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 128 || !validRequestIDRegex.MatchString(reqID) {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFromContext returns the request ID stashed by requestIDMiddleware.
func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// loggingMiddleware emits one structured log line per request.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("http_request",
				slog.String("request_id", requestIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ipRateLimiter tracks one token bucket per client IP, the way the teacher's
// RateLimitMiddleware tracks one per API key; this service identifies
// callers by address instead, since it has no API-key concept.
type ipRateLimiter struct {
	rps     int
	clients map[string]*rateLimitClient
	mu      sync.RWMutex
	clock   clock.Clock
}

type rateLimitClient struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

const rateLimitIdleEviction = 10 * time.Minute

func newIPRateLimiter(rps int, c clock.Clock) *ipRateLimiter {
	rl := &ipRateLimiter{
		rps:     rps,
		clients: make(map[string]*rateLimitClient),
		clock:   c,
	}
	go rl.evictLoop()
	return rl
}

// evictLoop mirrors the teacher's background cleanup ticker: it runs for the
// life of the process, since the limiter itself is never torn down.
func (rl *ipRateLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.evictIdle()
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	rl.mu.RLock()
	client, ok := rl.clients[ip]
	rl.mu.RUnlock()
	if ok {
		client.lastSeen.Store(rl.clock.Now().UnixNano())
		return client.limiter.Allow()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if client, ok = rl.clients[ip]; ok {
		client.lastSeen.Store(rl.clock.Now().UnixNano())
		return client.limiter.Allow()
	}
	client = &rateLimitClient{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.rps)}
	client.lastSeen.Store(rl.clock.Now().UnixNano())
	rl.clients[ip] = client
	return client.limiter.Allow()
}

// evictIdle drops limiters for clients that haven't been seen recently, so a
// long-running process doesn't accumulate one entry per distinct IP forever.
func (rl *ipRateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for ip, client := range rl.clients {
		if now.Sub(time.Unix(0, client.lastSeen.Load())) > rateLimitIdleEviction {
			delete(rl.clients, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware applies a token bucket per client IP. rps <= 0 means
// unlimited. (appconfig.Load replaces a zero RateLimitRPS with its default
// of 5, so a loaded config never asks for unlimited.)
func rateLimitMiddleware(rps int, c clock.Clock) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newIPRateLimiter(rps, c)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, requestIDFromContext(r.Context()), http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
