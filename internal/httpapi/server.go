package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raptor.onebusaway.org/internal/clock"
	"raptor.onebusaway.org/internal/metrics"
	"raptor.onebusaway.org/internal/raptor"
	"raptor.onebusaway.org/internal/resultsink"
	"raptor.onebusaway.org/internal/traveltimes"
)

// Server wires a raptor.Store, its NameIndex, and the ambient middleware
// chain into a single http.Handler. The store/index pair is guarded by a
// RWMutex rather than held immutable, so a feed reload (SetSnapshot) can
// swap in a freshly loaded timetable without restarting the process, the
// way the teacher's Manager guards its own GTFS data under a RWMutex.
type Server struct {
	mu            sync.RWMutex
	store         *raptor.Store
	nameIndex     *traveltimes.NameIndex
	loc           *time.Location
	clock         clock.Clock
	metrics       *metrics.Metrics
	sink          resultsink.Sink
	logger        *slog.Logger
	maxRounds     int
	defaultWindow int
}

// Config configures a new Server.
type Config struct {
	Location      *time.Location
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Sink          resultsink.Sink
	Logger        *slog.Logger
	RateLimitRPS  int
	MaxRounds     int
	DefaultWindow int
}

// NewServer builds a Server with an initial store/index pair.
func NewServer(store *raptor.Store, idx *traveltimes.NameIndex, cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 3600
	}
	return &Server{
		store:         store,
		nameIndex:     idx,
		loc:           cfg.Location,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		maxRounds:     cfg.MaxRounds,
		defaultWindow: cfg.DefaultWindow,
	}
}

// SetSnapshot atomically replaces the store and name index a running
// Server answers queries against.
func (s *Server) SetSnapshot(store *raptor.Store, idx *traveltimes.NameIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	s.nameIndex = idx
}

func (s *Server) snapshot() (*raptor.Store, *traveltimes.NameIndex) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store, s.nameIndex
}

// Handler assembles the full middleware chain around the mux: request-id ->
// structured logging -> per-IP rate limiting -> Prometheus metrics -> mux.
// This ordering mirrors the teacher's restapi chain, adapted to this
// service's endpoints and error shape.
func (s *Server) Handler(rps int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/raptor", s.handleRaptor)
	mux.HandleFunc("GET /api/travel-times", s.handleTravelTimes)
	mux.HandleFunc("GET /api/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = metricsMiddleware(s.metrics)(handler)
	handler = rateLimitMiddleware(rps, s.clock)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// metricsMiddleware records HTTP request counts and latency, the way the
// teacher's restapi.MetricsHandler does. A nil *metrics.Metrics yields a
// pass-through middleware, so metrics stay entirely optional.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, http.StatusText(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// publishAsync fires the result sink in the background so a slow or
// unreachable NATS/Postgres endpoint never adds latency to the HTTP
// response; failures are logged, never surfaced to the caller.
func (s *Server) publishAsync(originName string, rows []traveltimes.Row) {
	if s.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.sink.PublishTravelTimes(ctx, originName, rows); err != nil {
			s.logger.Warn("result sink publish failed", slog.String("origin", originName), slog.String("error", err.Error()))
		}
	}()
}
