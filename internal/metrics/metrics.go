// Package metrics provides Prometheus metrics for the RAPTOR service: HTTP
// traffic, the feed cache's connection pool, and the RAPTOR engine itself.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database connection-pool metrics, updated by StartDBStatsCollector
	// for the *sql.DB passed to it
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// RAPTOR search metrics
	RaptorSearchesTotal  *prometheus.CounterVec
	RaptorSearchDuration *prometheus.HistogramVec
	RaptorLabelsComputed prometheus.Histogram

	// Feed cache metrics
	FeedCacheHitsTotal   prometheus.Counter
	FeedCacheMissesTotal prometheus.Counter
	FeedAgeSeconds       prometheus.Gauge

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maglev_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maglev_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "maglev_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "maglev_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "maglev_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "maglev_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	raptorSearchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raptor_searches_total",
			Help: "Total number of RAPTOR searches run",
		},
		[]string{"keep"},
	)

	raptorSearchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raptor_search_duration_seconds",
			Help:    "RAPTOR search latency distribution, by keep mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"keep"},
	)

	raptorLabelsComputed := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raptor_labels_computed",
		Help:    "Number of labels (stop, round) updated per search",
		Buckets: prometheus.ExponentialBuckets(8, 2, 12),
	})

	feedCacheHitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_hits_total",
		Help: "Total number of feed cache lookups that found a matching checksum",
	})

	feedCacheMissesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_misses_total",
		Help: "Total number of feed cache lookups that found no entry with a matching checksum",
	})

	feedAgeSeconds := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_age_seconds",
		Help: "Age, in seconds, of the currently loaded feed as of its last successful load",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
		raptorSearchesTotal,
		raptorSearchDuration,
		raptorLabelsComputed,
		feedCacheHitsTotal,
		feedCacheMissesTotal,
		feedAgeSeconds,
	)

	return &Metrics{
		Registry:             registry,
		HTTPRequestsTotal:    httpRequestsTotal,
		HTTPRequestDuration:  httpRequestDuration,
		DBConnectionsOpen:    dbConnectionsOpen,
		DBConnectionsInUse:   dbConnectionsInUse,
		DBConnectionsIdle:    dbConnectionsIdle,
		DBWaitSecondsTotal:   dbWaitSecondsTotal,
		RaptorSearchesTotal:  raptorSearchesTotal,
		RaptorSearchDuration: raptorSearchDuration,
		RaptorLabelsComputed: raptorLabelsComputed,
		FeedCacheHitsTotal:   feedCacheHitsTotal,
		FeedCacheMissesTotal: feedCacheMissesTotal,
		FeedAgeSeconds:       feedAgeSeconds,
		logger:               logger,
	}
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
