// Package app assembles the RAPTOR service's dependencies into a single
// Application, the way the teacher's app.Application groups config, a
// logger, and its GTFS manager for the HTTP layer to share.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"raptor.onebusaway.org/internal/appconfig"
	"raptor.onebusaway.org/internal/clock"
	"raptor.onebusaway.org/internal/gtfsload"
	"raptor.onebusaway.org/internal/httpapi"
	"raptor.onebusaway.org/internal/metrics"
	"raptor.onebusaway.org/internal/raptor"
	"raptor.onebusaway.org/internal/resultsink"
	"raptor.onebusaway.org/internal/traveltimes"
)

// Application holds every dependency the RAPTOR HTTP server needs: the
// validated config, the feed cache, the HTTP server holding the current
// snapshot, and the ambient logger/clock/metrics/sink instances threaded
// through the rest of the service.
type Application struct {
	Config  *appconfig.Config
	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Cache   *gtfsload.CacheStore
	Sink    resultsink.Sink
	Server  *httpapi.Server
}

// Build loads config, opens the feed cache, performs the initial feed load,
// and wires everything into an Application ready to serve. It mirrors the
// teacher's BuildApplication in shape (config in, fully wired Application
// out) though the pieces being wired are this service's own.
func Build(configPath, envPath string) (*Application, error) {
	cfg, err := appconfig.Load(configPath, envPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	m := metrics.New()
	rc := clock.RealClock{}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: resolve timezone %q: %w", cfg.Timezone, err)
	}

	cache, err := gtfsload.OpenCacheStore(cfg.FeedCachePath)
	if err != nil {
		return nil, fmt.Errorf("app: open feed cache: %w", err)
	}

	sink := buildSink(cfg, m, logger)

	snapshot, err := gtfsload.Load(context.Background(), cfg.GTFSSource, cfg.GTFSIsLocalFile, rc.Now(), loc, gtfsload.Config{CachePath: cfg.FeedCachePath}, cache, m, logger)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("app: initial feed load: %w", err)
	}

	idx := traveltimes.NewNameIndex(snapshotStops(snapshot))
	server := httpapi.NewServer(snapshot.Store, idx, httpapi.Config{
		Location:      loc,
		Clock:         rc,
		Metrics:       m,
		Sink:          sink,
		Logger:        logger,
		MaxRounds:     cfg.MaxRounds,
		DefaultWindow: 3600,
	})

	return &Application{
		Config:  cfg,
		Logger:  logger,
		Clock:   rc,
		Metrics: m,
		Cache:   cache,
		Sink:    sink,
		Server:  server,
	}, nil
}

// Shutdown releases every resource Build acquired: sink connections, the
// feed cache handle, and the metrics DB-stats collector, in that order.
func (a *Application) Shutdown() {
	if a.Sink != nil {
		if err := resultsink.Close(a.Sink); err != nil {
			a.Logger.Warn("error closing result sink", slog.String("error", err.Error()))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("error closing feed cache", slog.String("error", err.Error()))
		}
	}
	if a.Metrics != nil {
		a.Metrics.Shutdown()
	}
}

// buildSink wires whichever result sinks the config enables into a
// MultiSink; both are optional, and a MultiSink with zero entries is a
// documented no-op.
func buildSink(cfg *appconfig.Config, m *metrics.Metrics, logger *slog.Logger) resultsink.Sink {
	var sinks []resultsink.Sink
	if cfg.NATSUrl != "" {
		natsSink, err := resultsink.NewNATSSink(cfg.NATSUrl, nil)
		if err != nil {
			logger.Warn("failed to connect result sink to nats, continuing without it", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, natsSink)
		}
	}
	if cfg.PostgresDSN != "" {
		pgSink, err := resultsink.NewPostgresSink(context.Background(), cfg.PostgresDSN)
		if err != nil {
			logger.Warn("failed to connect result sink to postgres, continuing without it", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, pgSink)
		}
	}
	return resultsink.NewMultiSink(sinks...)
}

func snapshotStops(s *gtfsload.Snapshot) []raptor.Stop {
	stops := make([]raptor.Stop, 0, len(s.Stops))
	for id, stop := range s.Stops {
		stops = append(stops, raptor.Stop{ID: id, Name: stop.Name})
	}
	return stops
}
