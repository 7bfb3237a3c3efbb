// Package resultsink publishes travel-time results to external systems:
// a NATS subject per origin for live consumers, and a Postgres table for
// durable storage and later querying.
package resultsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"raptor.onebusaway.org/internal/traveltimes"
)

// Sink publishes a batch of travel-time rows computed from one origin.
type Sink interface {
	PublishTravelTimes(ctx context.Context, originName string, rows []traveltimes.Row) error
}

// Metrics is the subset of Prometheus instrumentation a sink reports
// through, kept as an interface here so this package never imports the
// concrete Prometheus registry.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// NATSSink publishes each origin's results as one JSON message per subject
// "traveltimes.<origin>".
type NATSSink struct {
	nc      *nats.Conn
	metrics Metrics
}

// NewNATSSink connects to url and returns a Sink publishing to it.
func NewNATSSink(url string, m Metrics) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("raptor-engine"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("resultsink: nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("resultsink: nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("resultsink: nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("resultsink: connect nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSSink{nc: nc, metrics: m}, nil
}

// Close drains and closes the underlying NATS connection.
func (s *NATSSink) Close() {
	if s.nc == nil {
		return
	}
	_ = s.nc.Drain()
	s.nc.Close()
}

type travelTimesMessage struct {
	Origin      string            `json:"origin"`
	ComputedAt  time.Time         `json:"computedAt"`
	TravelTimes []traveltimes.Row `json:"travelTimes"`
}

func (s *NATSSink) PublishTravelTimes(ctx context.Context, originName string, rows []traveltimes.Row) error {
	subject := "traveltimes." + subjectToken(originName)
	b, err := json.Marshal(travelTimesMessage{Origin: originName, ComputedAt: time.Now().UTC(), TravelTimes: rows})
	if err != nil {
		return fmt.Errorf("resultsink: marshal message: %w", err)
	}
	err = s.nc.PublishMsg(&nats.Msg{Subject: subject, Data: b})
	if s.metrics != nil {
		if err != nil {
			s.metrics.NATSPublishErrInc()
		} else {
			s.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("resultsink: publish: %w", err)
	}
	return nil
}

// subjectToken sanitizes s for use as a NATS subject token: tokens cannot
// contain whitespace, '.', '*', or '>'.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// PostgresSink appends every published row to travel_time_results.
type PostgresSink struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS travel_time_results (
	id BIGSERIAL PRIMARY KEY,
	origin_name TEXT NOT NULL,
	stop_name TEXT NOT NULL,
	travel_time INTEGER NOT NULL,
	transfers INTEGER NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresSink opens a pgx-backed connection pool to dsn and ensures the
// results table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("resultsink: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("resultsink: create schema: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Close releases the sink's connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) PublishTravelTimes(ctx context.Context, originName string, rows []traveltimes.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resultsink: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO travel_time_results (origin_name, stop_name, travel_time, transfers, computed_at) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("resultsink: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, originName, r.StopName, r.Value, r.Transfers, now); err != nil {
			return fmt.Errorf("resultsink: insert row for %s: %w", r.StopName, err)
		}
	}
	return tx.Commit()
}

// MultiSink fans a single publish out to every underlying Sink, running
// them concurrently isn't necessary here since sinks are typically few and
// I/O bound; it collects every failure with errors.Join instead of
// stopping at the first one, so a down NATS broker doesn't also suppress a
// working Postgres write.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a Sink that publishes to every sink in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) PublishTravelTimes(ctx context.Context, originName string, rows []traveltimes.Row) error {
	var errs []error
	for _, s := range m.sinks {
		if s == nil {
			continue
		}
		if err := s.PublishTravelTimes(ctx, originName, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closer is implemented by sinks that hold a connection worth releasing.
// NATSSink.Close returns nothing and PostgresSink.Close returns an error, so
// both are checked separately below rather than folded into one interface.
type closer interface {
	Close() error
}

// Close releases any connections sink holds: a MultiSink closes every
// closeable sink it wraps and joins their errors, a *NATSSink drains and
// closes its connection, a *PostgresSink closes its pool, and anything else
// (including nil) is a no-op.
func Close(sink Sink) error {
	switch s := sink.(type) {
	case nil:
		return nil
	case *MultiSink:
		var errs []error
		for _, inner := range s.sinks {
			if err := Close(inner); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case *NATSSink:
		s.Close()
		return nil
	case closer:
		return s.Close()
	default:
		return nil
	}
}
