// Package gtfsload turns a GTFS static feed (a local file or a URL) into a
// raptor.Store scoped to one service date. The raw feed bytes are kept in an
// on-disk cache keyed by source and checksum; every load still fetches and
// parses the feed, so the cache does not save a download or a parse.
package gtfsload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"raptor.onebusaway.org/internal/metrics"
	"raptor.onebusaway.org/internal/raptor"
)

// maxFeedBytes bounds how large a downloaded feed is allowed to be before
// the loader gives up, so a misconfigured source can't exhaust memory.
const maxFeedBytes = 200 << 20 // 200MiB

const fetchTimeout = 5 * time.Minute

// Config configures a Load call.
type Config struct {
	AuthHeaderKey   string
	AuthHeaderValue string
	CachePath       string
}

// Snapshot is the parsed, filtered state a Load produces: the Store ready
// for searches, the stop metadata needed by the name-based wrapper, and
// the raw static data in case a caller needs fields Load doesn't surface
// (e.g. route/agency info for an HTTP response).
type Snapshot struct {
	Store      *raptor.Store
	Stops      map[string]*gtfs.Stop
	Static     *gtfs.Static
	ServiceIDs map[string]bool
	FetchedAt  time.Time
}

// Load fetches source (a URL unless isLocalFile is true), then looks the
// fetched bytes' checksum up in the feed cache (storing them on a miss),
// parses them as a GTFS static feed, resolves
// which services are active on date, and builds a raptor.Store scoped to
// that date.
func Load(ctx context.Context, source string, isLocalFile bool, date time.Time, loc *time.Location, cfg Config, cache *CacheStore, m *metrics.Metrics, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "gtfsload"))

	raw, err := fetch(ctx, source, isLocalFile, cfg)
	if err != nil {
		return nil, fmt.Errorf("gtfsload: fetch %s: %w", source, err)
	}
	checksum := Checksum(raw)

	if cache != nil {
		if cached, hit, err := cache.Get(ctx, source, checksum); err != nil {
			logger.Warn("feed cache lookup failed, continuing without cache", slog.String("error", err.Error()))
		} else if hit {
			logger.Info("feed cache hit", slog.String("source", source))
			raw = cached
			if m != nil {
				m.FeedCacheHitsTotal.Inc()
			}
		} else {
			if m != nil {
				m.FeedCacheMissesTotal.Inc()
			}
			if err := cache.Put(ctx, source, checksum, raw); err != nil {
				logger.Warn("feed cache write failed", slog.String("error", err.Error()))
			}
		}
	}

	static, err := gtfs.ParseStatic(raw, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("gtfsload: parse %s: %w", source, err)
	}

	activeServices := ActiveServices(static.Services, date, loc)

	stopsByID := make(map[string]*gtfs.Stop, len(static.Stops))
	raptorStops := make([]raptor.Stop, 0, len(static.Stops))
	for _, s := range static.Stops {
		s := s
		stopsByID[s.Id] = &s
		raptorStops = append(raptorStops, raptor.Stop{ID: s.Id, Name: s.Name})
	}

	rawStopTimes := make([]raptor.RawStopTime, 0)
	for _, trip := range static.Trips {
		for _, stopTime := range trip.StopTimes {
			rawStopTimes = append(rawStopTimes, raptor.RawStopTime{
				TripID:       trip.ID,
				ServiceID:    trip.Service.Id,
				StopID:       stopTime.Stop.Id,
				StopSequence: stopTime.StopSequence,
				Arrival:      int(stopTime.ArrivalTime.Seconds()),
				Departure:    int(stopTime.DepartureTime.Seconds()),
			})
		}
	}

	transfers := make([]raptor.Transfer, 0, len(static.Transfers))
	for _, t := range static.Transfers {
		if t.From == nil || t.To == nil {
			continue
		}
		minTransferTime := 0
		if t.MinTransferTime != nil {
			minTransferTime = int(*t.MinTransferTime)
		}
		transfers = append(transfers, raptor.Transfer{
			FromStopID:      t.From.Id,
			ToStopID:        t.To.Id,
			MinTransferTime: minTransferTime,
		})
	}
	transfers = synthesizeSelfTransfers(raptorStops, transfers)

	ft, err := raptor.Prepare(raptor.FilterInput{
		Stops:         raptorStops,
		StopTimes:     rawStopTimes,
		Transfers:     transfers,
		ActiveService: activeServices,
	}, raptor.Window{Start: 0, End: raptor.MaxServiceDaySeconds})
	if err != nil {
		return nil, fmt.Errorf("gtfsload: prepare store: %w", err)
	}
	store := ft.Store

	fetchedAt := time.Now()
	if m != nil {
		m.FeedAgeSeconds.Set(0)
	}

	return &Snapshot{
		Store:      store,
		Stops:      stopsByID,
		Static:     static,
		ServiceIDs: activeServices,
		FetchedAt:  fetchedAt,
	}, nil
}

// synthesizeSelfTransfers adds an explicit zero-cost self-transfer for
// every stop that already appears as the From or To side of some transfer
// but lacks a same-stop row of its own, so in-place reboarding at a stop
// with a custom minimum transfer time elsewhere isn't accidentally
// penalized by RAPTOR treating it as unreachable via footpath.
func synthesizeSelfTransfers(stops []raptor.Stop, transfers []raptor.Transfer) []raptor.Transfer {
	hasAny := make(map[string]bool)
	hasSelf := make(map[string]bool)
	for _, t := range transfers {
		hasAny[t.FromStopID] = true
		hasAny[t.ToStopID] = true
		if t.FromStopID == t.ToStopID {
			hasSelf[t.FromStopID] = true
		}
	}
	for _, s := range stops {
		if hasAny[s.ID] && !hasSelf[s.ID] {
			transfers = append(transfers, raptor.Transfer{FromStopID: s.ID, ToStopID: s.ID, MinTransferTime: 0})
		}
	}
	return transfers
}

func fetch(ctx context.Context, source string, isLocalFile bool, cfg Config) ([]byte, error) {
	if isLocalFile {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, err
		}
		if len(b) > maxFeedBytes {
			return nil, fmt.Errorf("feed file exceeds %d bytes", maxFeedBytes)
		}
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	if cfg.AuthHeaderKey != "" && cfg.AuthHeaderValue != "" {
		req.Header.Set(cfg.AuthHeaderKey, cfg.AuthHeaderValue)
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received HTTP status %s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxFeedBytes {
		return nil, fmt.Errorf("feed response exceeds %d bytes", maxFeedBytes)
	}
	return b, nil
}
