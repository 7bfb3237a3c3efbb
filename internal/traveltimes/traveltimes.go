// Package traveltimes is the name-based wrapper around internal/raptor: it
// resolves human station names to the platform stop_ids RAPTOR works in,
// runs the search, and re-aggregates the results back down to one row per
// name by keeping each name's best-reaching platform.
package traveltimes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"raptor.onebusaway.org/internal/raptor"
)

// DefaultDepartureTimeRange is the departure_time_range used when a caller
// supplies neither it nor MaxDepartureTime.
const DefaultDepartureTimeRange = 3600

// Row is one output record of a travel_times call: the best travel time
// (or arrival, depending on Keep) from the origin set to a named stop,
// plus the transfer count of the winning platform.
type Row struct {
	StopName  string
	Value     int
	Transfers int
}

// Table is the columnar view of a Result: the same rows as Rows, but
// transposed into parallel slices, one per column. Some callers (notably
// tabular/dataframe-style consumers) prefer this shape over a slice of
// structs.
type Table struct {
	StopName  []string
	Value     []int
	Transfers []int
}

// Result is the outcome of a Query or QueryAll call. Warnings carries
// non-fatal notices: a NoData search (valid request, nothing reachable) or
// a departure_time_range that was overridden by an explicit
// MaxDepartureTime.
type Result struct {
	rows     []Row
	Warnings []string
}

// Rows returns the result as one row per record, the plain (non-tabular)
// shape.
func (r *Result) Rows() []Row {
	return r.rows
}

// Table returns the result transposed into column-major form.
func (r *Result) Table() *Table {
	t := &Table{
		StopName:  make([]string, len(r.rows)),
		Value:     make([]int, len(r.rows)),
		Transfers: make([]int, len(r.rows)),
	}
	for i, row := range r.rows {
		t.StopName[i] = row.StopName
		t.Value[i] = row.Value
		t.Transfers[i] = row.Transfers
	}
	return t
}

// MaxDepartureTime is an optional absolute departure ceiling, either
// "seconds since midnight" or "HH:MM:SS". Set is false when the caller did
// not supply one.
type MaxDepartureTime struct {
	Seconds int
	Set     bool
}

// ParseMaxDepartureTime parses s as either an integer number of seconds
// since midnight or an "HH:MM:SS" clock time.
func ParseMaxDepartureTime(s string) (MaxDepartureTime, error) {
	if s == "" {
		return MaxDepartureTime{}, nil
	}
	if seconds, err := strconv.Atoi(s); err == nil {
		if seconds < 0 {
			return MaxDepartureTime{}, invalidArgument("max_departure_time must be non-negative, got %q", s)
		}
		return MaxDepartureTime{Seconds: seconds, Set: true}, nil
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return MaxDepartureTime{}, invalidArgument("max_departure_time must be seconds or HH:MM:SS, got %q", s)
	}
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return MaxDepartureTime{Seconds: seconds, Set: true}, nil
}

// Options configures a Query/QueryAll call. Keep is not exposed here: Query
// always forces KeepShortest and QueryAll always forces KeepAll, per
// spec.md §4.5.
type Options struct {
	// DepartureTimeRange (Δ) defaults to DefaultDepartureTimeRange when
	// zero. Ignored when MaxDepartureTime is set.
	DepartureTimeRange int
	MaxDepartureTime   MaxDepartureTime
	MaxRounds          int
}

// resolveRange derives the RAPTOR departure_time_range to search with,
// given the origin's own t0. When both DepartureTimeRange and
// MaxDepartureTime are supplied, MaxDepartureTime wins and a warning is
// appended reporting the override.
func resolveRange(t0Origin int, opts Options) (int, []string, error) {
	var warnings []string

	rangeSeconds := opts.DepartureTimeRange
	if rangeSeconds <= 0 {
		rangeSeconds = DefaultDepartureTimeRange
	}

	if opts.MaxDepartureTime.Set {
		delta := opts.MaxDepartureTime.Seconds - t0Origin
		if delta <= 0 {
			return 0, nil, invalidArgument("max_departure_time (%d) must be after the origin's earliest departure (%d)", opts.MaxDepartureTime.Seconds, t0Origin)
		}
		if opts.DepartureTimeRange > 0 {
			warnings = append(warnings, "both departure_time_range and max_departure_time were supplied; using max_departure_time")
		}
		rangeSeconds = delta
	}

	return rangeSeconds, warnings, nil
}

// NameIndex maps station names to the platform stop_ids that share them,
// built once per timetable and reused across calls.
type NameIndex struct {
	stopName    map[string]string   // stop_id -> name
	stopsByName map[string][]string // name -> stop_ids
}

// NewNameIndex builds a NameIndex from a flat stop list.
func NewNameIndex(stops []raptor.Stop) *NameIndex {
	idx := &NameIndex{
		stopName:    make(map[string]string, len(stops)),
		stopsByName: make(map[string][]string),
	}
	for _, s := range stops {
		idx.stopName[s.ID] = s.Name
		idx.stopsByName[s.Name] = append(idx.stopsByName[s.Name], s.ID)
	}
	return idx
}

// StopIDs resolves a station name to its platform stop_ids.
func (idx *NameIndex) StopIDs(name string) ([]string, error) {
	ids, ok := idx.stopsByName[name]
	if !ok {
		return nil, invalidArgument("unknown stop name: %s", name)
	}
	return ids, nil
}

// Query runs a RAPTOR search from the platforms belonging to fromName and
// re-aggregates the per-platform Result back down to one Row per station
// name, keeping each name's minimum value (and the transfer count of the
// platform that achieved it). Keep is always forced to KeepShortest; use
// QueryAll for the un-collapsed, KeepAll view.
func Query(ctx context.Context, store *raptor.Store, idx *NameIndex, fromName string, opts Options) (*Result, error) {
	fromIDs, err := idx.StopIDs(fromName)
	if err != nil {
		return nil, err
	}

	t0Origin, ok := raptor.EarliestDeparture(store, fromIDs)
	if !ok {
		return &Result{}, &raptor.Error{Kind: raptor.NoData, Msg: fmt.Sprintf("no departures from %q in the timetable", fromName)}
	}

	rangeSeconds, warnings, err := resolveRange(t0Origin, opts)
	if err != nil {
		return nil, err
	}

	res, err := raptor.Run(ctx, store, raptor.Options{
		FromStopIDs:        fromIDs,
		DepartureTimeRange: rangeSeconds,
		Keep:               raptor.KeepShortest,
		MaxRounds:          opts.MaxRounds,
	})
	if err != nil {
		if !raptor.IsNoData(err) {
			return nil, err
		}
		warnings = append(warnings, err.Error())
	}

	best := make(map[string]Row)
	for _, r := range res.Rows {
		name := idx.stopName[r.ToStopID]
		if name == "" {
			name = r.ToStopID
		}
		v := res.Value(r)
		cur, ok := best[name]
		if !ok || v < cur.Value {
			best[name] = Row{StopName: name, Value: v, Transfers: r.Transfers}
		}
	}

	rows := make([]Row, 0, len(best))
	for _, r := range best {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StopName < rows[j].StopName })

	return &Result{rows: rows, Warnings: warnings}, nil
}

// QueryAll runs a RAPTOR search in KeepAll mode and returns every
// Pareto-improving (platform, round) row, annotated with the station name,
// without collapsing platforms of the same name together: unlike Query,
// a name may legitimately appear more than once, once per platform.
func QueryAll(ctx context.Context, store *raptor.Store, idx *NameIndex, fromName string, opts Options) (*Result, error) {
	fromIDs, err := idx.StopIDs(fromName)
	if err != nil {
		return nil, err
	}

	t0Origin, ok := raptor.EarliestDeparture(store, fromIDs)
	if !ok {
		return &Result{}, &raptor.Error{Kind: raptor.NoData, Msg: fmt.Sprintf("no departures from %q in the timetable", fromName)}
	}

	rangeSeconds, warnings, err := resolveRange(t0Origin, opts)
	if err != nil {
		return nil, err
	}

	res, err := raptor.Run(ctx, store, raptor.Options{
		FromStopIDs:        fromIDs,
		DepartureTimeRange: rangeSeconds,
		Keep:               raptor.KeepAll,
		MaxRounds:          opts.MaxRounds,
	})
	if err != nil {
		if !raptor.IsNoData(err) {
			return nil, err
		}
		warnings = append(warnings, err.Error())
	}

	rows := make([]Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		name := idx.stopName[r.ToStopID]
		if name == "" {
			name = r.ToStopID
		}
		rows = append(rows, Row{StopName: name, Value: res.Value(r), Transfers: r.Transfers})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StopName != rows[j].StopName {
			return rows[i].StopName < rows[j].StopName
		}
		return rows[i].Value < rows[j].Value
	})

	return &Result{rows: rows, Warnings: warnings}, nil
}

func invalidArgument(format string, args ...any) error {
	return &raptor.Error{Kind: raptor.InvalidArgument, Msg: fmt.Sprintf(format, args...)}
}
