package raptor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// history is the Pareto-improving sequence of labels recorded for one stop
// across rounds: each entry strictly improves on the arrival of the entry
// before it. keep="all" returns this sequence; keep="earliest"/"shortest"
// return only its last entry.
type history []Label

// Run executes a bounded round-based earliest-arrival search over store,
// seeding labels from opts.FromStopIDs at t0 (the earliest outgoing
// departure among them, per spec.md §4.2's Seeding rule) and returns a
// Result shaped by opts.Keep.
//
// Each round first scans every route-pattern touching a stop marked by the
// previous round (in parallel, one goroutine per pattern, each writing its
// own patch), then relaxes footpaths from stops the route scan improved in
// this round. Stops improved by either phase are marked for the next round,
// so a stop reached on foot can board a trip. Both phases only overwrite a label when the
// new arrival is strictly better, which is what makes a same-round tie
// between a route-scan arrival and a footpath arrival resolve in the
// route-scan's favor: the route scan runs first and footpath relaxation
// then finds nothing left to improve.
func Run(ctx context.Context, store *Store, opts Options) (*Result, error) {
	if len(opts.FromStopIDs) == 0 {
		return nil, invalidArgument("no origin stops given")
	}
	if opts.DepartureTimeRange <= 0 {
		return nil, invalidArgument("departure_time_range must be positive, got %d", opts.DepartureTimeRange)
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	var unknown []string
	for _, id := range opts.FromStopIDs {
		if !store.HasStop(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return emptyResult(0, opts), noData("unknown origin stop(s): %v", unknown)
	}

	t0, ok := EarliestDeparture(store, opts.FromStopIDs)
	if !ok {
		return emptyResult(0, opts), noData("no departures from origin stop(s) in the timetable")
	}

	best := make(map[string]*Label, len(opts.FromStopIDs))
	hist := make(map[string]*history)
	record := func(stopID string, lbl Label) {
		best[stopID] = &lbl
		h := hist[stopID]
		if h == nil {
			h = &history{}
			hist[stopID] = h
		}
		*h = append(*h, lbl)
	}

	for _, id := range opts.FromStopIDs {
		record(id, Label{Arrival: t0, Round: 0, Boardings: 0, reached: true})
	}

	marked := make(map[string]bool, len(opts.FromStopIDs))
	for id := range best {
		marked[id] = true
	}
	walked := make(map[string]bool)
	recordWalk := func(stopID string, lbl Label) {
		record(stopID, lbl)
		walked[stopID] = true
	}
	relaxFootpaths(store, best, marked, 0, recordWalk)
	for id := range walked {
		marked[id] = true
	}

	for round := 1; round <= maxRounds && len(marked) > 0; round++ {
		improved, err := routeScanRound(ctx, store, marked, best, round, record)
		if err != nil {
			return nil, err
		}
		walked = make(map[string]bool)
		relaxFootpaths(store, best, improved, round, recordWalk)
		for id := range walked {
			improved[id] = true
		}
		marked = improved
	}

	return shape(store, hist, t0, opts), nil
}

// EarliestDeparture returns the minimum outgoing departure among
// fromStopIDs' patterns, the t0 a Run seeds from per spec.md §4.2's Seeding
// rule. It reports false if none of fromStopIDs has any outgoing departure
// in store.
func EarliestDeparture(store *Store, fromStopIDs []string) (int, bool) {
	t0 := 0
	found := false
	for _, stopID := range fromStopIDs {
		for _, idx := range store.byPattern[stopID] {
			p := store.patterns[idx]
			pos := p.positionOf(stopID)
			if pos < 0 {
				continue
			}
			for _, trip := range p.Trips {
				d := trip.StopTimes[pos].Departure
				if !found || d < t0 {
					t0, found = d, true
				}
			}
		}
	}
	return t0, found
}

// routeScanRound scans every route-pattern touching a marked stop,
// boarding the earliest trip departing no earlier than that stop's
// current best arrival, and records a new label for every stop it
// strictly improves. Patterns are scanned concurrently, each into its own
// patch rather than a contended shared map. Two patterns can share a stop,
// so the sequential merge after the scan records a candidate only when it
// is strictly earlier than the stop's current best.
func routeScanRound(ctx context.Context, store *Store, marked map[string]bool, best map[string]*Label, round int, record func(string, Label)) (map[string]bool, error) {
	patternIdx := make(map[int]bool)
	for stopID := range marked {
		for _, idx := range store.byPattern[stopID] {
			patternIdx[idx] = true
		}
	}

	patches := make([]map[string]Label, 0, len(patternIdx))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for idx := range patternIdx {
		p := store.patterns[idx]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			patch := scanPattern(p, marked, best, round)
			if len(patch) == 0 {
				return nil
			}
			mu.Lock()
			patches = append(patches, patch)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, internalError("route scan failed: %v", err)
	}

	improved := make(map[string]bool)
	for _, patch := range patches {
		for stopID, candidate := range patch {
			current, ok := best[stopID]
			if ok && current.reached && current.Arrival <= candidate.Arrival {
				continue
			}
			record(stopID, candidate)
			improved[stopID] = true
		}
	}
	return improved, nil
}

// scanPattern finds the single best boarding point among p's marked stops
// (the one giving the earliest boardable trip) and walks forward from
// there, emitting a candidate label for every later stop on that trip.
// Boarding earlier on a pattern can only dominate boarding later on the
// same trip, so one boarding per pattern per round suffices.
func scanPattern(p *Pattern, marked map[string]bool, best map[string]*Label, round int) map[string]Label {
	var boardTrip *Trip
	boardPos := -1
	var boardFrom *Label

	for _, stopID := range p.StopIDs {
		if !marked[stopID] {
			continue
		}
		lbl, ok := best[stopID]
		if !ok || !lbl.reached {
			continue
		}
		trip, pos := p.earliestTrip(stopID, lbl.Arrival)
		if trip == nil {
			continue
		}
		if boardTrip == nil || trip.StopTimes[pos].Departure < boardTrip.StopTimes[boardPos].Departure {
			boardTrip, boardPos, boardFrom = trip, pos, lbl
		}
	}
	if boardTrip == nil {
		return nil
	}

	patch := make(map[string]Label, len(boardTrip.StopTimes)-boardPos-1)
	for i := boardPos + 1; i < len(boardTrip.StopTimes); i++ {
		st := boardTrip.StopTimes[i]
		patch[st.StopID] = Label{
			Arrival:   st.Arrival,
			Round:     round,
			Boardings: boardFrom.Boardings + 1,
			reached:   true,
		}
	}
	return patch
}

// relaxFootpaths applies one hop of transfer relaxation from every stop in
// source, recording a new label wherever the walk strictly improves on the
// current best. Only stops improved this round are sources: a stop whose
// best arrival didn't change already had its footpaths relaxed when it was
// first reached.
func relaxFootpaths(store *Store, best map[string]*Label, source map[string]bool, round int, record func(string, Label)) {
	for stopID := range source {
		fromLabel, ok := best[stopID]
		if !ok || !fromLabel.reached {
			continue
		}
		for _, tr := range store.TransfersFrom(stopID) {
			candidateArrival := fromLabel.Arrival + tr.MinTransferTime
			current, ok := best[tr.ToStopID]
			if ok && current.reached && current.Arrival <= candidateArrival {
				continue
			}
			record(tr.ToStopID, Label{
				Arrival:   candidateArrival,
				Round:     round,
				Boardings: fromLabel.Boardings,
				reached:   true,
			})
		}
	}
}

func emptyResult(t0 int, opts Options) *Result {
	return &Result{
		T0:        t0,
		Keep:      opts.Keep,
		Rows:      nil,
		Reachable: map[string]bool{},
	}
}
