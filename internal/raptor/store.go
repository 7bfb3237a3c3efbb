package raptor

import (
	"sort"
	"strings"
)

// Store is an immutable, prebuilt timetable: stops, route-patterns (trips
// grouped by identical stop sequence, sorted by first departure), and the
// transfer adjacency between stops. Build it once per filtered timetable
// and reuse it across searches.
type Store struct {
	stops     map[string]Stop
	patterns  []*Pattern
	byPattern map[string][]int // stopID -> indices into patterns that visit it
	transfers map[string][]Transfer
}

// NewStore builds a Store from a flat list of stops, trips, and transfers.
// Trips are grouped into patterns by their ordered stop-ID sequence and
// each pattern's trips are sorted by their first stop's Departure, which is
// what lets Pattern.earliestTrip binary search instead of scan.
func NewStore(stops []Stop, trips []*Trip, transfers []Transfer) *Store {
	s := &Store{
		stops:     make(map[string]Stop, len(stops)),
		byPattern: make(map[string][]int),
		transfers: make(map[string][]Transfer),
	}
	for _, st := range stops {
		s.stops[st.ID] = st
	}

	patternIndex := make(map[string]int)
	for _, trip := range trips {
		key := patternKey(trip)
		idx, ok := patternIndex[key]
		if !ok {
			ids := make([]string, len(trip.StopTimes))
			for i, stopTime := range trip.StopTimes {
				ids[i] = stopTime.StopID
			}
			idx = len(s.patterns)
			patternIndex[key] = idx
			s.patterns = append(s.patterns, &Pattern{StopIDs: ids})
		}
		s.patterns[idx].Trips = append(s.patterns[idx].Trips, trip)
	}
	for idx, p := range s.patterns {
		sort.Slice(p.Trips, func(i, j int) bool {
			return p.Trips[i].StopTimes[0].Departure < p.Trips[j].StopTimes[0].Departure
		})
		for _, stopID := range p.StopIDs {
			s.byPattern[stopID] = append(s.byPattern[stopID], idx)
		}
	}
	for stopID := range s.byPattern {
		s.byPattern[stopID] = dedupeInts(s.byPattern[stopID])
	}

	for _, t := range transfers {
		s.transfers[t.FromStopID] = append(s.transfers[t.FromStopID], t)
	}

	return s
}

func patternKey(t *Trip) string {
	ids := make([]string, len(t.StopTimes))
	for i, st := range t.StopTimes {
		ids[i] = st.StopID
	}
	return strings.Join(ids, ">")
}

func dedupeInts(xs []int) []int {
	sort.Ints(xs)
	out := xs[:0]
	var last int
	for i, x := range xs {
		if i == 0 || x != last {
			out = append(out, x)
		}
		last = x
	}
	return out
}

// HasStop reports whether stopID exists in the store.
func (s *Store) HasStop(stopID string) bool {
	_, ok := s.stops[stopID]
	return ok
}

// Stop returns the stop with the given ID and whether it was found.
func (s *Store) Stop(stopID string) (Stop, bool) {
	st, ok := s.stops[stopID]
	return st, ok
}

// TransfersFrom returns the outgoing footpaths from stopID.
func (s *Store) TransfersFrom(stopID string) []Transfer {
	return s.transfers[stopID]
}

// Trips returns every trip held by the store, across all patterns. Used by
// FilterWindow to re-derive a narrower Store without access to the raw
// FilterInput that originally built this one.
func (s *Store) Trips() []*Trip {
	var out []*Trip
	for _, p := range s.patterns {
		out = append(out, p.Trips...)
	}
	return out
}

// Stops returns every stop held by the store.
func (s *Store) Stops() []Stop {
	out := make([]Stop, 0, len(s.stops))
	for _, st := range s.stops {
		out = append(out, st)
	}
	return out
}

// Transfers returns every transfer held by the store.
func (s *Store) Transfers() []Transfer {
	var out []Transfer
	for _, ts := range s.transfers {
		out = append(out, ts...)
	}
	return out
}

// positionOf returns the index of stopID within p's StopIDs, or -1 if p
// does not visit it.
func (p *Pattern) positionOf(stopID string) int {
	for i, id := range p.StopIDs {
		if id == stopID {
			return i
		}
	}
	return -1
}

// earliestTrip returns the earliest trip on pattern p that can be boarded
// at stopID no earlier than notBefore, using a binary search over trips
// sorted by their first stop's departure. Because every stop_time on a
// trip is non-decreasing, a trip boardable at the pattern's first stop at
// time d has departure >= d at every later stop too, so ordering by the
// first stop's departure is sufficient to binary search boarding at any
// stop on the pattern.
func (p *Pattern) earliestTrip(stopID string, notBefore int) (*Trip, int) {
	pos := p.positionOf(stopID)
	if pos < 0 {
		return nil, -1
	}
	i := sort.Search(len(p.Trips), func(i int) bool {
		return p.Trips[i].StopTimes[pos].Departure >= notBefore
	})
	if i == len(p.Trips) {
		return nil, -1
	}
	return p.Trips[i], pos
}
