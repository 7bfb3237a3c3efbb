package raptor

import "sort"

// RawStopTime is a single GTFS stop_times.txt row before service-date
// filtering: it always carries its owning trip and service IDs so Filter
// can discard whole trips whose service isn't active on the requested
// date.
type RawStopTime struct {
	TripID       string
	ServiceID    string
	StopID       string
	StopSequence int
	Arrival      int
	Departure    int
}

// FilterInput is everything Prepare needs to build a Store scoped to one
// service date.
type FilterInput struct {
	Stops         []Stop
	StopTimes     []RawStopTime
	Transfers     []Transfer
	ActiveService map[string]bool // service_id -> running on the requested date
}

// Window is a half-open departure-time interval, [Start, End), seconds
// since midnight of the service date.
type Window struct {
	Start int
	End   int
}

// MaxServiceDaySeconds bounds a Window wide enough to admit any departure
// on a service date, including trips that run past midnight into the
// following day's first few hours. The ambient feed loader prepares its
// once-per-service-date Store with this window, deferring the caller's
// actual departure-time scoping to FilterWindow at query time.
const MaxServiceDaySeconds = 172800

// FilteredTimetable bundles the Store Prepare/FilterWindow built together
// with the side-tables (Transfers, Stops) it was built from, so a caller
// doesn't have to separately track which raw input produced which Store.
type FilteredTimetable struct {
	Store     *Store
	Transfers []Transfer
	Stops     []Stop
}

// Prepare filters raw stop_times down to the trips whose service is active
// per ActiveService and whose departure falls inside window, groups them
// into Trips ordered by stop_sequence, and builds a Store. A trip is kept
// if any one of its stop_times departs inside window: the filter operates
// at trip granularity, not row granularity, since truncating individual
// rows out of a trip would break the contiguous stop sequence that
// Pattern.earliestTrip and positionOf assume.
//
// Prepare fails with InvalidArgument if ActiveService selects no service at
// all, if window is empty or inverted (End <= Start), or if no trip has any
// departure inside window once active-service filtering is applied.
func Prepare(in FilterInput, window Window) (*FilteredTimetable, error) {
	if len(in.ActiveService) == 0 {
		return nil, invalidArgument("no active service: resolve a calendar date before preparing a timetable")
	}
	anyActive := false
	for _, active := range in.ActiveService {
		if active {
			anyActive = true
			break
		}
	}
	if !anyActive {
		return nil, invalidArgument("no service is active on the requested date")
	}
	if window.End <= window.Start {
		return nil, invalidArgument("window end (%d) must be after window start (%d)", window.End, window.Start)
	}

	byTrip := make(map[string][]RawStopTime)
	for _, st := range in.StopTimes {
		if !in.ActiveService[st.ServiceID] {
			continue
		}
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	trips := make([]*Trip, 0, len(byTrip))
	for tripID, rows := range byTrip {
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].StopSequence < rows[j].StopSequence
		})

		inWindow := false
		for _, r := range rows {
			if r.Departure >= window.Start && r.Departure < window.End {
				inWindow = true
				break
			}
		}
		if !inWindow {
			continue
		}

		stopTimes := make([]StopTime, len(rows))
		for i, r := range rows {
			stopTimes[i] = StopTime{
				StopID:       r.StopID,
				StopSequence: r.StopSequence,
				Arrival:      r.Arrival,
				Departure:    r.Departure,
			}
		}
		trips = append(trips, &Trip{
			TripID:    tripID,
			ServiceID: rows[0].ServiceID,
			StopTimes: stopTimes,
		})
	}

	if len(trips) == 0 {
		return nil, invalidArgument("no departures in the requested window [%d, %d)", window.Start, window.End)
	}

	return &FilteredTimetable{
		Store:     NewStore(in.Stops, trips, in.Transfers),
		Transfers: in.Transfers,
		Stops:     in.Stops,
	}, nil
}

// FilterWindow re-scopes an already-built Store to a narrower departure
// window, the same trip-level inclusion rule Prepare applies. It is used to
// narrow a long-lived, once-per-service-date Store down to one request's
// departure window without needing the raw FilterInput that originally
// built it.
func FilterWindow(store *Store, window Window) (*FilteredTimetable, error) {
	if window.End <= window.Start {
		return nil, invalidArgument("window end (%d) must be after window start (%d)", window.End, window.Start)
	}

	trips := make([]*Trip, 0, len(store.Trips()))
	for _, trip := range store.Trips() {
		inWindow := false
		for _, st := range trip.StopTimes {
			if st.Departure >= window.Start && st.Departure < window.End {
				inWindow = true
				break
			}
		}
		if inWindow {
			trips = append(trips, trip)
		}
	}

	if len(trips) == 0 {
		return nil, invalidArgument("no departures in the requested window [%d, %d)", window.Start, window.End)
	}

	stops := store.Stops()
	transfers := store.Transfers()
	return &FilteredTimetable{
		Store:     NewStore(stops, trips, transfers),
		Transfers: transfers,
		Stops:     stops,
	}, nil
}
