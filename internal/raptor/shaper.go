package raptor

import "sort"

// shape projects the per-stop improvement histories collected during Run
// into the Rows a caller asked for via opts.Keep. Origins are included like
// any other reached stop: keep="all" emits their round-0, zero-boarding
// self-row (travel_time zero, transfers zero) the same as it does for any
// other stop's first entry.
func shape(store *Store, hist map[string]*history, t0 int, opts Options) *Result {
	reachable := make(map[string]bool, len(hist))
	var rows []Row

	for stopID, h := range hist {
		reachable[stopID] = true
		if h == nil || len(*h) == 0 {
			continue
		}
		entries := *h

		switch opts.Keep {
		case KeepAll:
			for _, e := range entries {
				rows = append(rows, Row{
					ToStopID:  stopID,
					Round:     e.Round,
					Arrival:   e.Arrival,
					Transfers: e.transfers(),
				})
			}
		default: // KeepEarliest, KeepShortest
			best := entries[len(entries)-1]
			rows = append(rows, Row{
				ToStopID:  stopID,
				Round:     best.Round,
				Arrival:   best.Arrival,
				Transfers: best.transfers(),
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ToStopID != rows[j].ToStopID {
			return rows[i].ToStopID < rows[j].ToStopID
		}
		return rows[i].Round < rows[j].Round
	})

	return &Result{
		T0:        t0,
		Keep:      opts.Keep,
		Rows:      rows,
		Reachable: reachable,
	}
}

// TravelTime returns the elapsed time since t0 represented by an absolute
// Arrival, the conversion KeepShortest applies to every row and the
// name-based wrapper applies when aggregating by stop name.
func TravelTime(t0, arrival int) int {
	return arrival - t0
}
