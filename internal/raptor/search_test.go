package raptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trip(id, service string, stops ...StopTime) *Trip {
	return &Trip{TripID: id, ServiceID: service, StopTimes: stops}
}

func st(stopID string, seq, arr, dep int) StopTime {
	return StopTime{StopID: stopID, StopSequence: seq, Arrival: arr, Departure: dep}
}

func stopList(ids ...string) []Stop {
	out := make([]Stop, len(ids))
	for i, id := range ids {
		out[i] = Stop{ID: id, Name: id}
	}
	return out
}

// TestRun_MultiPatternReboardAndFootpath traces a small network by hand:
//
//	T1: A --300--> B --300--> C     (boards at A, dep 0)
//	T2: A --80---> D                (second pattern from the same origin)
//	T3: C --(dep>=600)--> E, dep 650, arr 1000   (reboard after a transfer)
//	transfer C->F, 10s
//
// Round 1 boards T1 (A->B@300->C@600) and T2 (A->D@80), marking {B,C,D}.
// Footpath relaxation from C reaches F at 610 via a walk, 0 transfers.
// Round 2 reboards T3 at C (dep 650 >= 600), reaching E at 1000 with 1
// transfer.
func TestRun_MultiPatternReboardAndFootpath(t *testing.T) {
	store := NewStore(
		stopList("A", "B", "C", "D", "E", "F"),
		[]*Trip{
			trip("T1", "svc", st("A", 1, 0, 0), st("B", 2, 300, 300), st("C", 3, 600, 600)),
			trip("T2", "svc", st("A", 1, 0, 0), st("D", 2, 80, 80)),
			trip("T3", "svc", st("C", 1, 650, 650), st("E", 2, 1000, 1000)),
		},
		[]Transfer{{FromStopID: "C", ToStopID: "F", MinTransferTime: 10}},
	)

	res, err := Run(context.Background(), store, Options{
		FromStopIDs:        []string{"A"},
		DepartureTimeRange: 3600,
		Keep:               KeepEarliest,
	})
	require.NoError(t, err)

	byStop := rowsByStop(res.Rows)
	assert.Equal(t, 300, byStop["B"].Arrival)
	assert.Equal(t, 0, byStop["B"].Transfers)
	assert.Equal(t, 600, byStop["C"].Arrival)
	assert.Equal(t, 0, byStop["C"].Transfers)
	assert.Equal(t, 80, byStop["D"].Arrival)
	assert.Equal(t, 0, byStop["D"].Transfers)
	assert.Equal(t, 610, byStop["F"].Arrival)
	assert.Equal(t, 0, byStop["F"].Transfers, "a footpath hop must not itself count as a transfer")
	assert.Equal(t, 1000, byStop["E"].Arrival)
	assert.Equal(t, 1, byStop["E"].Transfers, "reboarding a second trip must increment the transfer count")
}

// TestRun_ShortestEqualsEarliestMinusT0 checks the documented identity
// between the two single-row projections.
func TestRun_ShortestEqualsEarliestMinusT0(t *testing.T) {
	store := NewStore(
		stopList("A", "B"),
		[]*Trip{trip("T1", "svc", st("A", 1, 100, 100), st("B", 2, 400, 400))},
		nil,
	)

	earliest, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"A"}, DepartureTimeRange: 60, Keep: KeepEarliest,
	})
	require.NoError(t, err)
	shortest, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"A"}, DepartureTimeRange: 60, Keep: KeepShortest,
	})
	require.NoError(t, err)

	eB := rowsByStop(earliest.Rows)["B"]
	sB := rowsByStop(shortest.Rows)["B"]
	assert.Equal(t, earliest.Value(*eB)-100, shortest.Value(*sB))
	assert.Equal(t, 300, shortest.Value(*sB))
}

// TestRun_KeepAll_ParetoRows constructs a stop reached twice across rounds
// at strictly improving arrivals, and checks both survive while a stop
// reached only once yields a single row.
//
//	T1: A --500--> Q                (1 boarding, arrives 500)
//	T2: A --100--> M                (1 boarding, arrives 100)
//	T3: M --(dep 150)--> Q arr 300  (2 boardings, arrives 300)
//
// Q's round-1 candidate (500, 0 transfers) is recorded first; round 2's
// candidate via M (300, 1 transfer) strictly improves it, so both survive
// as a 2-entry history.
func TestRun_KeepAll_ParetoRows(t *testing.T) {
	store := NewStore(
		stopList("A", "M", "Q"),
		[]*Trip{
			trip("T1", "svc", st("A", 1, 0, 0), st("Q", 2, 500, 500)),
			trip("T2", "svc", st("A", 1, 0, 0), st("M", 2, 100, 100)),
			trip("T3", "svc", st("M", 1, 150, 150), st("Q", 2, 300, 300)),
		},
		nil,
	)

	res, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"A"}, DepartureTimeRange: 3600, Keep: KeepAll,
	})
	require.NoError(t, err)

	var qRows []Row
	for _, r := range res.Rows {
		if r.ToStopID == "Q" {
			qRows = append(qRows, r)
		}
	}
	require.Len(t, qRows, 2, "Q must keep both the 1-boarding and 2-boarding Pareto-improving arrivals")
	assert.Equal(t, 500, qRows[0].Arrival)
	assert.Equal(t, 0, qRows[0].Transfers)
	assert.Equal(t, 300, qRows[1].Arrival)
	assert.Equal(t, 1, qRows[1].Transfers)

	var mRows []Row
	for _, r := range res.Rows {
		if r.ToStopID == "M" {
			mRows = append(mRows, r)
		}
	}
	require.Len(t, mRows, 1, "M is only ever reached once, so it must not be duplicated across rounds")
}

// TestRun_TieBreak_PrefersEarlierRouteScanWitness builds a case where a
// footpath arriving in a later round computes the exact same arrival time
// at a stop that an earlier round's route scan already claimed, via a path
// with a different transfer count. The earlier, route-scan-derived witness
// must win: strict "<" comparisons mean an equal-value candidate never
// displaces an established label.
//
//	T_OP: O --100--> P                      (round 1, 1 boarding)
//	T_OR: O --80---> R                      (round 1, 1 boarding)
//	T_PQ: P --(dep>=100)--> Q arr 500       (round 2, 2 boardings, transfers=1)
//	T_RY: R --(dep>=80)---> Y arr 300       (round 2, 2 boardings)
//	T_YX: Y --(dep>=300)--> X arr 490       (round 3, 3 boardings)
//	transfer X->Q, 10s                      (round 3 footpath candidate: 500)
func TestRun_TieBreak_PrefersEarlierRouteScanWitness(t *testing.T) {
	store := NewStore(
		stopList("O", "P", "R", "Q", "Y", "X"),
		[]*Trip{
			trip("T_OP", "svc", st("O", 1, 0, 0), st("P", 2, 100, 100)),
			trip("T_OR", "svc", st("O", 1, 0, 0), st("R", 2, 80, 80)),
			trip("T_PQ", "svc", st("P", 1, 100, 100), st("Q", 2, 500, 500)),
			trip("T_RY", "svc", st("R", 1, 80, 80), st("Y", 2, 300, 300)),
			trip("T_YX", "svc", st("Y", 1, 300, 300), st("X", 2, 490, 490)),
		},
		[]Transfer{{FromStopID: "X", ToStopID: "Q", MinTransferTime: 10}},
	)

	res, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"O"}, DepartureTimeRange: 3600, Keep: KeepEarliest,
	})
	require.NoError(t, err)

	q := rowsByStop(res.Rows)["Q"]
	require.NotNil(t, q)
	assert.Equal(t, 500, q.Arrival)
	assert.Equal(t, 1, q.Transfers, "Q must keep the round-2 route-scan witness (1 transfer), not the round-3 footpath witness via X (which would read 2)")
}

func TestRun_UnknownOrigin_IsNoData(t *testing.T) {
	store := NewStore(stopList("A"), nil, nil)
	res, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"nope"}, DepartureTimeRange: 60, Keep: KeepEarliest,
	})
	require.Error(t, err)
	assert.True(t, IsNoData(err))
	assert.NotNil(t, res)
	assert.Empty(t, res.Rows)
}

// TestRun_NoOutgoingDepartures_IsNoData covers an origin that exists in the
// store's stop list but is visited by no trip, so it has no outgoing pattern
// of its own: EarliestDeparture must find nothing to seed from.
func TestRun_NoOutgoingDepartures_IsNoData(t *testing.T) {
	store := NewStore(
		stopList("A", "B"),
		[]*Trip{trip("T1", "svc", st("X", 1, 5000, 5000), st("B", 2, 5100, 5100))},
		nil,
	)
	res, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"A"}, DepartureTimeRange: 60, Keep: KeepEarliest,
	})
	require.Error(t, err)
	assert.True(t, IsNoData(err))
	assert.Empty(t, res.Rows)
}

func TestRun_NonPositiveDepartureRange_IsInvalidArgument(t *testing.T) {
	store := NewStore(stopList("A"), nil, nil)
	_, err := Run(context.Background(), store, Options{
		FromStopIDs: []string{"A"}, DepartureTimeRange: 0, Keep: KeepEarliest,
	})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidArgument, rerr.Kind)
}

func rowsByStop(rows []Row) map[string]*Row {
	out := make(map[string]*Row, len(rows))
	for i := range rows {
		out[rows[i].ToStopID] = &rows[i]
	}
	return out
}
