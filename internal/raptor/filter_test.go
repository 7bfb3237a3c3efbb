package raptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_FiltersInactiveService(t *testing.T) {
	in := FilterInput{
		Stops: stopList("A", "B"),
		StopTimes: []RawStopTime{
			{TripID: "T1", ServiceID: "weekday", StopID: "A", StopSequence: 1, Arrival: 0, Departure: 0},
			{TripID: "T1", ServiceID: "weekday", StopID: "B", StopSequence: 2, Arrival: 100, Departure: 100},
			{TripID: "T2", ServiceID: "weekend", StopID: "A", StopSequence: 1, Arrival: 10, Departure: 10},
			{TripID: "T2", ServiceID: "weekend", StopID: "B", StopSequence: 2, Arrival: 200, Departure: 200},
		},
		ActiveService: map[string]bool{"weekday": true, "weekend": false},
	}

	ft, err := Prepare(in, Window{Start: 0, End: 3600})
	require.NoError(t, err)
	assert.True(t, ft.Store.HasStop("A"))

	res, err := Run(context.Background(), ft.Store, Options{FromStopIDs: []string{"A"}, DepartureTimeRange: 3600, Keep: KeepEarliest})
	require.NoError(t, err)
	b := rowsByStop(res.Rows)["B"]
	require.NotNil(t, b)
	assert.Equal(t, 100, b.Arrival, "only the weekday trip's stop_times should survive filtering")
}

func TestPrepare_NoActiveServiceFails(t *testing.T) {
	in := FilterInput{
		Stops:         stopList("A"),
		ActiveService: map[string]bool{"weekday": false},
	}
	_, err := Prepare(in, Window{Start: 0, End: 3600})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidArgument, rerr.Kind)
}

func TestPrepare_EmptyActiveServiceMapFails(t *testing.T) {
	_, err := Prepare(FilterInput{Stops: stopList("A")}, Window{Start: 0, End: 3600})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidArgument, rerr.Kind)
}

func TestPrepare_InvertedWindowFails(t *testing.T) {
	in := FilterInput{
		Stops:         stopList("A"),
		ActiveService: map[string]bool{"svc": true},
	}
	_, err := Prepare(in, Window{Start: 3600, End: 3600})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidArgument, rerr.Kind)
}

func TestPrepare_WindowExcludesAllDeparturesFails(t *testing.T) {
	in := FilterInput{
		Stops: stopList("A", "B"),
		StopTimes: []RawStopTime{
			{TripID: "T1", ServiceID: "svc", StopID: "A", StopSequence: 1, Arrival: 5000, Departure: 5000},
			{TripID: "T1", ServiceID: "svc", StopID: "B", StopSequence: 2, Arrival: 5100, Departure: 5100},
		},
		ActiveService: map[string]bool{"svc": true},
	}
	_, err := Prepare(in, Window{Start: 0, End: 60})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidArgument, rerr.Kind)
}

func TestPrepare_KeepsWholeTripWhenAnyRowInWindow(t *testing.T) {
	in := FilterInput{
		Stops: stopList("A", "B"),
		StopTimes: []RawStopTime{
			{TripID: "T1", ServiceID: "svc", StopID: "A", StopSequence: 1, Arrival: 0, Departure: 0},
			{TripID: "T1", ServiceID: "svc", StopID: "B", StopSequence: 2, Arrival: 5000, Departure: 5000},
		},
		ActiveService: map[string]bool{"svc": true},
	}
	ft, err := Prepare(in, Window{Start: 0, End: 10})
	require.NoError(t, err)

	res, err := Run(context.Background(), ft.Store, Options{FromStopIDs: []string{"A"}, DepartureTimeRange: 3600, Keep: KeepEarliest})
	require.NoError(t, err)
	b := rowsByStop(res.Rows)["B"]
	require.NotNil(t, b, "a trip with one row in-window must survive with its full stop sequence intact, not truncated at the window boundary")
	assert.Equal(t, 5000, b.Arrival)
}

func TestPrepare_SortsStopTimesBySequence(t *testing.T) {
	in := FilterInput{
		Stops: stopList("A", "B", "C"),
		StopTimes: []RawStopTime{
			{TripID: "T1", ServiceID: "svc", StopID: "C", StopSequence: 3, Arrival: 200, Departure: 200},
			{TripID: "T1", ServiceID: "svc", StopID: "A", StopSequence: 1, Arrival: 0, Departure: 0},
			{TripID: "T1", ServiceID: "svc", StopID: "B", StopSequence: 2, Arrival: 100, Departure: 100},
		},
		ActiveService: map[string]bool{"svc": true},
	}
	ft, err := Prepare(in, Window{Start: 0, End: 3600})
	require.NoError(t, err)

	res, err := Run(context.Background(), ft.Store, Options{FromStopIDs: []string{"A"}, DepartureTimeRange: 3600, Keep: KeepEarliest})
	require.NoError(t, err)
	c := rowsByStop(res.Rows)["C"]
	require.NotNil(t, c)
	assert.Equal(t, 200, c.Arrival)
}

func TestFilterWindow_NarrowsAnExistingStore(t *testing.T) {
	store := NewStore(
		stopList("A", "B"),
		[]*Trip{
			trip("T1", "svc", st("A", 1, 0, 0), st("B", 2, 100, 100)),
			trip("T2", "svc", st("A", 1, 5000, 5000), st("B", 2, 5100, 5100)),
		},
		nil,
	)

	ft, err := FilterWindow(store, Window{Start: 0, End: 3600})
	require.NoError(t, err)

	res, err := Run(context.Background(), ft.Store, Options{FromStopIDs: []string{"A"}, DepartureTimeRange: 3600, Keep: KeepEarliest})
	require.NoError(t, err)
	b := rowsByStop(res.Rows)["B"]
	require.NotNil(t, b)
	assert.Equal(t, 100, b.Arrival, "the late trip departing at 5000 must be excluded by the narrowed window")
}
