package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"raptor.onebusaway.org/internal/clock"
	"raptor.onebusaway.org/internal/raptor"
	"raptor.onebusaway.org/internal/traveltimes"
)

// raptorResponse is the JSON body of a successful /api/raptor call.
type raptorResponse struct {
	Keep      string          `json:"keep"`
	Rows      []raptor.Row    `json:"rows"`
	Reachable map[string]bool `json:"reachable"`
	Warnings  []string        `json:"warnings,omitempty"`
}

func (s *Server) handleRaptor(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	q := r.URL.Query()

	stopsParam := q.Get("stops")
	if stopsParam == "" {
		writeError(w, reqID, http.StatusBadRequest, "missing required query parameter: stops")
		return
	}
	fromStopIDs := strings.Split(stopsParam, ",")

	t0, err := parseDeparture(q.Get("date"), q.Get("departure"), s.loc, s.clock)
	if err != nil {
		writeError(w, reqID, http.StatusBadRequest, err.Error())
		return
	}

	window, err := parseWindow(q.Get("window"), s.defaultWindow)
	if err != nil {
		writeError(w, reqID, http.StatusBadRequest, err.Error())
		return
	}

	keep := raptor.KeepEarliest
	if v := q.Get("keep"); v != "" {
		keep, err = raptor.ParseKeepMode(v)
		if err != nil {
			writeError(w, reqID, http.StatusBadRequest, err.Error())
			return
		}
	}

	store, _ := s.snapshot()
	ft, err := raptor.FilterWindow(store, raptor.Window{Start: t0, End: t0 + window})
	if err != nil {
		writeRaptorError(w, reqID, err)
		return
	}
	opts := raptor.Options{
		FromStopIDs:        fromStopIDs,
		DepartureTimeRange: window,
		Keep:               keep,
		MaxRounds:          s.maxRounds,
	}

	searchStart := time.Now()
	res, err := raptor.Run(r.Context(), ft.Store, opts)
	s.recordSearch(keep, time.Since(searchStart), res)
	if err != nil && !raptor.IsNoData(err) {
		writeRaptorError(w, reqID, err)
		return
	}

	resp := raptorResponse{Keep: keep.String(), Rows: res.Rows, Reachable: res.Reachable}
	if err != nil {
		resp.Warnings = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// travelTimesResponse is the JSON body of a successful /api/travel-times call.
type travelTimesResponse struct {
	Origin   string            `json:"origin"`
	Rows     []traveltimes.Row `json:"rows"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (s *Server) handleTravelTimes(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	q := r.URL.Query()

	fromName := q.Get("from")
	if fromName == "" {
		writeError(w, reqID, http.StatusBadRequest, "missing required query parameter: from")
		return
	}

	t0, err := parseDeparture(q.Get("date"), q.Get("departure"), s.loc, s.clock)
	if err != nil {
		writeError(w, reqID, http.StatusBadRequest, err.Error())
		return
	}

	window, err := parseWindow(q.Get("window"), s.defaultWindow)
	if err != nil {
		writeError(w, reqID, http.StatusBadRequest, err.Error())
		return
	}

	keep := raptor.KeepEarliest
	if v := q.Get("keep"); v != "" {
		keep, err = raptor.ParseKeepMode(v)
		if err != nil {
			writeError(w, reqID, http.StatusBadRequest, err.Error())
			return
		}
	}

	maxDeparture, err := traveltimes.ParseMaxDepartureTime(q.Get("max_departure_time"))
	if err != nil {
		writeError(w, reqID, http.StatusBadRequest, err.Error())
		return
	}

	store, idx := s.snapshot()
	ft, err := raptor.FilterWindow(store, raptor.Window{Start: t0, End: t0 + window})
	if err != nil {
		writeRaptorError(w, reqID, err)
		return
	}
	opts := traveltimes.Options{
		DepartureTimeRange: window,
		MaxDepartureTime:   maxDeparture,
		MaxRounds:          s.maxRounds,
	}

	searchStart := time.Now()
	var res *traveltimes.Result
	if keep == raptor.KeepAll {
		res, err = traveltimes.QueryAll(r.Context(), ft.Store, idx, fromName, opts)
	} else {
		res, err = traveltimes.Query(r.Context(), ft.Store, idx, fromName, opts)
	}
	s.recordSearchDuration(keep, time.Since(searchStart))
	if err != nil && !raptor.IsNoData(err) {
		writeRaptorError(w, reqID, err)
		return
	}

	resp := travelTimesResponse{Origin: fromName, Rows: res.Rows(), Warnings: res.Warnings}
	if err != nil {
		resp.Warnings = append(resp.Warnings, err.Error())
	}
	writeJSON(w, http.StatusOK, resp)

	s.publishAsync(fromName, res.Rows())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	store, idx := s.snapshot()
	if store == nil || idx == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": "feed not yet loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseDeparture validates the optional date query parameter (informational
// only: the loaded snapshot already pins one service date; a caller asking
// for a different one needs a fresh Load, not a query flag) and resolves
// departure to an absolute RAPTOR timestamp, seconds since midnight of that
// service date. An omitted date defaults to the server clock's current
// service date; an omitted departure defaults to midnight (0).
func parseDeparture(dateParam, departureParam string, loc *time.Location, c clock.Clock) (int, error) {
	date := dateParam
	if date == "" {
		date = clock.ServiceDate(c, loc)
	}
	if _, err := time.Parse("20060102", date); err != nil {
		return 0, raptorInvalidArgErr("date must be YYYYMMDD, got %q", date)
	}

	if departureParam == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(departureParam)
	if err != nil || seconds < 0 {
		return 0, raptorInvalidArgErr("departure must be a non-negative integer number of seconds, got %q", departureParam)
	}
	return seconds, nil
}

func parseWindow(windowParam string, defaultWindow int) (int, error) {
	if windowParam == "" {
		return defaultWindow, nil
	}
	window, err := strconv.Atoi(windowParam)
	if err != nil || window <= 0 {
		return 0, raptorInvalidArgErr("window must be a positive integer number of seconds, got %q", windowParam)
	}
	return window, nil
}

func raptorInvalidArgErr(format string, args ...any) error {
	return &raptor.Error{Kind: raptor.InvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func (s *Server) recordSearch(keep raptor.KeepMode, d time.Duration, res *raptor.Result) {
	if s.metrics == nil {
		return
	}
	s.metrics.RaptorSearchesTotal.WithLabelValues(keep.String()).Inc()
	s.metrics.RaptorSearchDuration.WithLabelValues(keep.String()).Observe(d.Seconds())
	if res != nil {
		s.metrics.RaptorLabelsComputed.Observe(float64(len(res.Rows)))
	}
}

func (s *Server) recordSearchDuration(keep raptor.KeepMode, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RaptorSearchesTotal.WithLabelValues(keep.String()).Inc()
	s.metrics.RaptorSearchDuration.WithLabelValues(keep.String()).Observe(d.Seconds())
}
