package gtfsload

import (
	"time"

	"github.com/OneBusAway/go-gtfs"
)

// ActiveServices resolves which of services run on date in loc, applying
// calendar.txt's weekday/date-range rule and then calendar_dates.txt's
// per-date exceptions (1 = added, 2 = removed) on top of it, per GTFS's
// documented precedence: an explicit calendar_dates.txt exception always
// overrides the calendar.txt pattern for that date.
func ActiveServices(services []gtfs.Service, date time.Time, loc *time.Location) map[string]bool {
	if loc == nil {
		loc = time.UTC
	}
	date = date.In(loc)
	weekday := date.Weekday()

	active := make(map[string]bool, len(services))
	for _, svc := range services {
		active[svc.Id] = runsOnWeekday(svc, weekday) && withinRange(svc, date)
	}
	for _, svc := range services {
		for _, exc := range svc.AddedDates {
			if sameDate(exc, date) {
				active[svc.Id] = true
			}
		}
		for _, exc := range svc.RemovedDates {
			if sameDate(exc, date) {
				active[svc.Id] = false
			}
		}
	}
	return active
}

func runsOnWeekday(svc gtfs.Service, weekday time.Weekday) bool {
	switch weekday {
	case time.Monday:
		return svc.Monday
	case time.Tuesday:
		return svc.Tuesday
	case time.Wednesday:
		return svc.Wednesday
	case time.Thursday:
		return svc.Thursday
	case time.Friday:
		return svc.Friday
	case time.Saturday:
		return svc.Saturday
	case time.Sunday:
		return svc.Sunday
	default:
		return false
	}
}

func withinRange(svc gtfs.Service, date time.Time) bool {
	if !svc.StartDate.IsZero() && date.Before(svc.StartDate) {
		return false
	}
	if !svc.EndDate.IsZero() && date.After(svc.EndDate) {
		return false
	}
	return true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
