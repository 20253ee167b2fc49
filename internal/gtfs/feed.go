package gtfs

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"transit-planner/internal/footpath"
	"transit-planner/internal/timetable"
)

var ErrNoActiveTrips = errors.New("no trips run on the service day")

// Feed is the set of GTFS rows a timetable is assembled from. A feed without
// services is taken as already restricted to one service day.
type Feed struct {
	Stops     []Stop
	Trips     []Trip
	StopTimes []StopTime
	Transfers []Transfer
	Services  []Service
}

// Summary counts what Feed.Builder took from the feed.
type Summary struct {
	Trips     int
	Skipped   int // active trips rejected by the builder
	Footpaths int
}

// ServiceDay returns the reference time GTFS stop times are offset from:
// noon minus twelve hours, which is midnight except on DST change days.
func ServiceDay(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 12, 0, 0, 0, loc).Add(-12 * time.Hour)
}

// serviceDate is the calendar date of day in loc, at midnight UTC.
func serviceDate(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *Feed) activeServices(day time.Time) map[string]bool {
	if len(f.Services) == 0 {
		return nil
	}
	active := make(map[string]bool, len(f.Services))
	for _, s := range f.Services {
		if s.ActiveOn(day) {
			active[s.ServiceID] = true
		}
	}
	return active
}

// Builder loads the trips running on day into a timetable builder. Trips the
// builder rejects (misaligned or running backwards) are skipped and counted.
func (f *Feed) Builder(day time.Time, loc *time.Location) (*timetable.Builder, Summary, error) {
	var sum Summary
	date := serviceDate(day, loc)
	base := ServiceDay(day, loc)
	active := f.activeServices(date)

	b := timetable.NewBuilder()
	for _, s := range f.Stops {
		b.AddStop(timetable.StopID(s.StopID))
	}

	byTrip := make(map[string][]StopTime)
	for _, st := range f.StopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	for _, t := range f.Trips {
		if active != nil && !active[t.ServiceID] {
			continue
		}
		sts := byTrip[t.TripID]
		if len(sts) < 2 {
			continue
		}
		sort.Slice(sts, func(i, j int) bool { return sts[i].StopSequence < sts[j].StopSequence })

		stops := make([]timetable.StopID, len(sts))
		times := make([]timetable.StopTime, len(sts))
		for i, st := range sts {
			stops[i] = timetable.StopID(st.StopID)
			times[i] = timetable.StopTime{
				Arrival:   base.Add(time.Duration(st.ArrivalSec) * time.Second),
				Departure: base.Add(time.Duration(st.DepartureSec) * time.Second),
			}
		}
		if err := b.AddTrip(t.RouteID, timetable.TripID(t.TripID), stops, times); err != nil {
			sum.Skipped++
			continue
		}
		sum.Trips++
	}
	if sum.Trips == 0 {
		return nil, sum, fmt.Errorf("%s: %w", date.Format("2006-01-02"), ErrNoActiveTrips)
	}

	for _, tr := range f.Transfers {
		if tr.FromStopID == tr.ToStopID || tr.MinTransferSec <= 0 {
			continue
		}
		d := time.Duration(tr.MinTransferSec) * time.Second
		if err := b.AddFootpath(timetable.StopID(tr.FromStopID), timetable.StopID(tr.ToStopID), d); err != nil {
			return nil, sum, err
		}
		sum.Footpaths++
	}
	return b, sum, nil
}

// Points returns the stops with their coordinates for snapping onto a street
// network.
func (f *Feed) Points() []footpath.StopPoint {
	out := make([]footpath.StopPoint, 0, len(f.Stops))
	for _, s := range f.Stops {
		out = append(out, footpath.StopPoint{Stop: timetable.StopID(s.StopID), Lat: s.Lat, Lon: s.Lon})
	}
	return out
}
