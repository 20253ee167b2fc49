package timetable

import "time"

// WithoutTrips returns a copy of s without the trips for which drop reports true,
// and the number of trips removed. s itself is left untouched, so queries that
// still hold it keep a consistent view.
func (s *Snapshot) WithoutTrips(drop func(r *Route, t *Trip) bool) (*Snapshot, int) {
	next := *s
	next.version = s.version + 1
	next.routes = make([]Route, len(s.routes))
	removed := 0
	for r := range s.routes {
		route := s.routes[r]
		var kept []Trip
		for i := range route.Trips {
			if drop(&s.routes[r], &route.Trips[i]) {
				if kept == nil {
					kept = append(make([]Trip, 0, len(route.Trips)), route.Trips[:i]...)
				}
				removed++
				continue
			}
			if kept != nil {
				kept = append(kept, route.Trips[i])
			}
		}
		if kept != nil {
			route.Trips = kept
		}
		next.routes[r] = route
	}
	return &next, removed
}

// CancelTrips removes the given trips.
func (s *Snapshot) CancelTrips(ids ...TripID) (*Snapshot, int) {
	set := make(map[TripID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.WithoutTrips(func(_ *Route, t *Trip) bool {
		_, ok := set[t.ID]
		return ok
	})
}

// CancelWindow removes every trip of the GTFS line that has a stop time within
// [from, to].
func (s *Snapshot) CancelWindow(line string, from, to time.Time) (*Snapshot, int) {
	return s.WithoutTrips(func(r *Route, t *Trip) bool {
		if r.Line != line {
			return false
		}
		for _, st := range t.Times {
			if !st.Arrival.Before(from) && !st.Arrival.After(to) {
				return true
			}
			if !st.Departure.Before(from) && !st.Departure.After(to) {
				return true
			}
		}
		return false
	})
}

// WithVersion returns a copy of s carrying version v. The copy shares its
// routes with s.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	next := *s
	next.version = v
	return &next
}
