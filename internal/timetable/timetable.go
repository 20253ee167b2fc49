package timetable

import (
	"sort"
	"time"
)

type (
	StopID  string
	RouteID string
	TripID  string
)

type StopTime struct {
	Arrival   time.Time
	Departure time.Time
}

// Trip is one vehicle run over a route. Times is aligned with the route's stops.
type Trip struct {
	ID    TripID
	Times []StopTime
}

// Route is a stop pattern: every trip visits exactly Stops, in order, and trips are
// sorted by departure at every stop index.
type Route struct {
	ID    RouteID
	Line  string // GTFS route_id the pattern was derived from
	Stops []StopID
	Trips []Trip

	stops []int
}

type Footpath struct {
	To       StopID
	Duration time.Duration
}

// RouteStop is a route serving a stop together with the stop's position on it.
type RouteStop struct {
	Route int
	Pos   int
}

type walk struct {
	to  int
	dur time.Duration
}

// Snapshot is an immutable set of schedule indices. It is safe for concurrent
// readers; edits return a new Snapshot.
type Snapshot struct {
	version uint64

	stops     []StopID
	stopIndex map[StopID]int

	routes     []Route
	routeIndex map[RouteID]int

	routesByStop [][]RouteStop
	footpaths    [][]walk
}

func (s *Snapshot) Version() uint64 { return s.version }
func (s *Snapshot) NumStops() int   { return len(s.stops) }
func (s *Snapshot) NumRoutes() int  { return len(s.routes) }

func (s *Snapshot) NumTrips() int {
	n := 0
	for i := range s.routes {
		n += len(s.routes[i].Trips)
	}
	return n
}

func (s *Snapshot) NumFootpaths() int {
	n := 0
	for _, fp := range s.footpaths {
		n += len(fp)
	}
	return n
}

// StopIndex maps a stop to its dense index.
func (s *Snapshot) StopIndex(id StopID) (int, bool) {
	i, ok := s.stopIndex[id]
	return i, ok
}

func (s *Snapshot) StopAt(i int) StopID { return s.stops[i] }

// RouteAt returns the route with dense index r. Callers must not modify it.
func (s *Snapshot) RouteAt(r int) *Route { return &s.routes[r] }

// DenseStops returns the route's stops as dense stop indices.
func (r *Route) DenseStops() []int { return r.stops }

// RoutesAt lists (route, position) pairs for the stop with dense index i.
func (s *Snapshot) RoutesAt(i int) []RouteStop { return s.routesByStop[i] }

// EachFootpath calls fn for every footpath leaving the stop with dense index i.
func (s *Snapshot) EachFootpath(i int, fn func(to int, d time.Duration)) {
	for _, w := range s.footpaths[i] {
		fn(w.to, w.dur)
	}
}

func (s *Snapshot) RoutesByStop(stop StopID) []RouteID {
	i, ok := s.stopIndex[stop]
	if !ok {
		return nil
	}
	out := make([]RouteID, 0, len(s.routesByStop[i]))
	for _, rs := range s.routesByStop[i] {
		out = append(out, s.routes[rs.Route].ID)
	}
	return out
}

func (s *Snapshot) StopsByRoute(route RouteID) []StopID {
	r, ok := s.routeIndex[route]
	if !ok {
		return nil
	}
	return s.routes[r].Stops
}

func (s *Snapshot) TripsByRoute(route RouteID) []Trip {
	r, ok := s.routeIndex[route]
	if !ok {
		return nil
	}
	return s.routes[r].Trips
}

func (s *Snapshot) Footpaths(stop StopID) []Footpath {
	i, ok := s.stopIndex[stop]
	if !ok {
		return nil
	}
	out := make([]Footpath, 0, len(s.footpaths[i]))
	for _, w := range s.footpaths[i] {
		out = append(out, Footpath{To: s.stops[w.to], Duration: w.dur})
	}
	return out
}

func (s *Snapshot) StopIndexInRoute(route RouteID, stop StopID) (int, bool) {
	r, ok := s.routeIndex[route]
	if !ok {
		return 0, false
	}
	i, ok := s.stopIndex[stop]
	if !ok {
		return 0, false
	}
	for _, rs := range s.routesByStop[i] {
		if rs.Route == r {
			return rs.Pos, true
		}
	}
	return 0, false
}

// EarliestTrip returns the index of the first trip of route r that departs from
// position pos at or after t, or -1.
func (r *Route) EarliestTrip(pos int, t time.Time) int {
	n := len(r.Trips)
	i := sort.Search(n, func(j int) bool {
		return !r.Trips[j].Times[pos].Departure.Before(t)
	})
	if i == n {
		return -1
	}
	return i
}
