package timetable

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoStops          = errors.New("timetable has no stops")
	ErrMisalignedTrip   = errors.New("trip stops and times differ in length")
	ErrNonMonotonicTrip = errors.New("trip times go backwards")
	ErrNegativeFootpath = errors.New("footpath duration is negative")
)

type pendingTrip struct {
	line  string
	trip  Trip
	stops []StopID
}

// Builder collects stops, trips and footpaths and produces a Snapshot.
// It is not safe for concurrent use.
type Builder struct {
	stops     []StopID
	stopIndex map[StopID]int
	trips     []pendingTrip
	footpaths map[[2]int]time.Duration
}

func NewBuilder() *Builder {
	return &Builder{
		stopIndex: make(map[StopID]int),
		footpaths: make(map[[2]int]time.Duration),
	}
}

func (b *Builder) AddStop(id StopID) int {
	if i, ok := b.stopIndex[id]; ok {
		return i
	}
	b.stops = append(b.stops, id)
	b.stopIndex[id] = len(b.stops) - 1
	return len(b.stops) - 1
}

// AddTrip registers a trip of the given GTFS line. Trips visiting fewer than two
// stops cannot be ridden and are ignored.
func (b *Builder) AddTrip(line string, id TripID, stops []StopID, times []StopTime) error {
	if len(stops) != len(times) {
		return fmt.Errorf("trip %s: %w", id, ErrMisalignedTrip)
	}
	for i := range times {
		if times[i].Departure.Before(times[i].Arrival) {
			return fmt.Errorf("trip %s at stop %d: %w", id, i, ErrNonMonotonicTrip)
		}
		if i > 0 && times[i].Arrival.Before(times[i-1].Departure) {
			return fmt.Errorf("trip %s at stop %d: %w", id, i, ErrNonMonotonicTrip)
		}
	}
	for _, s := range stops {
		b.AddStop(s)
	}
	if len(stops) < 2 {
		return nil
	}
	b.trips = append(b.trips, pendingTrip{
		line:  line,
		trip:  Trip{ID: id, Times: append([]StopTime(nil), times...)},
		stops: append([]StopID(nil), stops...),
	})
	return nil
}

// AddFootpath adds a directed walking edge. Self pairs are dropped and parallel
// edges keep the shortest duration.
func (b *Builder) AddFootpath(from, to StopID, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("footpath %s->%s: %w", from, to, ErrNegativeFootpath)
	}
	if from == to {
		return nil
	}
	key := [2]int{b.AddStop(from), b.AddStop(to)}
	if old, ok := b.footpaths[key]; !ok || d < old {
		b.footpaths[key] = d
	}
	return nil
}

type pattern struct {
	line  string
	key   string
	stops []StopID
	trips []Trip
}

func (b *Builder) Build() (*Snapshot, error) {
	if len(b.stops) == 0 {
		return nil, ErrNoStops
	}

	// Group trips by line and exact stop sequence
	byKey := make(map[string]*pattern)
	for _, pt := range b.trips {
		key := pt.line + "\x00" + joinStops(pt.stops)
		p, ok := byKey[key]
		if !ok {
			p = &pattern{line: pt.line, key: key, stops: pt.stops}
			byKey[key] = p
		}
		p.trips = append(p.trips, pt.trip)
	}
	patterns := make([]*pattern, 0, len(byKey))
	for _, p := range byKey {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].key < patterns[j].key })

	s := &Snapshot{
		version:    1,
		stops:      append([]StopID(nil), b.stops...),
		stopIndex:  make(map[StopID]int, len(b.stops)),
		routeIndex: make(map[RouteID]int),
	}
	for i, id := range s.stops {
		s.stopIndex[id] = i
	}

	perLine := make(map[string]int)
	for _, p := range patterns {
		for _, lane := range splitOvertaking(p.trips) {
			perLine[p.line]++
			s.routes = append(s.routes, Route{Line: p.line, Stops: p.stops, Trips: lane})
		}
	}
	seen := make(map[string]int)
	for r := range s.routes {
		route := &s.routes[r]
		if perLine[route.Line] == 1 {
			route.ID = RouteID(route.Line)
		} else {
			route.ID = RouteID(route.Line + "#" + strconv.Itoa(seen[route.Line]))
			seen[route.Line]++
		}
		s.routeIndex[route.ID] = r
	}
	s.index()

	s.footpaths = make([][]walk, len(s.stops))
	keys := make([][2]int, 0, len(b.footpaths))
	for k := range b.footpaths {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		s.footpaths[k[0]] = append(s.footpaths[k[0]], walk{to: k[1], dur: b.footpaths[k]})
	}
	return s, nil
}

// index rebuilds the dense stop lists of every route and the routes-by-stop table.
func (s *Snapshot) index() {
	s.routesByStop = make([][]RouteStop, len(s.stops))
	for r := range s.routes {
		route := &s.routes[r]
		route.stops = make([]int, len(route.Stops))
		for pos, id := range route.Stops {
			i := s.stopIndex[id]
			route.stops[pos] = i
			s.routesByStop[i] = append(s.routesByStop[i], RouteStop{Route: r, Pos: pos})
		}
	}
}

// splitOvertaking sorts trips by departure and distributes them over as few
// lanes as needed so that, within a lane, no trip overtakes its predecessor.
func splitOvertaking(trips []Trip) [][]Trip {
	sort.SliceStable(trips, func(i, j int) bool {
		a, b := trips[i].Times[0], trips[j].Times[0]
		if !a.Departure.Equal(b.Departure) {
			return a.Departure.Before(b.Departure)
		}
		return trips[i].ID < trips[j].ID
	})
	var lanes [][]Trip
	for _, t := range trips {
		placed := false
		for l := range lanes {
			if !overtakes(lanes[l][len(lanes[l])-1], t) {
				lanes[l] = append(lanes[l], t)
				placed = true
				break
			}
		}
		if !placed {
			lanes = append(lanes, []Trip{t})
		}
	}
	return lanes
}

// overtakes reports whether next is earlier than prev at some stop.
func overtakes(prev, next Trip) bool {
	for i := range prev.Times {
		if next.Times[i].Departure.Before(prev.Times[i].Departure) || next.Times[i].Arrival.Before(prev.Times[i].Arrival) {
			return true
		}
	}
	return false
}

func joinStops(stops []StopID) string {
	var sb strings.Builder
	for i, s := range stops {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		sb.WriteString(string(s))
	}
	return sb.String()
}
