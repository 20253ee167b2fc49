// Package raptor implements round-based public transit routing over an
// immutable timetable snapshot. Round k holds the earliest arrivals that use
// exactly k vehicles; together the rounds form the Pareto set of journeys
// trading boardings against arrival time.
package raptor

import (
	"errors"
	"fmt"
	"time"

	"transit-planner/internal/timetable"
)

var (
	ErrInvalidRounds      = errors.New("max rounds must be at least 1")
	ErrEmptyTimetable     = errors.New("timetable is empty")
	ErrNegativeChangeTime = errors.New("change time must not be negative")
	ErrSameStop           = errors.New("source and destination are the same stop")
	errBrokenChain        = errors.New("back-pointer chain does not lead to the source")
)

// never is the label of a stop that has not been reached.
var never = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type Request struct {
	Source      timetable.StopID
	Destination timetable.StopID
	Departure   time.Time
	MaxRounds   int           // max transfers + 1
	ChangeTime  time.Duration // minimum dwell before boarding
}

type pointerKind uint8

const (
	unset pointerKind = iota
	walked
	boarded
)

// pointer records how a stop was reached in a round. For walks, from is the
// stop walked from; for rides, from is the boarding stop and route/trip name
// the vehicle.
type pointer struct {
	kind    pointerKind
	from    int
	route   int
	trip    int
	depart  time.Time
	arrival time.Time
}

// query is the per-call state. Nothing in it is shared between calls.
type query struct {
	tt     *timetable.Snapshot
	rounds int
	dst    int

	labels   [][]time.Time // [round][stop]
	pointers [][]pointer   // [round][stop]
	star     []time.Time

	marked   []bool
	worklist []int

	boardAt []int // route -> earliest marked position, -1 if untouched
	touched []int
}

// Plan computes the Pareto set of journeys from req.Source to req.Destination.
// Invalid requests fail before any scan; an unknown or unreachable stop yields
// an empty Result rather than an error.
func Plan(tt *timetable.Snapshot, req Request) (Result, error) {
	if tt == nil || tt.NumStops() == 0 {
		return Result{}, ErrEmptyTimetable
	}
	if req.MaxRounds < 1 {
		return Result{}, ErrInvalidRounds
	}
	if req.ChangeTime < 0 {
		return Result{}, ErrNegativeChangeTime
	}
	if req.Source == req.Destination {
		return Result{}, ErrSameStop
	}
	src, ok := tt.StopIndex(req.Source)
	if !ok {
		return Result{}, nil
	}
	dst, ok := tt.StopIndex(req.Destination)
	if !ok {
		return Result{}, nil
	}

	q := newQuery(tt, req.MaxRounds, dst)
	q.run(src, req.Departure, req.ChangeTime)
	return q.result(src)
}

func newQuery(tt *timetable.Snapshot, rounds, dst int) *query {
	n := tt.NumStops()
	q := &query{
		tt:       tt,
		rounds:   rounds,
		dst:      dst,
		labels:   make([][]time.Time, rounds+1),
		pointers: make([][]pointer, rounds+1),
		star:     make([]time.Time, n),
		marked:   make([]bool, n),
		boardAt:  make([]int, tt.NumRoutes()),
	}
	for k := range q.labels {
		q.labels[k] = make([]time.Time, n)
		q.pointers[k] = make([]pointer, n)
		for i := range q.labels[k] {
			q.labels[k][i] = never
		}
	}
	for i := range q.star {
		q.star[i] = never
	}
	for r := range q.boardAt {
		q.boardAt[r] = -1
	}
	return q
}

func (q *query) mark(p int) {
	if !q.marked[p] {
		q.marked[p] = true
		q.worklist = append(q.worklist, p)
	}
}

// improves reports whether t beats both the stop's best arrival over all
// rounds and the best arrival known at the destination.
func (q *query) improves(p int, t time.Time) bool {
	return t.Before(q.star[p]) && t.Before(q.star[q.dst])
}

func (q *query) run(src int, dep time.Time, change time.Duration) {
	q.labels[0][src] = dep
	q.star[src] = dep
	q.mark(src)

	// One walking hop from the source; walks are not chained here.
	q.tt.EachFootpath(src, func(to int, d time.Duration) {
		arr := dep.Add(d)
		if !arr.Before(q.labels[0][to]) {
			return
		}
		q.labels[0][to] = arr
		q.star[to] = arr
		q.pointers[0][to] = pointer{kind: walked, from: src, depart: dep, arrival: arr}
		q.mark(to)
	})

	for k := 1; k <= q.rounds; k++ {
		q.collectRoutes()
		for _, r := range q.touched {
			q.scanRoute(k, r, q.boardAt[r], change)
			q.boardAt[r] = -1
		}
		q.relaxFootpaths(k)
		if len(q.worklist) == 0 {
			break
		}
	}
}

// collectRoutes turns the marked stops of the previous round into the set of
// routes to scan, each from its earliest marked position, and clears the marks.
func (q *query) collectRoutes() {
	q.touched = q.touched[:0]
	for _, p := range q.worklist {
		q.marked[p] = false
		for _, rs := range q.tt.RoutesAt(p) {
			switch cur := q.boardAt[rs.Route]; {
			case cur < 0:
				q.boardAt[rs.Route] = rs.Pos
				q.touched = append(q.touched, rs.Route)
			case rs.Pos < cur:
				q.boardAt[rs.Route] = rs.Pos
			}
		}
	}
	q.worklist = q.worklist[:0]
}

func (q *query) scanRoute(k, r, start int, change time.Duration) {
	route := q.tt.RouteAt(r)
	stops := route.DenseStops()

	trip := -1
	boardStop := -1
	var boardTime time.Time

	for pos := start; pos < len(stops); pos++ {
		p := stops[pos]

		if trip >= 0 {
			arr := route.Trips[trip].Times[pos].Arrival
			if q.improves(p, arr) {
				q.labels[k][p] = arr
				q.star[p] = arr
				q.pointers[k][p] = pointer{kind: boarded, from: boardStop, route: r, trip: trip, depart: boardTime, arrival: arr}
				q.mark(p)
			}
		}

		// Boarding only looks at the previous round, so a stop improved in this
		// round cannot feed a second ride within the same round.
		prev := q.labels[k-1][p]
		if !prev.Before(never) {
			continue
		}
		ready := prev.Add(change)
		if trip >= 0 && !ready.Before(route.Trips[trip].Times[pos].Departure) {
			continue
		}
		next := route.EarliestTrip(pos, ready)
		if next < 0 || next == trip {
			continue
		}
		trip = next
		boardStop = p
		boardTime = route.Trips[trip].Times[pos].Departure
	}
}

// relaxFootpaths walks one hop from every stop marked by the route scan of
// round k. Stops reached on foot here are marked for the next round but are
// not walked from again in this one.
func (q *query) relaxFootpaths(k int) {
	fixed := append([]int(nil), q.worklist...)
	for _, p := range fixed {
		base := q.labels[k][p]
		q.tt.EachFootpath(p, func(to int, d time.Duration) {
			arr := base.Add(d)
			if !arr.Before(q.labels[k][to]) || !q.improves(to, arr) {
				return
			}
			q.labels[k][to] = arr
			q.star[to] = arr
			q.pointers[k][to] = pointer{kind: walked, from: p, depart: base, arrival: arr}
			q.mark(to)
		})
	}
}

func (q *query) result(src int) (Result, error) {
	var res Result
	for k := 0; k <= q.rounds; k++ {
		if q.pointers[k][q.dst].kind == unset {
			continue
		}
		j, err := q.journey(k, src)
		if err != nil {
			return Result{}, fmt.Errorf("round %d: %w", k, err)
		}
		res.Options = append(res.Options, Option{Rounds: k, Arrival: q.labels[k][q.dst], Journey: j})
	}
	return res, nil
}

// journey follows back-pointers from the destination at round k. A ride
// consumes one round, a walk stays in the same round.
func (q *query) journey(k, src int) (Journey, error) {
	var legs []Leg
	stop, round := q.dst, k
	limit := (q.rounds + 1) * q.tt.NumStops()
	for steps := 0; ; steps++ {
		if steps > limit {
			return Journey{}, errBrokenChain
		}
		ptr := q.pointers[round][stop]
		switch ptr.kind {
		case walked:
			legs = append(legs, Leg{
				Kind:      LegWalk,
				From:      q.tt.StopAt(ptr.from),
				To:        q.tt.StopAt(stop),
				Departure: ptr.depart,
				Arrival:   ptr.arrival,
			})
			stop = ptr.from
		case boarded:
			route := q.tt.RouteAt(ptr.route)
			legs = append(legs, Leg{
				Kind:      LegBoard,
				From:      q.tt.StopAt(ptr.from),
				To:        q.tt.StopAt(stop),
				Route:     route.ID,
				Trip:      route.Trips[ptr.trip].ID,
				Departure: ptr.depart,
				Arrival:   ptr.arrival,
			})
			stop = ptr.from
			round--
		default:
			if stop != src || round != 0 {
				return Journey{}, errBrokenChain
			}
			for i, j := 0, len(legs)-1; i < j; i, j = i+1, j-1 {
				legs[i], legs[j] = legs[j], legs[i]
			}
			return Journey{Legs: legs}, nil
		}
	}
}
