package raptor

import (
	"time"

	"transit-planner/internal/timetable"
)

type LegKind uint8

const (
	LegWalk LegKind = iota + 1
	LegBoard
)

func (k LegKind) String() string {
	switch k {
	case LegWalk:
		return "walk"
	case LegBoard:
		return "board"
	default:
		return "unknown"
	}
}

func (k LegKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Leg is one walking or riding segment of a journey. Route and Trip are empty
// for walking legs.
type Leg struct {
	Kind      LegKind
	From      timetable.StopID
	To        timetable.StopID
	Route     timetable.RouteID
	Trip      timetable.TripID
	Departure time.Time
	Arrival   time.Time
}

func (l Leg) Duration() time.Duration { return l.Arrival.Sub(l.Departure) }

type Journey struct {
	Legs []Leg
}

func (j Journey) Departure() time.Time {
	if len(j.Legs) == 0 {
		return time.Time{}
	}
	return j.Legs[0].Departure
}

// Start is the latest time one can leave the source and still make the first
// boarding: walks ahead of it are shifted to end at the vehicle's departure.
// Walk-only journeys start at their departure.
func (j Journey) Start() time.Time {
	var walk time.Duration
	for _, l := range j.Legs {
		if l.Kind == LegBoard {
			return l.Departure.Add(-walk)
		}
		walk += l.Duration()
	}
	return j.Departure()
}

func (j Journey) Arrival() time.Time {
	if len(j.Legs) == 0 {
		return time.Time{}
	}
	return j.Legs[len(j.Legs)-1].Arrival
}

func (j Journey) Boardings() int {
	n := 0
	for _, l := range j.Legs {
		if l.Kind == LegBoard {
			n++
		}
	}
	return n
}

func (j Journey) Transfers() int {
	if n := j.Boardings(); n > 1 {
		return n - 1
	}
	return 0
}

// Trips lists the trips ridden, in travel order.
func (j Journey) Trips() []timetable.TripID {
	var out []timetable.TripID
	for _, l := range j.Legs {
		if l.Kind == LegBoard {
			out = append(out, l.Trip)
		}
	}
	return out
}

// WithoutShortWalks drops walking legs of at most min that sit between two
// rides, e.g. platform changes. Access and egress walks are kept.
func (j Journey) WithoutShortWalks(min time.Duration) Journey {
	out := Journey{Legs: make([]Leg, 0, len(j.Legs))}
	for i, l := range j.Legs {
		between := i > 0 && i < len(j.Legs)-1 &&
			j.Legs[i-1].Kind == LegBoard && j.Legs[i+1].Kind == LegBoard
		if between && l.Kind == LegWalk && l.Duration() <= min {
			continue
		}
		out.Legs = append(out.Legs, l)
	}
	return out
}

// Option is one Pareto-optimal way to reach the destination. Rounds is the
// number of vehicles boarded.
type Option struct {
	Rounds  int
	Arrival time.Time
	Journey Journey
}

// Result holds the Pareto set ordered by increasing Rounds. Later options
// always arrive strictly earlier than earlier ones.
type Result struct {
	Options []Option
}

// Unreachable reports whether the destination could not be reached.
func (r Result) Unreachable() bool { return len(r.Options) == 0 }

// Earliest returns the option with the earliest arrival.
func (r Result) Earliest() (Option, bool) {
	if r.Unreachable() {
		return Option{}, false
	}
	return r.Options[len(r.Options)-1], true
}

// Fewest returns the option with the fewest boardings.
func (r Result) Fewest() (Option, bool) {
	if r.Unreachable() {
		return Option{}, false
	}
	return r.Options[0], true
}
