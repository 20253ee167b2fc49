// Package scenario describes replayable sets of journey queries and the
// disruptions that change the timetable while they run.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transit-planner/internal/raptor"
	"transit-planner/internal/timetable"
)

var ErrInvalidClock = errors.New("invalid clock time")

type Scenario struct {
	Name        string       `yaml:"name"`
	ServiceDate string       `yaml:"service_date" validate:"omitempty,datetime=2006-01-02"`
	Queries     []Query      `yaml:"queries" validate:"required,min=1,dive"`
	Disruptions []Disruption `yaml:"disruptions" validate:"omitempty,dive"`
}

// Query asks for journeys between two stops. Departure is a service-day
// clock time; the optional fields override the planner defaults.
type Query struct {
	ID           string `yaml:"id" validate:"required"`
	Source       string `yaml:"source" validate:"required"`
	Destination  string `yaml:"destination" validate:"required,nefield=Source"`
	Departure    string `yaml:"departure" validate:"required,clock"`
	MaxTransfers *int   `yaml:"max_transfers" validate:"omitempty,gte=0,lte=10"`
	ChangeTime   *int   `yaml:"change_time" validate:"omitempty,gte=0"` // seconds
}

// Disruption cancels explicit trips, or every trip of a line touching the
// From..To window, never both. It takes effect for queries departing at or after At; an
// empty At means from the start.
type Disruption struct {
	Name  string   `yaml:"name" validate:"required"`
	At    string   `yaml:"at" validate:"omitempty,clock"`
	Trips []string `yaml:"cancel_trips" validate:"required_without=Line,excluded_with=Line,dive,required"`
	Line  string   `yaml:"line" validate:"required_without=Trips"`
	From  string   `yaml:"from" validate:"required_with=Line,omitempty,clock"`
	To    string   `yaml:"to" validate:"required_with=Line,omitempty,clock"`
}

// Defaults fill the query fields a scenario leaves out.
type Defaults struct {
	MaxTransfers int
	ChangeTime   time.Duration
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := newValidator().Struct(sc); err != nil {
		return nil, fmt.Errorf("validate scenario: %w", err)
	}
	seen := make(map[string]bool, len(sc.Queries))
	for _, q := range sc.Queries {
		if seen[q.ID] {
			return nil, fmt.Errorf("validate scenario: duplicate query id %q", q.ID)
		}
		seen[q.ID] = true
	}
	for _, d := range sc.Disruptions {
		if d.Line == "" {
			continue
		}
		from, _ := ParseClock(d.From)
		to, _ := ParseClock(d.To)
		if to < from {
			return nil, fmt.Errorf("validate scenario: disruption %q ends before it starts", d.Name)
		}
	}
	return &sc, nil
}

// Day returns the scenario's service date in loc, or fallback when unset.
func (sc *Scenario) Day(loc *time.Location, fallback time.Time) time.Time {
	if sc.ServiceDate == "" {
		return fallback
	}
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", sc.ServiceDate, loc)
	if err != nil {
		return fallback
	}
	return d
}

// Timeline orders the disruptions by the time they take effect. Disruptions
// sharing a time keep their file order.
func (sc *Scenario) Timeline() []Disruption {
	out := append([]Disruption(nil), sc.Disruptions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].offset() < out[j].offset() })
	return out
}

func (d Disruption) offset() time.Duration {
	off, _ := ParseClock(d.At)
	return off
}

// Effective is the absolute time the disruption starts to apply on the
// service day starting at base.
func (d Disruption) Effective(base time.Time) time.Time {
	return base.Add(d.offset())
}

// Apply returns s with the disruption's trips removed and how many were.
func (d Disruption) Apply(s *timetable.Snapshot, base time.Time) (*timetable.Snapshot, int) {
	if d.Line != "" {
		from, _ := ParseClock(d.From)
		to, _ := ParseClock(d.To)
		return s.CancelWindow(d.Line, base.Add(from), base.Add(to))
	}
	ids := make([]timetable.TripID, len(d.Trips))
	for i, id := range d.Trips {
		ids[i] = timetable.TripID(id)
	}
	return s.CancelTrips(ids...)
}

// Request turns the query into a planner request on the service day starting
// at base.
func (q Query) Request(base time.Time, def Defaults) (raptor.Request, error) {
	off, err := ParseClock(q.Departure)
	if err != nil {
		return raptor.Request{}, fmt.Errorf("query %s: %w", q.ID, err)
	}
	transfers := def.MaxTransfers
	if q.MaxTransfers != nil {
		transfers = *q.MaxTransfers
	}
	change := def.ChangeTime
	if q.ChangeTime != nil {
		change = time.Duration(*q.ChangeTime) * time.Second
	}
	return raptor.Request{
		Source:      timetable.StopID(q.Source),
		Destination: timetable.StopID(q.Destination),
		Departure:   base.Add(off),
		MaxRounds:   transfers + 1,
		ChangeTime:  change,
	}, nil
}

// ParseClock parses HH:MM or HH:MM:SS into an offset from the start of the
// service day. Hours past 23 are allowed for trips running after midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		v[i] = n
	}
	if v[0] > 47 || v[1] > 59 || v[2] > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return time.Duration(v[0])*time.Hour + time.Duration(v[1])*time.Minute + time.Duration(v[2])*time.Second, nil
}
