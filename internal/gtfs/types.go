package gtfs

import (
	"strconv"
	"strings"
	"time"
)

type Stop struct {
	StopID        string
	Name          string
	Lat           float64
	Lon           float64
	ParentStation string
}

type Trip struct {
	TripID    string
	RouteID   string
	ServiceID string
}

type StopTime struct {
	TripID       string
	StopSequence int
	ArrivalSec   int // seconds since midnight (can exceed 24h)
	DepartureSec int // seconds since midnight (can exceed 24h)
	StopID       string
}

// Transfer is a transfers.txt row. Only rows with a minimum transfer time
// between two different stops become footpaths.
type Transfer struct {
	FromStopID     string
	ToStopID       string
	MinTransferSec int
}

// Service is a calendar entry with its calendar_dates exceptions.
type Service struct {
	ServiceID string
	Weekdays  [7]bool // indexed by time.Weekday
	Start     time.Time
	End       time.Time
	Added     []time.Time
	Removed   []time.Time
}

// ActiveOn reports whether the service runs on the calendar date of day.
func (s Service) ActiveOn(day time.Time) bool {
	y, m, d := day.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, r := range s.Removed {
		if sameDate(r, date) {
			return false
		}
	}
	for _, a := range s.Added {
		if sameDate(a, date) {
			return true
		}
	}
	if !s.Start.IsZero() && date.Before(dateOf(s.Start)) {
		return false
	}
	if !s.End.IsZero() && date.After(dateOf(s.End)) {
		return false
	}
	return s.Weekdays[date.Weekday()]
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func ParseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}
