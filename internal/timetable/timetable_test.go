package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func times(hm ...[2]int) []StopTime {
	out := make([]StopTime, len(hm))
	for i, v := range hm {
		out[i] = StopTime{Arrival: at(v[0], v[1]), Departure: at(v[0], v[1])}
	}
	return out
}

func TestBuilderIndices(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddTrip("L1", "t2", []StopID{"A", "B", "C"}, times([2]int{9, 0}, [2]int{9, 10}, [2]int{9, 30})))
	require.NoError(t, b.AddTrip("L1", "t1", []StopID{"A", "B", "C"}, times([2]int{8, 0}, [2]int{8, 10}, [2]int{8, 30})))
	require.NoError(t, b.AddTrip("L2", "t3", []StopID{"C", "D"}, times([2]int{8, 40}, [2]int{8, 50})))
	require.NoError(t, b.AddFootpath("B", "E", 5*time.Minute))
	require.NoError(t, b.AddFootpath("B", "E", 7*time.Minute))
	require.NoError(t, b.AddFootpath("B", "B", time.Minute))

	s, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, 5, s.NumStops())
	assert.Equal(t, 2, s.NumRoutes())
	assert.Equal(t, 3, s.NumTrips())
	assert.Equal(t, 1, s.NumFootpaths())

	assert.Equal(t, []StopID{"A", "B", "C"}, s.StopsByRoute("L1"))
	assert.ElementsMatch(t, []RouteID{"L1", "L2"}, s.RoutesByStop("C"))
	assert.Empty(t, s.RoutesByStop("E"))
	assert.Nil(t, s.RoutesByStop("nope"))

	trips := s.TripsByRoute("L1")
	require.Len(t, trips, 2)
	assert.Equal(t, TripID("t1"), trips[0].ID)
	assert.Equal(t, TripID("t2"), trips[1].ID)

	pos, ok := s.StopIndexInRoute("L1", "C")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	_, ok = s.StopIndexInRoute("L2", "A")
	assert.False(t, ok)

	assert.Equal(t, []Footpath{{To: "E", Duration: 5 * time.Minute}}, s.Footpaths("B"))
	assert.Empty(t, s.Footpaths("E"))
}

func TestBuilderErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder().Build()
		assert.ErrorIs(t, err, ErrNoStops)
	})
	t.Run("misaligned", func(t *testing.T) {
		err := NewBuilder().AddTrip("L", "t", []StopID{"A", "B"}, times([2]int{8, 0}))
		assert.ErrorIs(t, err, ErrMisalignedTrip)
	})
	t.Run("backwards", func(t *testing.T) {
		err := NewBuilder().AddTrip("L", "t", []StopID{"A", "B"}, times([2]int{8, 10}, [2]int{8, 0}))
		assert.ErrorIs(t, err, ErrNonMonotonicTrip)
	})
	t.Run("negative footpath", func(t *testing.T) {
		err := NewBuilder().AddFootpath("A", "B", -time.Second)
		assert.ErrorIs(t, err, ErrNegativeFootpath)
	})
}

func TestOvertakingTripsAreSplit(t *testing.T) {
	b := NewBuilder()
	stops := []StopID{"A", "B", "C"}
	// slow departs first but the express overtakes it before C
	require.NoError(t, b.AddTrip("L", "slow", stops, times([2]int{8, 0}, [2]int{8, 20}, [2]int{8, 50})))
	require.NoError(t, b.AddTrip("L", "express", stops, times([2]int{8, 5}, [2]int{8, 15}, [2]int{8, 25})))
	require.NoError(t, b.AddTrip("L", "late", stops, times([2]int{9, 0}, [2]int{9, 20}, [2]int{9, 50})))

	s, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, 2, s.NumRoutes())

	for r := 0; r < s.NumRoutes(); r++ {
		route := s.RouteAt(r)
		assert.Equal(t, "L", route.Line)
		for i := 1; i < len(route.Trips); i++ {
			for pos := range route.Stops {
				assert.False(t, route.Trips[i].Times[pos].Departure.Before(route.Trips[i-1].Times[pos].Departure))
			}
		}
	}
	assert.ElementsMatch(t, []RouteID{"L#0", "L#1"}, s.RoutesByStop("A"))
}

func TestEarliestTrip(t *testing.T) {
	b := NewBuilder()
	stops := []StopID{"A", "B"}
	require.NoError(t, b.AddTrip("L", "t1", stops, times([2]int{8, 0}, [2]int{8, 10})))
	require.NoError(t, b.AddTrip("L", "t2", stops, times([2]int{8, 30}, [2]int{8, 40})))
	s, err := b.Build()
	require.NoError(t, err)
	r := s.RouteAt(0)

	assert.Equal(t, 0, r.EarliestTrip(0, at(7, 0)))
	assert.Equal(t, 0, r.EarliestTrip(0, at(8, 0)))
	assert.Equal(t, 1, r.EarliestTrip(0, at(8, 1)))
	assert.Equal(t, -1, r.EarliestTrip(0, at(8, 31)))
	assert.Equal(t, 1, r.EarliestTrip(1, at(8, 40)))
}

func TestEditsAreCopyOnWrite(t *testing.T) {
	b := NewBuilder()
	stops := []StopID{"A", "B"}
	require.NoError(t, b.AddTrip("XP1", "t1", stops, times([2]int{8, 0}, [2]int{8, 10})))
	require.NoError(t, b.AddTrip("XP1", "t2", stops, times([2]int{9, 0}, [2]int{9, 10})))
	require.NoError(t, b.AddTrip("R28", "t3", []StopID{"B", "C"}, times([2]int{8, 20}, [2]int{8, 40})))
	s, err := b.Build()
	require.NoError(t, err)

	t.Run("cancel trips", func(t *testing.T) {
		next, n := s.CancelTrips("t1", "unknown")
		assert.Equal(t, 1, n)
		assert.Equal(t, s.Version()+1, next.Version())
		assert.Len(t, next.TripsByRoute("XP1"), 1)
		assert.Len(t, s.TripsByRoute("XP1"), 2)
	})

	t.Run("cancel window", func(t *testing.T) {
		next, n := s.CancelWindow("XP1", at(8, 5), at(8, 30))
		assert.Equal(t, 1, n)
		require.Len(t, next.TripsByRoute("XP1"), 1)
		assert.Equal(t, TripID("t2"), next.TripsByRoute("XP1")[0].ID)
		assert.Len(t, next.TripsByRoute("R28"), 1)
	})

	t.Run("with version", func(t *testing.T) {
		next := s.WithVersion(7)
		assert.Equal(t, uint64(7), next.Version())
		assert.Equal(t, uint64(1), s.Version())
		assert.Equal(t, s.NumTrips(), next.NumTrips())
	})

	t.Run("nothing removed", func(t *testing.T) {
		next, n := s.CancelWindow("nope", at(0, 0), at(23, 0))
		assert.Zero(t, n)
		assert.Equal(t, s.NumTrips(), next.NumTrips())
	})
}
