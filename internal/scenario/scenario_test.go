package scenario

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transit-planner/internal/timetable"
)

const sample = `
name: morning peak
service_date: 2023-06-01
queries:
  - id: q1
    source: A
    destination: D
    departure: "08:00"
  - id: q2
    source: A
    destination: C
    departure: "08:00:30"
    max_transfers: 0
    change_time: 60
disruptions:
  - name: line closure
    at: "09:00"
    line: XP1
    from: "08:05"
    to: "08:30"
  - name: broken bus
    cancel_trips: [t3]
`

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "morning peak", sc.Name)
	require.Len(t, sc.Queries, 2)
	require.NotNil(t, sc.Queries[1].MaxTransfers)
	assert.Equal(t, 0, *sc.Queries[1].MaxTransfers)

	timeline := sc.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, "broken bus", timeline[0].Name)
	assert.Equal(t, "line closure", timeline[1].Name)

	day := sc.Day(time.UTC, time.Time{})
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, day.Add(9*time.Hour), timeline[1].Effective(day))
}

func TestParseInvalid(t *testing.T) {
	tests := map[string]string{
		"no queries": `name: x`,
		"same stop": `
queries:
  - {id: q, source: A, destination: A, departure: "08:00"}`,
		"bad clock": `
queries:
  - {id: q, source: A, destination: B, departure: "8h"}`,
		"duplicate id": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}
  - {id: q, source: B, destination: A, departure: "09:00"}`,
		"negative transfers": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00", max_transfers: -1}`,
		"empty disruption": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}
disruptions:
  - {name: nothing}`,
		"line without window": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}
disruptions:
  - {name: closure, line: XP1}`,
		"trips and line": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}
disruptions:
  - {name: closure, cancel_trips: [t1], line: XP1, from: "07:00", to: "09:00"}`,
		"window backwards": `
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}
disruptions:
  - {name: closure, line: XP1, from: "09:00", to: "08:00"}`,
		"bad date": `
service_date: 01/06/2023
queries:
  - {id: q, source: A, destination: B, departure: "08:00"}`,
		"not yaml": `queries: [`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("08:05")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+5*time.Minute, d)

	d, err = ParseClock("25:00:10")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour+10*time.Second, d)

	for _, bad := range []string{"", "8", "08:60", "08:00:00:00", "-1:00", "aa:bb"} {
		_, err := ParseClock(bad)
		assert.ErrorIs(t, err, ErrInvalidClock, bad)
	}
}

func TestQueryRequest(t *testing.T) {
	sc, err := Parse([]byte(sample))
	require.NoError(t, err)
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	def := Defaults{MaxTransfers: 3, ChangeTime: 2 * time.Minute}

	req, err := sc.Queries[0].Request(base, def)
	require.NoError(t, err)
	assert.Equal(t, timetable.StopID("A"), req.Source)
	assert.Equal(t, base.Add(8*time.Hour), req.Departure)
	assert.Equal(t, 4, req.MaxRounds)
	assert.Equal(t, 2*time.Minute, req.ChangeTime)

	req, err = sc.Queries[1].Request(base, def)
	require.NoError(t, err)
	assert.Equal(t, base.Add(8*time.Hour+30*time.Second), req.Departure)
	assert.Equal(t, 1, req.MaxRounds)
	assert.Equal(t, time.Minute, req.ChangeTime)
}

func TestDisruptionApply(t *testing.T) {
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	st := func(ts ...time.Time) []timetable.StopTime {
		out := make([]timetable.StopTime, len(ts))
		for i, v := range ts {
			out[i] = timetable.StopTime{Arrival: v, Departure: v}
		}
		return out
	}
	b := timetable.NewBuilder()
	require.NoError(t, b.AddTrip("XP1", "t1", []timetable.StopID{"A", "B"}, st(at(8, 0), at(8, 10))))
	require.NoError(t, b.AddTrip("XP1", "t2", []timetable.StopID{"A", "B"}, st(at(9, 0), at(9, 10))))
	require.NoError(t, b.AddTrip("R28", "t3", []timetable.StopID{"B", "C"}, st(at(8, 20), at(8, 40))))
	s, err := b.Build()
	require.NoError(t, err)

	sc, err := Parse([]byte(sample))
	require.NoError(t, err)
	tl := sc.Timeline()

	next, n := tl[0].Apply(s, base)
	assert.Equal(t, 1, n)
	assert.Empty(t, next.TripsByRoute("R28"))

	next, n = tl[1].Apply(next, base)
	assert.Equal(t, 1, n)
	require.Len(t, next.TripsByRoute("XP1"), 1)
	assert.Equal(t, timetable.TripID("t2"), next.TripsByRoute("XP1")[0].ID)
	assert.Equal(t, s.Version()+2, next.Version())
}

func tripUpdates(t *testing.T) []byte {
	t.Helper()
	cancelled := gtfsrtpb.TripDescriptor_CANCELED
	scheduled := gtfsrtpb.TripDescriptor_SCHEDULED
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{
			{Id: proto.String("1"), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t9"), ScheduleRelationship: &cancelled}}},
			{Id: proto.String("2"), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t1"), ScheduleRelationship: &cancelled}}},
			{Id: proto.String("3"), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t2"), ScheduleRelationship: &scheduled}}},
			{Id: proto.String("4"), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t1"), ScheduleRelationship: &cancelled}}},
			{Id: proto.String("5"), IsDeleted: proto.Bool(true), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t5"), ScheduleRelationship: &cancelled}}},
			{Id: proto.String("6")},
		},
	}
	b, err := proto.Marshal(fm)
	require.NoError(t, err)
	return b
}

func TestParseCancellations(t *testing.T) {
	ids, err := ParseCancellations(tripUpdates(t))
	require.NoError(t, err)
	assert.Equal(t, []timetable.TripID{"t1", "t9"}, ids)

	_, err = ParseCancellations([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestFetchCancellations(t *testing.T) {
	payload := tripUpdates(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trip-updates" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	ids, err := FetchCancellations(context.Background(), srv.URL+"/trip-updates")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = FetchCancellations(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}
