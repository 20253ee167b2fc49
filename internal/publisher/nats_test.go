package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/raptor"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

type countingMetrics struct {
	published, errs int
	connected       bool
}

func (m *countingMetrics) NATSPublishedInc()              { m.published++ }
func (m *countingMetrics) NATSPublishErrInc()             { m.errs++ }
func (m *countingMetrics) PublishObserve(_ time.Duration) {}
func (m *countingMetrics) NATSSetConnected(b bool)        { m.connected = b }

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"A":              "A",
		" de:11000:900 ": "de:11000:900",
		"Hbf. Gleis 1":   "Hbf__Gleis_1",
		"a*b>c/d":        "a_b_c_d",
		"":               "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), in)
	}
}

func sampleResult() (raptor.Request, raptor.Result) {
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	req := raptor.Request{Source: "A", Destination: "D", Departure: at(8, 0), MaxRounds: 2}
	res := raptor.Result{Options: []raptor.Option{{
		Rounds:  1,
		Arrival: at(8, 15),
		Journey: raptor.Journey{Legs: []raptor.Leg{
			{Kind: raptor.LegBoard, From: "A", To: "B", Route: "L1", Trip: "t1", Departure: at(8, 0), Arrival: at(8, 10)},
			{Kind: raptor.LegWalk, From: "B", To: "D", Departure: at(8, 10), Arrival: at(8, 15)},
		}},
	}}}
	return req, res
}

func TestPublishJourney(t *testing.T) {
	nc := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(nc, "journeys", false, m, nil)

	req, res := sampleResult()
	msg := NewJourneyMessage("q1", req, 3, res, 30*time.Second)
	require.NoError(t, p.PublishJourney(msg))

	require.Equal(t, []string{"journeys.A.D"}, nc.subjects)
	assert.Equal(t, 1, m.published)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(nc.payloads[0], &decoded))
	assert.Equal(t, "q1", decoded["queryId"])
	assert.Equal(t, float64(3), decoded["snapshotVersion"])
	opts := decoded["options"].([]any)
	require.Len(t, opts, 1)
	legs := opts[0].(map[string]any)["legs"].([]any)
	require.Len(t, legs, 2)
	assert.Equal(t, "board", legs[0].(map[string]any)["kind"])
	assert.Equal(t, "walk", legs[1].(map[string]any)["kind"])
	_, hasTrip := legs[1].(map[string]any)["tripId"]
	assert.False(t, hasTrip)
}

func TestPublishJourneyError(t *testing.T) {
	nc := &fakeConn{err: errors.New("connection closed")}
	m := &countingMetrics{}
	p := newPublisher(nc, "journeys", true, m, nil)

	req, _ := sampleResult()
	err := p.PublishJourney(NewJourneyMessage("q2", req, 1, raptor.Result{}, 0))
	assert.Error(t, err)
	assert.Equal(t, 1, m.errs)
	assert.Zero(t, m.published)
}

func TestNewJourneyMessageUnreachable(t *testing.T) {
	req, _ := sampleResult()
	msg := NewJourneyMessage("q3", req, 1, raptor.Result{}, 0)
	assert.NotNil(t, msg.Options)
	assert.Empty(t, msg.Options)

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"options":[]`)
}
