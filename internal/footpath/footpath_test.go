package footpath

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/timetable"
)

// chain 1-2-3-4-5 with a minute between neighbours, plus a lone node 9
func chainNetwork(t *testing.T) *Network {
	t.Helper()
	n := NewNetwork()
	for i := 1; i <= 5; i++ {
		n.AddNode(NodeID(i), 52.0, 13.0+0.001*float64(i))
	}
	n.AddNode(9, 53.0, 14.0)
	for i := 1; i < 5; i++ {
		require.NoError(t, n.AddEdge(NodeID(i), NodeID(i+1), 60))
	}
	return n
}

func chainStops() []StopNode {
	return []StopNode{
		{Stop: "S1", Node: 1},
		{Stop: "S2", Node: 2},
		{Stop: "S3", Node: 3},
		{Stop: "S4", Node: 5},
		{Stop: "S5", Node: 2},
		{Stop: "S6", Node: 9},
		{Stop: "S7", Node: 99},
		{Stop: "S1", Node: 5},
	}
}

func TestBuild(t *testing.T) {
	rel, err := Build(chainNetwork(t), chainStops(), 100*time.Second)
	require.NoError(t, err)

	d, ok := rel.Duration("S1", "S2")
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	// closure through S2, longer than the cutoff
	d, ok = rel.Duration("S1", "S3")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	// S4 is two minutes from S3, over the cutoff, and nothing closes the gap
	_, ok = rel.Duration("S3", "S4")
	assert.False(t, ok)

	for _, s := range []timetable.StopID{"S4", "S6", "S7"} {
		assert.Empty(t, rel.From(s), s)
	}

	assert.Equal(t, 12, rel.Len())
	assert.Equal(t, [][]timetable.StopID{{"S1", "S2", "S3", "S5"}}, rel.Components())
	assert.Equal(t, Stats{Stops: 7, Candidates: 18, Direct: 4, Closure: 2, Components: 1}, rel.Stats())
}

func TestBuildIsSymmetricAndClosed(t *testing.T) {
	rel, err := Build(chainNetwork(t), chainStops(), 100*time.Second)
	require.NoError(t, err)

	for _, e := range rel.Edges() {
		assert.NotEqual(t, e.From, e.To)
		assert.Positive(t, e.Duration)

		back, ok := rel.Duration(e.To, e.From)
		require.True(t, ok, "%s->%s", e.To, e.From)
		assert.Equal(t, e.Duration, back)

		for _, next := range rel.From(e.To) {
			if next.To == e.From {
				continue
			}
			d, ok := rel.Duration(e.From, next.To)
			require.True(t, ok, "%s->%s->%s", e.From, e.To, next.To)
			assert.LessOrEqual(t, d, e.Duration+next.Duration)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(NewNetwork(), chainStops(), time.Minute)
	assert.ErrorIs(t, err, ErrEmptyNetwork)

	_, err = Build(nil, chainStops(), time.Minute)
	assert.ErrorIs(t, err, ErrEmptyNetwork)

	_, err = Build(chainNetwork(t), chainStops(), 0)
	assert.ErrorIs(t, err, ErrInvalidCutoff)
}

func TestBuildNoStops(t *testing.T) {
	rel, err := Build(chainNetwork(t), nil, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, rel.Len())
	assert.Empty(t, rel.Edges())
	assert.Empty(t, rel.Components())
}

func TestAddEdgeUnknownNode(t *testing.T) {
	n := chainNetwork(t)
	assert.ErrorIs(t, n.AddEdge(1, 42, 10), ErrUnknownNode)
	assert.Error(t, n.AddEdge(1, 2, -1))
	assert.Equal(t, 4, n.Edges())
}

func TestSnap(t *testing.T) {
	n := chainNetwork(t)
	id, d, ok := n.Nearest(52.0001, 13.0031)
	require.True(t, ok)
	assert.Equal(t, NodeID(3), id)
	assert.Less(t, d, 20.0)

	got := n.Snap([]StopPoint{
		{Stop: "near", Lat: 52.0, Lon: 13.0049},
		{Stop: "far", Lat: 40.0, Lon: 0.0},
	}, 500)
	assert.Equal(t, []StopNode{{Stop: "near", Node: 5}}, got)

	_, _, ok = NewNetwork().Nearest(52, 13)
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	rel, err := Build(chainNetwork(t), chainStops(), 100*time.Second)
	require.NoError(t, err)

	b := timetable.NewBuilder()
	require.NoError(t, rel.Apply(b))
	s, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, rel.Len(), s.NumFootpaths())
	assert.ElementsMatch(t, rel.From("S2"), s.Footpaths("S2"))
}

func TestWalkable(t *testing.T) {
	tests := []struct {
		name string
		tags osm.Tags
		want bool
	}{
		{"footway", osm.Tags{{Key: "highway", Value: "footway"}}, true},
		{"not a street", osm.Tags{{Key: "building", Value: "yes"}}, false},
		{"motorway", osm.Tags{{Key: "highway", Value: "motorway"}}, false},
		{"foot forbidden", osm.Tags{{Key: "highway", Value: "residential"}, {Key: "foot", Value: "no"}}, false},
		{"private road", osm.Tags{{Key: "highway", Value: "service"}, {Key: "access", Value: "private"}}, false},
		{"foot allowed on private road", osm.Tags{
			{Key: "highway", Value: "service"},
			{Key: "access", Value: "private"},
			{Key: "foot", Value: "yes"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, walkable(tt.tags))
		})
	}
}

func TestBuildFromPBFMissingFile(t *testing.T) {
	_, err := BuildFromPBF(context.Background(), filepath.Join(t.TempDir(), "missing.pbf"), 1.4, nil, time.Minute)
	assert.Error(t, err)
}
