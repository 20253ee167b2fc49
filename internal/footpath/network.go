// Package footpath builds the walking transfer relation between stops from a
// street network.
package footpath

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"transit-planner/internal/timetable"
)

var ErrUnknownNode = errors.New("unknown network node")

type NodeID int64

type arc struct {
	to int
	w  float64 // walking seconds
}

// Network is an undirected street graph weighted in walking seconds.
type Network struct {
	ids    []NodeID
	index  map[NodeID]int
	coords []orb.Point
	adj    [][]arc
}

func NewNetwork() *Network {
	return &Network{index: make(map[NodeID]int)}
}

// AddNode registers a node. Adding a known node again moves it.
func (n *Network) AddNode(id NodeID, lat, lon float64) {
	if i, ok := n.index[id]; ok {
		n.coords[i] = orb.Point{lon, lat}
		return
	}
	n.index[id] = len(n.ids)
	n.ids = append(n.ids, id)
	n.coords = append(n.coords, orb.Point{lon, lat})
	n.adj = append(n.adj, nil)
}

// AddEdge adds an undirected street segment that takes seconds to walk.
func (n *Network) AddEdge(a, b NodeID, seconds float64) error {
	i, ok := n.index[a]
	if !ok {
		return fmt.Errorf("edge %d-%d: %w: %d", a, b, ErrUnknownNode, a)
	}
	j, ok := n.index[b]
	if !ok {
		return fmt.Errorf("edge %d-%d: %w: %d", a, b, ErrUnknownNode, b)
	}
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("edge %d-%d: invalid weight %v", a, b, seconds)
	}
	if i == j {
		return nil
	}
	n.adj[i] = append(n.adj[i], arc{to: j, w: seconds})
	n.adj[j] = append(n.adj[j], arc{to: i, w: seconds})
	return nil
}

func (n *Network) Len() int {
	if n == nil {
		return 0
	}
	return len(n.ids)
}

func (n *Network) Edges() int {
	e := 0
	for _, a := range n.adj {
		e += len(a)
	}
	return e / 2
}

// Nearest returns the node closest to the coordinate by great-circle distance,
// together with that distance in meters.
func (n *Network) Nearest(lat, lon float64) (NodeID, float64, bool) {
	if n.Len() == 0 {
		return 0, 0, false
	}
	p := orb.Point{lon, lat}
	best, bestDist := 0, math.Inf(1)
	for i, c := range n.coords {
		if d := geo.Distance(p, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return n.ids[best], bestDist, true
}

// StopPoint is a stop with its coordinates.
type StopPoint struct {
	Stop timetable.StopID
	Lat  float64
	Lon  float64
}

// StopNode ties a stop to the network node it is walked from.
type StopNode struct {
	Stop timetable.StopID
	Node NodeID
}

// Snap maps every stop to its nearest network node. Stops farther than
// maxMeters from any node are left out; maxMeters <= 0 disables the check.
func (n *Network) Snap(stops []StopPoint, maxMeters float64) []StopNode {
	out := make([]StopNode, 0, len(stops))
	for _, s := range stops {
		id, d, ok := n.Nearest(s.Lat, s.Lon)
		if !ok || (maxMeters > 0 && d > maxMeters) {
			continue
		}
		out = append(out, StopNode{Stop: s.Stop, Node: id})
	}
	return out
}
