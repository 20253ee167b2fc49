package footpath

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"transit-planner/internal/timetable"
)

var (
	ErrEmptyNetwork  = errors.New("street network is empty")
	ErrInvalidCutoff = errors.New("walking cutoff must be positive")
)

// Edge is one directed footpath.
type Edge struct {
	From     timetable.StopID
	To       timetable.StopID
	Duration time.Duration
}

type Stats struct {
	Stops      int // distinct stops considered
	Candidates int // stop pairs found within twice the cutoff
	Direct     int // undirected pairs kept below the cutoff
	Closure    int // undirected pairs added by the transitive closure
	Components int // connected groups of two or more stops
}

// Relation is the symmetric, transitively closed walking relation between
// stops. The zero value is empty.
type Relation struct {
	out        map[timetable.StopID][]timetable.Footpath
	components [][]timetable.StopID
	stats      Stats
}

// Build derives footpaths between stops. Every stop is searched from its
// network node up to twice the cutoff; pairs strictly between zero and the
// cutoff become direct footpaths. Each connected group of stops is then closed
// transitively with its shortest walking times, so the result may contain
// footpaths longer than the cutoff. Stops whose node is missing from the
// network, or that reach no other stop, are isolated and get no footpaths.
func Build(net *Network, stops []StopNode, cutoff time.Duration) (*Relation, error) {
	if net.Len() == 0 {
		return nil, ErrEmptyNetwork
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCutoff, cutoff)
	}

	// dense stop indices, first occurrence wins
	var ids []timetable.StopID
	seen := make(map[timetable.StopID]bool, len(stops))
	atNode := make(map[int][]int)
	for _, s := range stops {
		if seen[s.Stop] {
			continue
		}
		seen[s.Stop] = true
		n, ok := net.index[s.Node]
		if !ok {
			ids = append(ids, s.Stop)
			continue
		}
		atNode[n] = append(atNode[n], len(ids))
		ids = append(ids, s.Stop)
	}

	rel := &Relation{out: make(map[timetable.StopID][]timetable.Footpath)}
	rel.stats.Stops = len(ids)

	w := cutoff.Seconds()
	graph := make([][]arc, len(ids))
	direct := make(map[[2]int]float64)

	nodes := make([]int, 0, len(atNode))
	for n := range atNode {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	for _, n := range nodes {
		reached := shortest(net.adj, n, 2*w)
		for v, d := range reached {
			for _, t := range atNode[v] {
				for _, s := range atNode[n] {
					if s == t {
						continue
					}
					rel.stats.Candidates++
					rd := round(d)
					if rd <= 0 || rd >= cutoff {
						continue
					}
					key := pair(s, t)
					if old, ok := direct[key]; !ok || d < old {
						direct[key] = d
					}
				}
			}
		}
	}

	keys := make([][2]int, 0, len(direct))
	for k := range direct {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		d := direct[k]
		graph[k[0]] = append(graph[k[0]], arc{to: k[1], w: d})
		graph[k[1]] = append(graph[k[1]], arc{to: k[0], w: d})
	}
	rel.stats.Direct = len(direct)

	for _, comp := range components(graph) {
		group := make([]timetable.StopID, len(comp))
		for i, s := range comp {
			group[i] = ids[s]
		}
		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		rel.components = append(rel.components, group)

		for _, s := range comp {
			for t, d := range shortest(graph, s, math.Inf(1)) {
				if t == s {
					continue
				}
				if _, ok := direct[pair(s, t)]; !ok && s < t {
					rel.stats.Closure++
				}
				rel.out[ids[s]] = append(rel.out[ids[s]], timetable.Footpath{To: ids[t], Duration: round(d)})
			}
		}
	}
	rel.stats.Components = len(rel.components)

	sort.Slice(rel.components, func(i, j int) bool { return rel.components[i][0] < rel.components[j][0] })
	for s, fps := range rel.out {
		sort.Slice(fps, func(i, j int) bool {
			if fps[i].Duration != fps[j].Duration {
				return fps[i].Duration < fps[j].Duration
			}
			return fps[i].To < fps[j].To
		})
		rel.out[s] = fps
	}
	return rel, nil
}

func pair(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func round(sec float64) time.Duration {
	return time.Duration(math.Round(sec)) * time.Second
}

// components returns the connected groups of two or more vertices.
func components(graph [][]arc) [][]int {
	var out [][]int
	visited := make([]bool, len(graph))
	for v := range graph {
		if visited[v] || len(graph[v]) == 0 {
			continue
		}
		var comp []int
		stack := []int{v}
		visited[v] = true
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, u)
			for _, a := range graph[u] {
				if !visited[a.to] {
					visited[a.to] = true
					stack = append(stack, a.to)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}

// Edges lists every directed footpath ordered by origin, then duration.
func (r *Relation) Edges() []Edge {
	if r == nil {
		return nil
	}
	from := make([]timetable.StopID, 0, len(r.out))
	for s := range r.out {
		from = append(from, s)
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })

	var out []Edge
	for _, s := range from {
		for _, fp := range r.out[s] {
			out = append(out, Edge{From: s, To: fp.To, Duration: fp.Duration})
		}
	}
	return out
}

// From returns the footpaths leaving stop, shortest first.
func (r *Relation) From(stop timetable.StopID) []timetable.Footpath {
	if r == nil {
		return nil
	}
	return r.out[stop]
}

func (r *Relation) Duration(a, b timetable.StopID) (time.Duration, bool) {
	for _, fp := range r.From(a) {
		if fp.To == b {
			return fp.Duration, true
		}
	}
	return 0, false
}

// Len is the number of directed footpaths.
func (r *Relation) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, fps := range r.out {
		n += len(fps)
	}
	return n
}

// Components returns the groups of mutually reachable stops, each sorted.
func (r *Relation) Components() [][]timetable.StopID {
	if r == nil {
		return nil
	}
	return r.components
}

func (r *Relation) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return r.stats
}

// Apply adds every footpath to b.
func (r *Relation) Apply(b *timetable.Builder) error {
	for _, e := range r.Edges() {
		if err := b.AddFootpath(e.From, e.To, e.Duration); err != nil {
			return fmt.Errorf("footpath %s->%s: %w", e.From, e.To, err)
		}
	}
	return nil
}
