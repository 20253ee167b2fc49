package footpath

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// highways pedestrians may not use.
var closedHighways = map[string]bool{
	"motorway":      true,
	"motorway_link": true,
	"trunk":         true,
	"trunk_link":    true,
	"construction":  true,
	"proposed":      true,
	"abandoned":     true,
	"raceway":       true,
	"bus_guideway":  true,
	"escape":        true,
}

func walkable(tags osm.Tags) bool {
	hw := tags.Find("highway")
	if hw == "" || closedHighways[hw] {
		return false
	}
	switch tags.Find("foot") {
	case "no", "private":
		return false
	case "yes", "designated", "permissive":
		return true
	}
	switch tags.Find("access") {
	case "no", "private":
		return false
	}
	return true
}

// LoadOSM reads the walkable street network from an OSM PBF. The file is
// scanned twice: ways first to learn which nodes matter, then the nodes
// themselves. Edge weights are the great-circle segment length divided by
// speedMps.
func LoadOSM(ctx context.Context, r io.ReadSeeker, speedMps float64) (*Network, error) {
	if speedMps <= 0 {
		return nil, fmt.Errorf("invalid walking speed: %v", speedMps)
	}

	var segments [][2]osm.NodeID
	used := make(map[osm.NodeID]struct{})

	scanner := osmpbf.New(ctx, r, runtime.GOMAXPROCS(-1))
	scanner.SkipNodes = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		way, ok := scanner.Object().(*osm.Way)
		if !ok || !walkable(way.Tags) {
			continue
		}
		ids := way.Nodes.NodeIDs()
		for i := range ids {
			used[ids[i]] = struct{}{}
			if i > 0 {
				segments = append(segments, [2]osm.NodeID{ids[i-1], ids[i]})
			}
		}
	}
	err := scanner.Err()
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan ways: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind pbf: %w", err)
	}

	net := NewNetwork()
	scanner = osmpbf.New(ctx, r, runtime.GOMAXPROCS(-1))
	scanner.SkipWays = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		node, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, ok := used[node.ID]; ok {
			net.AddNode(NodeID(node.ID), node.Lat, node.Lon)
		}
	}
	err = scanner.Err()
	scanner.Close()
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}

	for _, seg := range segments {
		a, b := NodeID(seg[0]), NodeID(seg[1])
		i, okA := net.index[a]
		j, okB := net.index[b]
		if !okA || !okB {
			// clipped extracts reference nodes outside the file
			continue
		}
		meters := geo.Distance(net.coords[i], net.coords[j])
		if err := net.AddEdge(a, b, meters/speedMps); err != nil {
			return nil, err
		}
	}
	if net.Len() == 0 {
		return nil, fmt.Errorf("%w: no walkable ways in pbf", ErrEmptyNetwork)
	}
	return net, nil
}

// BuildFromPBF loads the walking network from an OSM PBF file and builds the
// footpaths between stops. Stops farther from the network than can be walked
// within cutoff are left out.
func BuildFromPBF(ctx context.Context, path string, speedMps float64, stops []StopPoint, cutoff time.Duration) (*Relation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open osm: %w", err)
	}
	defer f.Close()
	net, err := LoadOSM(ctx, f, speedMps)
	if err != nil {
		return nil, err
	}
	return Build(net, net.Snap(stops, speedMps*cutoff.Seconds()), cutoff)
}
