package scenario

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transit-planner/internal/timetable"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// FetchFeed downloads a GTFS-Realtime protobuf payload.
func FetchFeed(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch gtfs-rt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch gtfs-rt: unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gtfs-rt: %w", err)
	}
	return b, nil
}

// ParseCancellations returns the ids of trips a trip-updates feed marks as
// cancelled, sorted and without duplicates.
func ParseCancellations(b []byte) ([]timetable.TripID, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("decode gtfs-rt: %w", err)
	}
	seen := make(map[timetable.TripID]bool)
	var out []timetable.TripID
	for _, e := range fm.GetEntity() {
		if e.GetIsDeleted() {
			continue
		}
		trip := e.GetTripUpdate().GetTrip()
		if trip.GetScheduleRelationship() != gtfsrtpb.TripDescriptor_CANCELED {
			continue
		}
		id := timetable.TripID(trip.GetTripId())
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FetchCancellations downloads a trip-updates feed and returns its cancelled
// trips.
func FetchCancellations(ctx context.Context, url string) ([]timetable.TripID, error) {
	b, err := FetchFeed(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseCancellations(b)
}
