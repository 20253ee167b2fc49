package gtfs

import (
	"fmt"
	"os"

	"github.com/jamespfennell/gtfs"
)

// LoadStatic reads a GTFS zip archive from disk.
func LoadStatic(path string) (*Feed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading local GTFS file: %w", err)
	}
	return ParseStatic(b)
}

// ParseStatic parses the bytes of a GTFS zip archive.
func ParseStatic(b []byte) (*Feed, error) {
	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return fromStatic(staticData), nil
}

func fromStatic(staticData *gtfs.Static) *Feed {
	f := &Feed{}
	for _, s := range staticData.Stops {
		stop := Stop{StopID: s.Id, Name: s.Name}
		if s.Latitude != nil {
			stop.Lat = *s.Latitude
		}
		if s.Longitude != nil {
			stop.Lon = *s.Longitude
		}
		if s.Parent != nil {
			stop.ParentStation = s.Parent.Id
		}
		f.Stops = append(f.Stops, stop)
	}

	for _, s := range staticData.Services {
		f.Services = append(f.Services, Service{
			ServiceID: s.Id,
			Weekdays:  [7]bool{s.Sunday, s.Monday, s.Tuesday, s.Wednesday, s.Thursday, s.Friday, s.Saturday},
			Start:     s.StartDate,
			End:       s.EndDate,
			Added:     s.AddedDates,
			Removed:   s.RemovedDates,
		})
	}

	for _, t := range staticData.Trips {
		trip := Trip{TripID: t.ID}
		if t.Route != nil {
			trip.RouteID = t.Route.Id
		}
		if t.Service != nil {
			trip.ServiceID = t.Service.Id
		}
		f.Trips = append(f.Trips, trip)

		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			f.StopTimes = append(f.StopTimes, StopTime{
				TripID:       t.ID,
				StopSequence: st.StopSequence,
				ArrivalSec:   int(st.ArrivalTime.Seconds()),
				DepartureSec: int(st.DepartureTime.Seconds()),
				StopID:       st.Stop.Id,
			})
		}
	}

	for _, tr := range staticData.Transfers {
		if tr.From == nil || tr.To == nil || tr.MinTransferTime == nil {
			continue
		}
		f.Transfers = append(f.Transfers, Transfer{
			FromStopID:     tr.From.Id,
			ToStopID:       tr.To.Id,
			MinTransferSec: int(*tr.MinTransferTime),
		})
	}
	return f
}
