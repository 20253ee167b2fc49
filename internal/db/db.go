package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"transit-planner/internal/footpath"
	"transit-planner/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchFeed loads the rows of every trip running on day. The returned feed
// carries no calendar: it is already restricted to the service day.
func FetchFeed(ctx context.Context, db *sql.DB, day time.Time) (*gtfs.Feed, error) {
	serviceIDs, err := fetchActiveServiceIDs(ctx, db, day)
	if err != nil {
		return nil, err
	}
	f := &gtfs.Feed{}
	if f.Stops, err = FetchStops(ctx, db); err != nil {
		return nil, err
	}
	if len(serviceIDs) == 0 {
		return f, nil
	}
	if f.Trips, err = fetchTrips(ctx, db, serviceIDs); err != nil {
		return nil, err
	}
	if f.StopTimes, err = fetchStopTimes(ctx, db, serviceIDs); err != nil {
		return nil, err
	}
	if f.Transfers, err = fetchTransfers(ctx, db); err != nil {
		return nil, err
	}
	return f, nil
}

func fetchActiveServiceIDs(ctx context.Context, db *sql.DB, day time.Time) ([]string, error) {
	date := day.Format("2006-01-02")
	dow := int(day.Weekday()) // 0=Sunday

	// calendar has booleans (0/1). calendar_dates has exception_type (1 add, 2 remove)
	q := `
WITH base AS (
  SELECT service_id
  FROM calendar
  WHERE start_date <= $1::date AND end_date >= $1::date
    AND (
      ($2 = 0 AND (sunday::text IN ('1','t','true','available'))) OR
      ($2 = 1 AND (monday::text IN ('1','t','true','available'))) OR
      ($2 = 2 AND (tuesday::text IN ('1','t','true','available'))) OR
      ($2 = 3 AND (wednesday::text IN ('1','t','true','available'))) OR
      ($2 = 4 AND (thursday::text IN ('1','t','true','available'))) OR
      ($2 = 5 AND (friday::text IN ('1','t','true','available'))) OR
      ($2 = 6 AND (saturday::text IN ('1','t','true','available')))
    )
), add_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('1','added'))
), rm_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('2','removed'))
), merged AS (
  SELECT service_id FROM base
  UNION
  SELECT service_id FROM add_exc
)
SELECT DISTINCT service_id FROM merged
WHERE service_id NOT IN (SELECT service_id FROM rm_exc)
`

	rows, err := db.QueryContext(ctx, q, date, dow)
	if err != nil {
		return nil, fmt.Errorf("query active services: %w", err)
	}
	defer rows.Close()
	var svc []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		svc = append(svc, s)
	}
	return svc, rows.Err()
}

// FetchStops returns every stop with its coordinates, read from stop_lat and
// stop_lon or from the PostGIS stop_loc column.
func FetchStops(ctx context.Context, db *sql.DB) ([]gtfs.Stop, error) {
	cols, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var q string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		q = `SELECT stop_id, COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0),
                    COALESCE(parent_station, '')
             FROM stops ORDER BY stop_id`
	case cols["stop_loc"]:
		q = `SELECT stop_id, COALESCE(stop_name, ''),
                    COALESCE(ST_Y(stop_loc::geometry), 0),
                    COALESCE(ST_X(stop_loc::geometry), 0),
                    COALESCE(parent_station, '')
             FROM stops ORDER BY stop_id`
	default:
		return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	var stops []gtfs.Stop
	for rows.Next() {
		var s gtfs.Stop
		if err := rows.Scan(&s.StopID, &s.Name, &s.Lat, &s.Lon, &s.ParentStation); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func fetchTrips(ctx context.Context, db *sql.DB, serviceIDs []string) ([]gtfs.Trip, error) {
	q := `SELECT trip_id, route_id, service_id FROM trips WHERE service_id = ANY($1)`
	rows, err := db.QueryContext(ctx, q, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()
	var trips []gtfs.Trip
	for rows.Next() {
		var t gtfs.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func fetchStopTimes(ctx context.Context, db *sql.DB, serviceIDs []string) ([]gtfs.StopTime, error) {
	// arrival_time and departure_time may be stored as text or interval
	q := `
SELECT st.trip_id, st.stop_sequence,
       COALESCE(st.arrival_time::text, st.departure_time::text, ''),
       COALESCE(st.departure_time::text, st.arrival_time::text, ''),
       st.stop_id
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
WHERE t.service_id = ANY($1)
ORDER BY st.trip_id, st.stop_sequence`
	rows, err := db.QueryContext(ctx, q, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []gtfs.StopTime
	for rows.Next() {
		var st gtfs.StopTime
		var arr, dep string
		if err := rows.Scan(&st.TripID, &st.StopSequence, &arr, &dep, &st.StopID); err != nil {
			return nil, err
		}
		st.ArrivalSec = gtfs.ParseDaySeconds(arr)
		st.DepartureSec = gtfs.ParseDaySeconds(dep)
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

func fetchTransfers(ctx context.Context, db *sql.DB) ([]gtfs.Transfer, error) {
	cols, err := hasColumns(ctx, db, "public", "transfers", "min_transfer_time")
	if err != nil {
		return nil, fmt.Errorf("introspect transfers columns: %w", err)
	}
	if !cols["min_transfer_time"] {
		return nil, nil
	}
	q := `SELECT from_stop_id, to_stop_id, min_transfer_time
          FROM transfers
          WHERE min_transfer_time IS NOT NULL AND from_stop_id <> to_stop_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()
	var out []gtfs.Transfer
	for rows.Next() {
		var t gtfs.Transfer
		if err := rows.Scan(&t.FromStopID, &t.ToStopID, &t.MinTransferSec); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveFootpaths replaces the walking transfers (transfer_type 2) with edges in
// one transaction and returns the number of rows written.
func SaveFootpaths(ctx context.Context, db *sql.DB, edges []footpath.Edge) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transfers tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfers WHERE transfer_type = 2`); err != nil {
		return 0, fmt.Errorf("clear transfers: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO transfers (from_stop_id, to_stop_id, transfer_type, min_transfer_time)
VALUES ($1, $2, 2, $3)`)
	if err != nil {
		return 0, fmt.Errorf("prepare transfers insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, string(e.From), string(e.To), int(e.Duration/time.Second)); err != nil {
			return 0, fmt.Errorf("insert transfer %s->%s: %w", e.From, e.To, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transfers: %w", err)
	}
	return len(edges), nil
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
