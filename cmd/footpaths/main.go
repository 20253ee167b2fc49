package main

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"transit-planner/internal/config"
	"transit-planner/internal/db"
	"transit-planner/internal/footpath"
	"transit-planner/internal/gtfs"
	"transit-planner/internal/logging"
)

// footpaths builds walking transfers between stops from an OSM extract. With a
// database configured they replace the walking rows of the transfers table;
// with a static feed they are written to stdout as GTFS transfers.txt.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "build footpaths", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.OSMPath == "" {
		return errors.New("OSM_PBF_PATH must be set")
	}

	var points []footpath.StopPoint
	if cfg.GTFSPath != "" {
		feed, err := gtfs.LoadStatic(cfg.GTFSPath)
		if err != nil {
			return err
		}
		points = feed.Points()
	} else {
		conn, name, err := db.Connect(ctx, cfg.DatabaseURL, cfg.City)
		if err != nil {
			return err
		}
		defer conn.Close()
		if name != "" {
			logger.Info("using city database", slog.String("db", name), slog.String("city", cfg.City))
		}
		stops, err := db.FetchStops(ctx, conn)
		if err != nil {
			return err
		}
		feed := gtfs.Feed{Stops: stops}
		points = feed.Points()

		rel, err := build(ctx, cfg, points, logger)
		if err != nil {
			return err
		}
		n, err := db.SaveFootpaths(ctx, conn, rel.Edges())
		if err != nil {
			return err
		}
		logging.LogOperation(logger, "footpaths_saved", slog.Int("rows", n))
		return nil
	}

	rel, err := build(ctx, cfg, points, logger)
	if err != nil {
		return err
	}
	return writeTransfers(rel.Edges())
}

func build(ctx context.Context, cfg *config.Config, points []footpath.StopPoint, logger *slog.Logger) (*footpath.Relation, error) {
	start := time.Now()
	rel, err := footpath.BuildFromPBF(ctx, cfg.OSMPath, cfg.WalkSpeedMps, points, cfg.WalkCutoff)
	if err != nil {
		return nil, err
	}
	st := rel.Stats()
	logging.LogOperation(logger, "footpaths_built",
		slog.Int("stops", st.Stops),
		slog.Int("candidates", st.Candidates),
		slog.Int("direct", st.Direct),
		slog.Int("closure", st.Closure),
		slog.Int("components", st.Components),
		slog.Int("edges", rel.Len()),
		slog.Duration("cutoff", cfg.WalkCutoff),
		slog.Duration("duration", time.Since(start)),
	)
	return rel, nil
}

func writeTransfers(edges []footpath.Edge) error {
	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"from_stop_id", "to_stop_id", "transfer_type", "min_transfer_time"})
	for _, e := range edges {
		_ = w.Write([]string{string(e.From), string(e.To), "2", strconv.Itoa(seconds(e.Duration))})
	}
	w.Flush()
	return w.Error()
}

func seconds(d time.Duration) int { return int(d / time.Second) }
