package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transit-planner/internal/config"
	"transit-planner/internal/db"
	"transit-planner/internal/footpath"
	"transit-planner/internal/gtfs"
	"transit-planner/internal/logging"
	"transit-planner/internal/metrics"
	"transit-planner/internal/publisher"
	"transit-planner/internal/scenario"
	"transit-planner/internal/sim"
	"transit-planner/internal/timetable"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	var sc *scenario.Scenario
	day := cfg.ServiceDate
	if cfg.ScenarioPath != "" {
		if sc, err = scenario.Load(cfg.ScenarioPath); err != nil {
			fatal(logger, "load scenario", err)
		}
		day = sc.Day(cfg.Location, day)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.QueryWorkers, cfg.MaxTransfers)
		srv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	var sqlDB *sql.DB
	var currentDBName string
	if cfg.GTFSPath == "" {
		if sqlDB, currentDBName, err = db.Connect(ctx, cfg.DatabaseURL, cfg.City); err != nil {
			fatal(logger, "connect database", err)
		}
		if currentDBName != "" {
			logger.Info("using city database", slog.String("db", currentDBName), slog.String("city", cfg.City))
		}
	}

	snap, err := loadSnapshot(ctx, cfg, sqlDB, day, logger)
	if err != nil {
		fatal(logger, "load timetable", err)
	}

	// Publishing is optional: without NATS the planner only logs and records metrics.
	var pub sim.Publisher
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
		if err != nil {
			fatal(logger, "nats connect", err)
		}
		defer np.Close()
		pub = np
	}

	opts := sim.Options{
		Day:             gtfs.ServiceDay(day, cfg.Location),
		Defaults:        scenario.Defaults{MaxTransfers: cfg.MaxTransfers, ChangeTime: cfg.ChangeTime},
		Workers:         cfg.QueryWorkers,
		MinWalk:         cfg.MinWalk,
		RefreshInterval: cfg.RefreshInterval,
	}
	if url := cfg.TripUpdatesURL; url != "" {
		opts.Cancellations = func(ctx context.Context) ([]timetable.TripID, error) {
			return scenario.FetchCancellations(ctx, url)
		}
	}
	mgr := sim.NewManager(snap, pub, opts, mcol, logger)
	mgr.StartRefresher(ctx)

	// Re-resolve the city database every 30 minutes and reload on a new import.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if sqlDB == nil || cfg.City == "" {
			return
		}
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			newDB, name, err := db.Connect(ctx, cfg.DatabaseURL, cfg.City)
			if err != nil {
				logging.LogError(logger, "resolve latest import", err)
				continue
			}
			if name == currentDBName {
				newDB.Close()
				continue
			}
			logger.Info("detected updated city database",
				slog.String("city", cfg.City), slog.String("from", currentDBName), slog.String("to", name))
			next, err := loadSnapshot(ctx, cfg, newDB, day, logger)
			if err != nil {
				logging.LogError(logger, "reload timetable", err)
				newDB.Close()
				continue
			}
			mgr.Swap(next)
			sqlDB.Close()
			sqlDB, currentDBName = newDB, name
		}
	}()

	if sc != nil {
		start := time.Now()
		if err := mgr.Replay(ctx, sc); err != nil {
			logging.LogError(logger, "scenario interrupted", err)
		} else {
			logging.LogOperation(logger, "scenario_replayed",
				slog.String("name", sc.Name),
				slog.Int("queries", len(sc.Queries)),
				slog.Int("disruptions", len(sc.Disruptions)),
				slog.Duration("duration", time.Since(start)),
			)
		}
		// Nothing left to serve: stop once the scenario has been replayed.
		if srv == nil && opts.Cancellations == nil {
			cancel()
		}
	}

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	<-done
	if sqlDB != nil {
		sqlDB.Close()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

// loadSnapshot reads the schedule for day from the static feed or the
// database and adds footpaths built from OSM when a PBF is configured.
func loadSnapshot(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, day time.Time, logger *slog.Logger) (*timetable.Snapshot, error) {
	var feed *gtfs.Feed
	var err error
	if sqlDB != nil {
		feed, err = db.FetchFeed(ctx, sqlDB, day)
	} else {
		feed, err = gtfs.LoadStatic(cfg.GTFSPath)
	}
	if err != nil {
		return nil, err
	}

	b, sum, err := feed.Builder(day, cfg.Location)
	if err != nil {
		return nil, err
	}
	logging.LogOperation(logger, "feed_loaded",
		slog.String("service_date", day.Format("2006-01-02")),
		slog.Int("stops", len(feed.Stops)),
		slog.Int("trips", sum.Trips),
		slog.Int("skipped_trips", sum.Skipped),
		slog.Int("transfers", sum.Footpaths),
	)

	if cfg.OSMPath != "" {
		start := time.Now()
		rel, err := footpath.BuildFromPBF(ctx, cfg.OSMPath, cfg.WalkSpeedMps, feed.Points(), cfg.WalkCutoff)
		if err != nil {
			return nil, err
		}
		if err := rel.Apply(b); err != nil {
			return nil, err
		}
		st := rel.Stats()
		logging.LogOperation(logger, "footpaths_built",
			slog.Int("stops", st.Stops),
			slog.Int("edges", rel.Len()),
			slog.Int("components", st.Components),
			slog.Duration("duration", time.Since(start)),
		)
	}

	return b.Build()
}

func fatal(logger *slog.Logger, msg string, err error) {
	logging.LogError(logger, msg, err)
	os.Exit(1)
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
