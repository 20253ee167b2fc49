package metrics

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg   *prometheus.Registry
	ready atomic.Bool

	Queries     prometheus.Counter
	Unreachable prometheus.Counter
	QueryErrors *prometheus.CounterVec // reason label: config|plan|publish

	QueryDuration prometheus.Histogram
	RoundsUsed    prometheus.Histogram

	JourneysPublished prometheus.Counter
	NATSPublished     prometheus.Counter
	NATSPublishErrs   prometheus.Counter
	NATSConnected     prometheus.Gauge
	PublishDuration   prometheus.Histogram

	SnapshotVersion prometheus.Gauge
	CancelledTrips  *prometheus.CounterVec // source label: scenario|gtfsrt
	Disruptions     prometheus.Counter
	Refreshes       *prometheus.CounterVec // result label: ok|error

	Stops         prometheus.Gauge
	Routes        prometheus.Gauge
	Trips         prometheus.Gauge
	FootpathEdges prometheus.Gauge

	QueryWorkers prometheus.Gauge
	MaxTransfers prometheus.Gauge
}

func NewCollector(queryWorkers, maxTransfers int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_queries_total",
			Help: "Total journey queries planned.",
		}),
		Unreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_unreachable_total",
			Help: "Queries whose destination could not be reached.",
		}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_query_errors_total",
			Help: "Queries that failed.",
		}, []string{"reason"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_query_duration_seconds",
			Help:    "Time spent in a single planner call.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		RoundsUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_rounds_used",
			Help:    "Boardings of the earliest-arriving journey per query.",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),
		JourneysPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_journeys_published_total",
			Help: "Journey results handed to the publisher.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_version",
			Help: "Version of the timetable snapshot queries run against.",
		}),
		CancelledTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_cancelled_trips_total",
			Help: "Trips removed from the timetable by disruptions.",
		}, []string{"source"}),
		Disruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_disruptions_applied_total",
			Help: "Disruptions applied to the timetable.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_gtfsrt_refreshes_total",
			Help: "GTFS-Realtime polls by result.",
		}, []string{"result"}),
		Stops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_stops",
			Help: "Stops in the current snapshot.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_routes",
			Help: "Route patterns in the current snapshot.",
		}),
		Trips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_trips",
			Help: "Trips in the current snapshot.",
		}),
		FootpathEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_footpath_edges",
			Help: "Directed footpaths in the current snapshot.",
		}),
		QueryWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_query_workers",
			Help: "Queries planned concurrently.",
		}),
		MaxTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_max_transfers",
			Help: "Default transfer limit per query.",
		}),
	}

	reg.MustRegister(
		c.Queries, c.Unreachable, c.QueryErrors,
		c.QueryDuration, c.RoundsUsed,
		c.JourneysPublished, c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.SnapshotVersion, c.CancelledTrips, c.Disruptions, c.Refreshes,
		c.Stops, c.Routes, c.Trips, c.FootpathEdges,
		c.QueryWorkers, c.MaxTransfers,
	)

	c.QueryWorkers.Set(float64(queryWorkers))
	c.MaxTransfers.Set(float64(maxTransfers))

	return c
}

// SetReady marks the service healthy once a snapshot is loaded.
func (c *Collector) SetReady(ready bool) { c.ready.Store(ready) }

// ObserveQuery records one planner call.
func (c *Collector) ObserveQuery(d time.Duration, unreachable bool, rounds int) {
	c.Queries.Inc()
	c.QueryDuration.Observe(d.Seconds())
	if unreachable {
		c.Unreachable.Inc()
		return
	}
	c.RoundsUsed.Observe(float64(rounds))
}

func (c *Collector) Handler() http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if !c.ready.Load() {
			http.Error(w, "no timetable loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

// Serve starts an HTTP server exposing /metrics and /healthz on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: c.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}
