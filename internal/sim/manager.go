package sim

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"transit-planner/internal/logging"
	mmetrics "transit-planner/internal/metrics"
	"transit-planner/internal/publisher"
	"transit-planner/internal/raptor"
	"transit-planner/internal/scenario"
	"transit-planner/internal/timetable"
)

// Publisher receives one message per planned query.
type Publisher interface {
	PublishJourney(msg publisher.JourneyMessage) error
}

// CancellationSource returns trips cancelled by a live feed.
type CancellationSource func(ctx context.Context) ([]timetable.TripID, error)

type Options struct {
	Day             time.Time // start of the service day queries are planned on
	Defaults        scenario.Defaults
	Workers         int
	MinWalk         time.Duration
	RefreshInterval time.Duration
	Cancellations   CancellationSource
}

// Manager owns the current timetable snapshot. Queries read whatever snapshot
// is current when they start; edits build a new snapshot and swap it in.
type Manager struct {
	pub     Publisher
	opts    Options
	metrics *mmetrics.Collector
	logger  *slog.Logger

	snap atomic.Pointer[timetable.Snapshot]
	mu   sync.Mutex // serialises edits

	// Edits applied so far, replayed onto a reloaded timetable.
	disruptions []scenario.Disruption
	cancelled   map[timetable.TripID]struct{}

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(s *timetable.Snapshot, pub Publisher, opts Options, metrics *mmetrics.Collector, logger *slog.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{pub: pub, opts: opts, metrics: metrics, logger: logger, cancelled: make(map[timetable.TripID]struct{})}
	m.store(s)
	return m
}

func (m *Manager) Snapshot() *timetable.Snapshot { return m.snap.Load() }

// Swap replaces the snapshot after the timetable was reloaded. Disruptions and
// cancellations applied so far are applied to s again, and the result is
// numbered one past the current version.
func (m *Manager) Swap(s *timetable.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disruptions {
		s, _ = d.Apply(s, m.opts.Day)
	}
	n := 0
	if len(m.cancelled) > 0 {
		ids := make([]timetable.TripID, 0, len(m.cancelled))
		for id := range m.cancelled {
			ids = append(ids, id)
		}
		s, n = s.CancelTrips(ids...)
	}
	if cur := m.snap.Load(); cur != nil {
		s = s.WithVersion(cur.Version() + 1)
	}
	m.store(s)
	logging.LogOperation(m.logger, "snapshot_swapped",
		slog.Int("disruptions", len(m.disruptions)),
		slog.Int("cancelled_trips", n),
		slog.Uint64("snapshot_version", s.Version()),
	)
}

func (m *Manager) store(s *timetable.Snapshot) {
	m.snap.Store(s)
	if m.metrics == nil || s == nil {
		return
	}
	m.metrics.SnapshotVersion.Set(float64(s.Version()))
	m.metrics.Stops.Set(float64(s.NumStops()))
	m.metrics.Routes.Set(float64(s.NumRoutes()))
	m.metrics.Trips.Set(float64(s.NumTrips()))
	m.metrics.FootpathEdges.Set(float64(s.NumFootpaths()))
	m.metrics.SetReady(true)
}

// Apply applies the disruptions in order and returns how many trips they
// removed.
func (m *Manager) Apply(ds ...scenario.Disruption) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap.Load()
	total := 0
	for _, d := range ds {
		next, n := d.Apply(s, m.opts.Day)
		s = next
		total += n
		m.disruptions = append(m.disruptions, d)
		if m.metrics != nil {
			m.metrics.Disruptions.Inc()
			m.metrics.CancelledTrips.WithLabelValues("scenario").Add(float64(n))
		}
		logging.LogOperation(m.logger, "disruption_applied",
			slog.String("name", d.Name),
			slog.Int("cancelled_trips", n),
			slog.Uint64("snapshot_version", s.Version()),
		)
	}
	m.store(s)
	return total
}

// CancelTrips removes trips reported by source. The snapshot is only replaced
// when at least one trip was still running.
func (m *Manager) CancelTrips(source string, ids []timetable.TripID) int {
	if len(ids) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.cancelled[id] = struct{}{}
	}
	next, n := m.snap.Load().CancelTrips(ids...)
	if n == 0 {
		return 0
	}
	m.store(next)
	if m.metrics != nil {
		m.metrics.CancelledTrips.WithLabelValues(source).Add(float64(n))
	}
	logging.LogOperation(m.logger, "trips_cancelled",
		slog.String("source", source),
		slog.Int("count", n),
		slog.Uint64("snapshot_version", next.Version()),
	)
	return n
}

// Run plans the queries concurrently against the snapshot current at the
// call. Failed queries are logged and counted; Run only returns an error when
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context, queries []scenario.Query) error {
	s := m.snap.Load()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, q := range queries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.plan(s, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Manager) plan(s *timetable.Snapshot, q scenario.Query) {
	req, err := q.Request(m.opts.Day, m.opts.Defaults)
	if err != nil {
		m.fail("config", q, err)
		return
	}
	start := time.Now()
	res, err := raptor.Plan(s, req)
	if err != nil {
		m.fail("plan", q, err)
		return
	}
	elapsed := time.Since(start)

	rounds := 0
	if opt, ok := res.Earliest(); ok {
		rounds = opt.Journey.Boardings()
	}
	if m.metrics != nil {
		m.metrics.ObserveQuery(elapsed, res.Unreachable(), rounds)
	}
	logging.LogOperation(m.logger, "journey_planned",
		slog.String("query_id", q.ID),
		slog.String("source", q.Source),
		slog.String("destination", q.Destination),
		slog.Int("options", len(res.Options)),
		slog.Int("rounds", rounds),
		slog.Duration("duration", elapsed),
	)

	if m.pub == nil {
		return
	}
	msg := publisher.NewJourneyMessage(q.ID, req, s.Version(), res, m.opts.MinWalk)
	if err := m.pub.PublishJourney(msg); err != nil {
		m.fail("publish", q, err)
		return
	}
	if m.metrics != nil {
		m.metrics.JourneysPublished.Inc()
	}
}

func (m *Manager) fail(reason string, q scenario.Query, err error) {
	if m.metrics != nil {
		m.metrics.QueryErrors.WithLabelValues(reason).Inc()
	}
	logging.LogError(m.logger, "query failed", err,
		slog.String("query_id", q.ID),
		slog.String("reason", reason),
	)
}

// Replay runs the scenario in departure order. Each disruption is applied
// once every query departing before it took effect has been planned.
func (m *Manager) Replay(ctx context.Context, sc *scenario.Scenario) error {
	queries := append([]scenario.Query(nil), sc.Queries...)
	sort.SliceStable(queries, func(i, j int) bool {
		return departure(queries[i]) < departure(queries[j])
	})

	i := 0
	for _, d := range sc.Timeline() {
		cut := d.Effective(m.opts.Day).Sub(m.opts.Day)
		j := i
		for j < len(queries) && departure(queries[j]) < cut {
			j++
		}
		if err := m.Run(ctx, queries[i:j]); err != nil {
			return err
		}
		i = j
		m.Apply(d)
	}
	return m.Run(ctx, queries[i:])
}

func departure(q scenario.Query) time.Duration {
	d, _ := scenario.ParseClock(q.Departure)
	return d
}

// StartRefresher polls the cancellation source until ctx is done or Stop is
// called.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.opts.RefreshInterval <= 0 || m.opts.Cancellations == nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		_ = m.Refresh(ctx)
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.Refresh(ctx)
			}
		}
	}()
}

// Refresh fetches cancellations once and applies them.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.opts.Cancellations == nil {
		return nil
	}
	ids, err := m.opts.Cancellations(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.Refreshes.WithLabelValues("error").Inc()
		}
		logging.LogError(m.logger, "gtfs-rt refresh failed", err)
		return err
	}
	if m.metrics != nil {
		m.metrics.Refreshes.WithLabelValues("ok").Inc()
	}
	m.CancelTrips("gtfsrt", ids)
	return nil
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
}
