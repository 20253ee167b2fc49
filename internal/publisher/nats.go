package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-planner/internal/raptor"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
	close       func()
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-planner"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logSubjects, m, logger)
	p.close = func() {
		_ = nc.Drain()
		nc.Close()
	}
	return p, nil
}

func newPublisher(nc conn, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

type LegMessage struct {
	Kind      raptor.LegKind `json:"kind"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	RouteID   string         `json:"routeId,omitempty"`
	TripID    string         `json:"tripId,omitempty"`
	Departure time.Time      `json:"departure"`
	Arrival   time.Time      `json:"arrival"`
}

type OptionMessage struct {
	Rounds    int          `json:"rounds"`
	Transfers int          `json:"transfers"`
	Start     time.Time    `json:"start"`
	Arrival   time.Time    `json:"arrival"`
	Legs      []LegMessage `json:"legs"`
}

// JourneyMessage is the result of one query: every Pareto option, fewest
// boardings first. An empty Options list means unreachable.
type JourneyMessage struct {
	QueryID         string          `json:"queryId"`
	Source          string          `json:"source"`
	Destination     string          `json:"destination"`
	Departure       time.Time       `json:"departure"`
	SnapshotVersion uint64          `json:"snapshotVersion"`
	PlannedAt       time.Time       `json:"plannedAt"`
	Options         []OptionMessage `json:"options"`
}

// NewJourneyMessage renders a planner result. Walks of at most minWalk between
// two rides are left out.
func NewJourneyMessage(queryID string, req raptor.Request, version uint64, res raptor.Result, minWalk time.Duration) JourneyMessage {
	msg := JourneyMessage{
		QueryID:         queryID,
		Source:          string(req.Source),
		Destination:     string(req.Destination),
		Departure:       req.Departure,
		SnapshotVersion: version,
		PlannedAt:       time.Now().UTC(),
		Options:         make([]OptionMessage, 0, len(res.Options)),
	}
	for _, opt := range res.Options {
		j := opt.Journey.WithoutShortWalks(minWalk)
		om := OptionMessage{
			Rounds:    opt.Rounds,
			Transfers: j.Transfers(),
			Start:     j.Start(),
			Arrival:   opt.Arrival,
			Legs:      make([]LegMessage, 0, len(j.Legs)),
		}
		for _, l := range j.Legs {
			om.Legs = append(om.Legs, LegMessage{
				Kind:      l.Kind,
				From:      string(l.From),
				To:        string(l.To),
				RouteID:   string(l.Route),
				TripID:    string(l.Trip),
				Departure: l.Departure,
				Arrival:   l.Arrival,
			})
		}
		msg.Options = append(msg.Options, om)
	}
	return msg
}

func (p *NATSPublisher) Subject(source, destination string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(source), subjectToken(destination))
}

func (p *NATSPublisher) PublishJourney(msg JourneyMessage) error {
	subject := p.Subject(msg.Source, msg.Destination)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Info("nats publish", slog.String("subject", subject))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
