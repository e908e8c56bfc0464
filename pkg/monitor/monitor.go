package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/action"
	"github.com/ericvolp12/rental-monitor/pkg/bq"
	"github.com/ericvolp12/rental-monitor/pkg/buffer"
	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/ingest"
	"github.com/ericvolp12/rental-monitor/pkg/parq"
	"github.com/ericvolp12/rental-monitor/pkg/poll"
	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/ericvolp12/rental-monitor/pkg/store"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("monitor")

// RecentRentalsSize is how many rentals the recent rentals ticker shows.
const RecentRentalsSize = 10

type Config struct {
	// StatusInterval is how often the push channel status is sampled.
	StatusInterval time.Duration
	// PollInterval drives the indexer collections. Zero means manual refresh only.
	PollInterval time.Duration
	// FetchSize is how many records each collection query asks for.
	FetchSize    int
	FetchTimeout time.Duration
	BufferSize   int
	// QueryRate caps indexer queries per second across all pollers.
	QueryRate float64
}

// Deps are the collaborators the monitor reconciles. Store, Archive, BQ,
// Contracts and Wallet are optional.
type Deps struct {
	Ingest    *ingest.Service
	Source    source.DataSource
	Contracts contract.Contracts
	Wallet    *contract.Wallet
	Store     *store.Store
	Archive   *parq.Archive
	BQ        *bq.BQ
}

type refresher interface {
	Refetch(ctx context.Context) error
	Start(ctx context.Context) *poll.Handle
}

// Monitor keeps a live view of the marketplace: recent push events plus
// polled snapshots of the indexer, reconciled after every confirmed action.
type Monitor struct {
	logger *slog.Logger
	cfg    Config
	deps   Deps

	events        *buffer.Buffer
	notifications *action.Notifications

	rentals       *poll.Adapter[[]source.Rental]
	recentRentals *poll.Adapter[[]source.Rental]
	rentalStats   *poll.Adapter[source.RentalStatistics]
	proposals     *poll.Adapter[[]source.Proposal]
	daoStats      *poll.Adapter[source.DAOStats]
	activity      *poll.Adapter[[]source.Activity]
	status        *poll.Adapter[ingest.Status]

	adapters map[string]refresher

	voteRunner     *action.Runner
	proposalRunner *action.Runner
	rentRunner     *action.Runner
	mintRunner     *action.Runner

	mu           sync.Mutex
	ctx          context.Context
	handles      []*poll.Handle
	lastActivity time.Time
}

func New(logger *slog.Logger, cfg Config, deps Deps) *Monitor {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.FetchSize < 1 {
		cfg.FetchSize = 100
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = buffer.DefaultCap
	}

	logger = logger.With("module", "monitor")

	m := &Monitor{
		logger:        logger,
		cfg:           cfg,
		deps:          deps,
		events:        buffer.New(cfg.BufferSize),
		notifications: action.NewNotifications(action.DefaultNotificationCap),
		ctx:           context.Background(),
	}

	var limiter *rate.Limiter
	if cfg.QueryRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRate), 1)
	}
	opts := poll.Options{
		Interval: cfg.PollInterval,
		Params:   source.Page{First: cfg.FetchSize},
		Timeout:  cfg.FetchTimeout,
		Limiter:  limiter,
	}
	src := deps.Source

	m.rentals = poll.New(logger, "rentals", func(ctx context.Context, p source.Page) ([]source.Rental, error) {
		p.OrderBy, p.OrderDirection = "createdAt", "desc"
		return src.Rentals(ctx, p)
	}, opts)
	m.recentRentals = poll.New(logger, "recent-rentals", func(ctx context.Context, _ source.Page) ([]source.Rental, error) {
		return src.RecentRentals(ctx, RecentRentalsSize)
	}, opts)
	m.rentalStats = poll.New(logger, "rental-stats", func(ctx context.Context, _ source.Page) (source.RentalStatistics, error) {
		return src.RentalStatistics(ctx)
	}, opts)
	m.proposals = poll.New(logger, "proposals", func(ctx context.Context, p source.Page) ([]source.Proposal, error) {
		p.OrderBy, p.OrderDirection = "createdAt", "desc"
		return src.Proposals(ctx, p)
	}, opts)
	m.daoStats = poll.New(logger, "dao", func(ctx context.Context, _ source.Page) (source.DAOStats, error) {
		return src.DAOStats(ctx)
	}, opts)
	m.activity = poll.New(logger, "activity", func(ctx context.Context, p source.Page) ([]source.Activity, error) {
		p.OrderBy, p.OrderDirection = "timestamp", "desc"
		return src.ActivityFeed(ctx, p)
	}, opts)
	m.status = poll.New(logger, "status", func(ctx context.Context, _ source.Page) (ingest.Status, error) {
		return deps.Ingest.Status(), nil
	}, poll.Options{Interval: cfg.StatusInterval})

	m.adapters = map[string]refresher{
		"rentals":        m.rentals,
		"recent-rentals": m.recentRentals,
		"rental-stats":   m.rentalStats,
		"proposals":      m.proposals,
		"dao":            m.daoStats,
		"activity":       m.activity,
		"status":         m.status,
	}

	m.voteRunner = action.NewRunner(logger, m.notifications, m.proposals, m.daoStats)
	m.proposalRunner = action.NewRunner(logger, m.notifications, m.proposals, m.daoStats, m.activity)
	m.rentRunner = action.NewRunner(logger, m.notifications, m.rentals, m.recentRentals, m.rentalStats, m.activity)
	m.mintRunner = action.NewRunner(logger, m.notifications, m.daoStats)

	return m
}

// Start registers the event callbacks, opens the push channel and starts
// every poller. A push channel that cannot be opened is logged and left to
// the status poller and manual reconnects.
func (m *Monitor) Start(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Start")
	defer span.End()

	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.subscribe()

	if !m.deps.Ingest.Initialize(ctx) {
		m.logger.Warn("push channel unavailable, serving polled data only")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.adapters {
		m.handles = append(m.handles, a.Start(ctx))
	}
}

func (m *Monitor) subscribe() {
	m.deps.Ingest.OnAny(m.handleEvent)

	// Push events are hints; the indexer stays the source of truth.
	for _, k := range []events.Kind{events.KindNFTListedForRent, events.KindNFTRented, events.KindRentalCompleted} {
		m.deps.Ingest.On(k, m.refetchOn(m.rentals, m.recentRentals, m.rentalStats))
	}
	for _, k := range []events.Kind{
		events.KindSOMIPaymentReceived,
		events.KindStreamCreated,
		events.KindStreamWithdrawn,
		events.KindMilestoneReached,
		events.KindReputationUpdated,
		events.KindUserVerified,
	} {
		m.deps.Ingest.On(k, m.refetchOn(m.activity))
	}
}

// Reconnect reopens the push channel after it gave up or was disconnected.
func (m *Monitor) Reconnect(ctx context.Context) bool {
	if m.deps.Ingest.Status().Connected {
		return true
	}
	// Disconnect drops callbacks, so a fresh session needs them again.
	if err := m.deps.Ingest.Disconnect(ctx); err != nil {
		m.logger.Warn("failed to close previous session", "err", err)
	}
	m.subscribe()
	ok := m.deps.Ingest.Initialize(ctx)
	_ = m.status.Refetch(ctx)
	return ok
}

func (m *Monitor) refetchOn(adapters ...refresher) ingest.Callback {
	return func(evt events.Event) {
		m.mu.Lock()
		ctx := m.ctx
		m.mu.Unlock()
		for _, a := range adapters {
			go func(a refresher) {
				if err := a.Refetch(ctx); err != nil {
					m.logger.Debug("refetch after push event failed", "kind", evt.Kind, "err", err)
				}
			}(a)
		}
	}
}

func (m *Monitor) handleEvent(evt events.Event) {
	m.mu.Lock()
	m.lastActivity = time.Now()
	ctx := m.ctx
	m.mu.Unlock()

	if !m.events.Add(evt) {
		return
	}

	if m.deps.Store != nil {
		if _, err := m.deps.Store.Record(ctx, evt); err != nil {
			m.logger.Error("failed to store event", "kind", evt.Kind, "id", evt.ID, "err", err)
		}
	}
	if m.deps.Archive != nil {
		if err := m.deps.Archive.Enqueue(evt); err != nil {
			m.logger.Error("failed to archive event", "kind", evt.Kind, "id", evt.ID, "err", err)
		}
	}
	if m.deps.BQ != nil {
		if err := m.deps.BQ.Enqueue(ctx, evt); err != nil {
			m.logger.Warn("failed to queue event for bigquery", "kind", evt.Kind, "id", evt.ID, "err", err)
		}
	}
}

// LastActivity is when the last push event arrived.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Stop halts every poller and closes the push channel. Results of fetches
// still in flight are discarded.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	handles := m.handles
	m.handles = nil
	m.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	return m.deps.Ingest.Disconnect(ctx)
}
