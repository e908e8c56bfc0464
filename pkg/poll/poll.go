package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/source"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("poll")

// ErrStopped is returned by Refetch once the adapter has been stopped.
var ErrStopped = errors.New("poller stopped")

// Fetcher loads one snapshot of a collection.
type Fetcher[T any] func(ctx context.Context, params source.Page) (T, error)

// State is a point-in-time copy of what the adapter knows.
type State[T any] struct {
	Data      T
	Loading   bool
	Err       error
	UpdatedAt time.Time
}

type Options struct {
	// Interval between scheduled fetches. Zero disables the schedule and
	// leaves only manual refetches.
	Interval time.Duration
	Params   source.Page
	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration
	// Limiter throttles fetches against a shared endpoint. Optional.
	Limiter *rate.Limiter
	// Lazy skips the immediate fetch when the schedule starts.
	Lazy bool
}

// Adapter wraps a Fetcher into data, loading, error and refetch. At most one
// fetch is in flight at a time; concurrent refetches share its result.
type Adapter[T any] struct {
	logger *slog.Logger
	name   string
	fetch  Fetcher[T]

	timeout time.Duration
	limiter *rate.Limiter
	lazy    bool

	group singleflight.Group

	mu       sync.RWMutex
	interval time.Duration
	params   source.Page
	state    State[T]
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	handle   *Handle
	reset    chan struct{}
}

func New[T any](logger *slog.Logger, name string, fetch Fetcher[T], opts Options) *Adapter[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter[T]{
		logger:   logger.With("module", "poll", "adapter", name),
		name:     name,
		fetch:    fetch,
		timeout:  opts.Timeout,
		limiter:  opts.Limiter,
		lazy:     opts.Lazy,
		interval: opts.Interval,
		params:   opts.Params,
		ctx:      ctx,
		cancel:   cancel,
		reset:    make(chan struct{}, 1),
	}
}

func (a *Adapter[T]) Name() string {
	return a.name
}

// Configure changes the schedule and query parameters. A running schedule
// picks up the new interval immediately.
func (a *Adapter[T]) Configure(interval time.Duration, params source.Page) {
	a.mu.Lock()
	a.interval = interval
	a.params = params
	a.mu.Unlock()

	select {
	case a.reset <- struct{}{}:
	default:
	}
}

func (a *Adapter[T]) State() State[T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Refetch fetches immediately, outside the schedule. If a fetch is already in
// flight the caller waits for that one instead of issuing another.
func (a *Adapter[T]) Refetch(ctx context.Context) error {
	ch := a.group.DoChan(a.name, func() (interface{}, error) {
		return nil, a.fetchOnce()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter[T]) fetchOnce() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	a.state.Loading = true
	params := a.params
	ctx := a.ctx
	a.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("adapter", a.name))

	start := time.Now()
	data, err := a.doFetch(ctx, params)
	fetchDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())

	a.mu.Lock()
	defer a.mu.Unlock()

	// The owner stopped while we were waiting; drop the result.
	if a.stopped {
		return ErrStopped
	}

	a.state.Loading = false
	if err != nil {
		fetchesTotal.WithLabelValues(a.name, "error").Inc()
		a.logger.Warn("fetch failed, keeping previous data", "err", err)
		a.state.Err = err
		return err
	}

	fetchesTotal.WithLabelValues(a.name, "ok").Inc()
	a.state.Data = data
	a.state.Err = nil
	a.state.UpdatedAt = time.Now()
	return nil
}

func (a *Adapter[T]) doFetch(ctx context.Context, params source.Page) (T, error) {
	var zero T

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	return a.fetch(ctx, params)
}

// Handle controls a running schedule.
type Handle struct {
	stop func()
	once sync.Once
	done chan struct{}
}

// Stop cancels the schedule and any in-flight fetch. No fetch is issued and no
// result is applied after Stop returns.
func (h *Handle) Stop() {
	h.once.Do(h.stop)
	<-h.done
}

// Start runs the schedule until ctx is done or Stop is called. Calling Start
// again returns the existing handle while its schedule runs; once ctx ends
// the schedule, Start begins a new one.
func (a *Adapter[T]) Start(ctx context.Context) *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil {
		return a.handle
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	h := &Handle{done: make(chan struct{})}
	h.stop = func() {
		a.mu.Lock()
		a.stopped = true
		a.state.Loading = false
		a.mu.Unlock()
		loopCancel()
		a.cancel()
	}
	a.handle = h

	go a.run(loopCtx, h)

	return h
}

func (a *Adapter[T]) run(ctx context.Context, h *Handle) {
	defer func() {
		a.mu.Lock()
		// A stopped adapter keeps its handle so Start stays a no-op.
		if a.handle == h && !a.stopped {
			a.handle = nil
		}
		a.mu.Unlock()
		close(h.done)
	}()

	a.logger.Info("starting poller")

	if !a.lazy {
		a.Refetch(ctx)
	}

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	schedule := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		a.mu.RLock()
		interval := a.interval
		a.mu.RUnlock()
		if interval > 0 {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
	}
	schedule()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("poller shut down")
			return
		case <-a.reset:
			schedule()
		case <-tick:
			// Stop may have raced the tick.
			if ctx.Err() != nil {
				return
			}
			a.Refetch(ctx)
		}
	}
}
