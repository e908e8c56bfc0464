package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ericvolp12/rental-monitor/pkg/buffer"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("ingest")

type Callback func(evt events.Event)

type Config struct {
	URL       string
	Network   string
	Contracts []string
	UserAgent string

	// QueueSize bounds the recent events kept for late subscribers.
	QueueSize int
	// MaxReconnectAttempts stops reconnecting after this many failed dials in
	// a row. Zero retries forever.
	MaxReconnectAttempts int
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	// ReadTimeout closes a channel that has been silent for this long, which
	// then goes through the reconnect policy. Zero disables it.
	ReadTimeout time.Duration
}

type Status struct {
	Connected         bool      `json:"isConnected"`
	Contracts         []string  `json:"contracts"`
	QueueLength       int       `json:"eventQueueLength"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Network           string    `json:"network"`
	LastEvent         time.Time `json:"lastEvent"`
}

// Service owns one push channel connection and fans its events out to the
// callbacks registered per kind.
type Service struct {
	logger *slog.Logger
	cfg    Config
	dialer *websocket.Dialer

	queue *buffer.Buffer

	mu                sync.RWMutex
	conn              *websocket.Conn
	connected         bool
	dialing           bool
	dialAborted       bool
	cancelDial        context.CancelFunc
	callbacks         map[events.Kind][]Callback
	anyCallbacks      []Callback
	reconnectAttempts int
	lastEvent         time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(logger *slog.Logger, cfg Config) *Service {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = buffer.DefaultCap
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rental-monitor/0.1.0"
	}

	return &Service{
		logger:    logger.With("module", "ingest"),
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		queue:     buffer.New(cfg.QueueSize),
		callbacks: map[events.Kind][]Callback{},
	}
}

// Initialize opens the channel. While a session is live it returns the
// current connection state without dialing again. Dial failures are logged
// and reported as false.
func (s *Service) Initialize(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "Initialize")
	defer span.End()

	s.mu.Lock()
	if s.done != nil || s.dialing {
		defer s.mu.Unlock()
		return s.connected
	}
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	s.dialing = true
	s.dialAborted = false
	s.cancelDial = cancelDial
	s.mu.Unlock()

	conn, err := s.dial(dialCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialing = false
	s.cancelDial = nil

	// Disconnect ran while the dial was in flight.
	if s.dialAborted {
		if conn != nil {
			conn.Close()
		}
		s.logger.Info("push channel dial aborted by disconnect", "url", s.cfg.URL)
		return false
	}

	if err != nil {
		s.logger.Error("failed to connect to push channel", "url", s.cfg.URL, "err", err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return false
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connected = true
	s.reconnectAttempts = 0
	s.cancel = cancel
	s.done = make(chan struct{})
	connected.Set(1)

	go s.run(sessCtx, conn, s.done)

	s.logger.Info("connected to push channel", "url", s.cfg.URL, "network", s.cfg.Network)
	return true
}

func (s *Service) dial(ctx context.Context) (*websocket.Conn, error) {
	con, _, err := s.dialer.DialContext(ctx, s.cfg.URL, http.Header{
		"User-Agent": []string{s.cfg.UserAgent},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.cfg.URL, err)
	}
	return con, nil
}

// On registers cb for kind. Callbacks for a kind run in registration order.
func (s *Service) On(kind events.Kind, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[kind] = append(s.callbacks[kind], cb)
}

// OnAny registers cb for every kind. Catch-all callbacks run after the
// kind specific ones.
func (s *Service) OnAny(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyCallbacks = append(s.anyCallbacks, cb)
}

// Disconnect closes the channel, stops reconnecting and drops every
// registered callback. Without a running session it only drops callbacks
// and aborts a dial in flight.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		if s.dialing {
			s.dialAborted = true
			s.cancelDial()
		}
		s.callbacks = map[events.Kind][]Callback{}
		s.anyCallbacks = nil
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	if s.conn != nil {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	}
	s.callbacks = map[events.Kind][]Callback{}
	s.anyCallbacks = nil
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for push channel to close: %w", ctx.Err())
	}

	s.mu.Lock()
	s.conn = nil
	s.connected = false
	s.done = nil
	s.mu.Unlock()
	connected.Set(0)

	s.logger.Info("disconnected from push channel")
	return nil
}

// Status is a snapshot; it never blocks on the network.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make([]string, len(s.cfg.Contracts))
	copy(contracts, s.cfg.Contracts)

	return Status{
		Connected:         s.connected,
		Contracts:         contracts,
		QueueLength:       s.queue.Len(),
		ReconnectAttempts: s.reconnectAttempts,
		Network:           s.cfg.Network,
		LastEvent:         s.lastEvent,
	}
}

// Recent returns the queued events, most recent first.
func (s *Service) Recent() []events.Event {
	return s.queue.Snapshot()
}

var errGaveUp = errors.New("gave up reconnecting")

func (s *Service) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := s.readLoop(conn)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("push channel lost, reconnecting", "err", err)

		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		connected.Set(0)

		conn, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("push channel is down", "err", err)

			// Let a later Initialize start a fresh session.
			s.mu.Lock()
			s.cancel()
			s.done = nil
			s.mu.Unlock()
			return
		}
	}
}

func (s *Service) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectMin
	b.MaxInterval = s.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if s.cfg.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(s.cfg.MaxReconnectAttempts-1))
	}

	var conn *websocket.Conn
	op := func() error {
		s.mu.Lock()
		s.reconnectAttempts++
		attempt := s.reconnectAttempts
		s.mu.Unlock()
		reconnectAttempts.Inc()

		c, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
			return err
		}
		conn = c
		return nil
	}

	// Wait one interval before the first attempt so a flapping server is not
	// hammered.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.ReconnectMin):
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", errGaveUp, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		conn.Close()
		return nil, ctx.Err()
	}
	s.conn = conn
	s.connected = true
	s.reconnectAttempts = 0
	connected.Set(1)
	s.logger.Info("reconnected to push channel")
	return conn, nil
}

func (s *Service) readLoop(conn *websocket.Conn) error {
	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		evt, err := events.ParseFrame(msg)
		if err != nil {
			framesTotal.WithLabelValues("invalid").Inc()
			s.logger.Debug("dropping invalid frame", "err", err)
			continue
		}
		framesTotal.WithLabelValues(string(evt.Kind)).Inc()

		s.dispatch(evt)
	}
}

func (s *Service) dispatch(evt events.Event) {
	s.queue.Add(evt)

	s.mu.Lock()
	s.lastEvent = time.Now()
	cbs := make([]Callback, 0, len(s.callbacks[evt.Kind])+len(s.anyCallbacks))
	cbs = append(cbs, s.callbacks[evt.Kind]...)
	cbs = append(cbs, s.anyCallbacks...)
	s.mu.Unlock()

	for _, cb := range cbs {
		s.invoke(cb, evt)
	}
}

// invoke runs one callback. A panicking callback is logged and skipped; the
// rest still run.
func (s *Service) invoke(cb Callback, evt events.Event) {
	defer func() {
		if r := recover(); r != nil {
			callbackPanics.WithLabelValues(string(evt.Kind)).Inc()
			s.logger.Error("event callback panicked", "kind", evt.Kind, "id", evt.ID, "panic", r)
		}
	}()
	cb(evt)
}
