package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("action")

// ErrBusy is returned when an action is triggered while a previous one is
// still being submitted.
var ErrBusy = errors.New("action already in progress")

type State int

const (
	Idle State = iota
	Submitting
)

func (s State) String() string {
	if s == Submitting {
		return "submitting"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Refetcher reloads a view of authoritative state. poll.Adapter satisfies it.
type Refetcher interface {
	Refetch(ctx context.Context) error
}

// Submit issues one contract write.
type Submit func(ctx context.Context) (contract.Tx, error)

type Result struct {
	Action      string `json:"action"`
	TxHash      string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Runner drives a single control through idle, submitting and back. It owns
// the re-entrancy guard for that control.
type Runner struct {
	logger        *slog.Logger
	notifications *Notifications
	waitTimeout   time.Duration

	mu         sync.Mutex
	state      State
	refetchers []Refetcher
}

// NewRunner returns an idle runner. notifications may be nil.
func NewRunner(logger *slog.Logger, notifications *Notifications, refetchers ...Refetcher) *Runner {
	return &Runner{
		logger:        logger.With("module", "action"),
		notifications: notifications,
		waitTimeout:   5 * time.Minute,
		refetchers:    refetchers,
	}
}

// Register adds views that are reloaded after every settled action.
func (r *Runner) Register(rf ...Refetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refetchers = append(r.refetchers, rf...)
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run submits fn and waits for confirmation. Confirmed or failed, the
// registered views are refetched before the runner returns to idle. Failures
// are recorded as notifications and never retried.
func (r *Runner) Run(ctx context.Context, name string, fn Submit) (Result, error) {
	r.mu.Lock()
	if r.state == Submitting {
		r.mu.Unlock()
		runsTotal.WithLabelValues(name, "busy").Inc()
		return Result{}, ErrBusy
	}
	r.state = Submitting
	refetchers := make([]Refetcher, len(r.refetchers))
	copy(refetchers, r.refetchers)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = Idle
		r.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("action", name))

	res, err := r.submit(ctx, name, fn)

	r.refetch(ctx, refetchers)

	if err != nil {
		runsTotal.WithLabelValues(name, "failed").Inc()
		span.SetAttributes(attribute.String("error", err.Error()))
		r.logger.Error("action failed", "action", name, "err", err)
		r.notify(LevelError, name, err.Error(), res.TxHash, err)
		return res, err
	}

	runsTotal.WithLabelValues(name, "confirmed").Inc()
	r.logger.Info("action confirmed", "action", name, "tx", res.TxHash, "block", res.BlockNumber)
	r.notify(LevelSuccess, name, fmt.Sprintf("%s confirmed", name), res.TxHash, nil)
	return res, nil
}

func (r *Runner) submit(ctx context.Context, name string, fn Submit) (Result, error) {
	res := Result{Action: name}

	tx, err := fn(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to submit %s: %w", name, err)
	}
	res.TxHash = tx.Hash()

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	receipt, err := tx.Wait(waitCtx)
	if err != nil {
		return res, fmt.Errorf("%s was not confirmed: %w", name, err)
	}
	res.BlockNumber = receipt.BlockNumber
	return res, nil
}

func (r *Runner) refetch(ctx context.Context, refetchers []Refetcher) {
	for _, rf := range refetchers {
		if err := rf.Refetch(ctx); err != nil {
			r.logger.Warn("failed to refetch after action", "err", err)
		}
	}
}

func (r *Runner) notify(level Level, name, msg, tx string, err error) {
	if r.notifications == nil {
		return
	}
	n := Notification{Level: level, Action: name, Message: msg, TxHash: tx}
	if err != nil {
		d := contract.Diagnose(err)
		n.Diagnostic = &d
	}
	r.notifications.Add(n)
}

func Vote(c contract.Contracts, proposalID int64, support bool) Submit {
	return func(ctx context.Context) (contract.Tx, error) {
		return c.Vote(ctx, proposalID, support)
	}
}

func CreateProposal(c contract.Contracts, req contract.ProposalRequest) Submit {
	return func(ctx context.Context) (contract.Tx, error) {
		return c.CreateProposal(ctx, req)
	}
}

func ExecuteProposal(c contract.Contracts, proposalID int64) Submit {
	return func(ctx context.Context) (contract.Tx, error) {
		return c.ExecuteProposal(ctx, proposalID)
	}
}

func RentNFT(c contract.Contracts, req contract.RentRequest) Submit {
	return func(ctx context.Context) (contract.Tx, error) {
		return c.RentNFT(ctx, req)
	}
}

func MintGovernanceToken(c contract.Contracts, to string, amount decimal.Decimal) Submit {
	return func(ctx context.Context) (contract.Tx, error) {
		return c.MintGovernanceToken(ctx, to, amount)
	}
}
