package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/action"
	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/ingest"
	"github.com/ericvolp12/rental-monitor/pkg/poll"
	"github.com/ericvolp12/rental-monitor/pkg/project"
	"github.com/ericvolp12/rental-monitor/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// RegisterRoutes mounts the monitor API on e.
func (m *Monitor) RegisterRoutes(e *echo.Echo) {
	e.GET("/events", m.HandleGetEvents)
	e.GET("/rentals", m.HandleGetRentals)
	e.GET("/rentals/stats", m.HandleGetRentalStats)
	e.GET("/rentals/recent", m.HandleGetRecentRentals)
	e.GET("/proposals", m.HandleGetProposals)
	e.GET("/proposals/count", m.HandleGetProposalCount)
	e.GET("/proposals/:id", m.HandleGetProposal)
	e.GET("/reputation/:user", m.HandleGetReputation)
	e.GET("/streams/:id", m.HandleGetStream)
	e.GET("/dao/stats", m.HandleGetDAOStats)
	e.GET("/activity", m.HandleGetActivity)
	e.GET("/status", m.HandleGetStatus)
	e.GET("/notifications", m.HandleGetNotifications)
	e.DELETE("/notifications/:id", m.HandleDismissNotification)

	e.POST("/proposals", m.HandleCreateProposal)
	e.POST("/proposals/:id/vote", m.HandleVote)
	e.POST("/proposals/:id/execute", m.HandleExecuteProposal)
	e.POST("/rentals", m.HandleRentNFT)
	e.POST("/governance/mint", m.HandleMint)

	e.POST("/refresh/:name", m.HandleRefresh)
	e.POST("/ingest/reconnect", m.HandleReconnect)

	e.GET("/wallet", m.HandleGetWallet)
	e.POST("/wallet/connect", m.HandleConnectWallet)
	e.POST("/wallet/disconnect", m.HandleDisconnectWallet)
}

// HTTPErrorHandler renders every unhandled error, including recovered
// panics, as the JSON fallback so one broken view never takes the others down.
func (m *Monitor) HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "something went wrong rendering this view, retry or reload the page"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if code >= http.StatusInternalServerError {
		m.logger.Error("request failed", "path", c.Path(), "err", err)
	}

	if err := c.JSON(code, ErrorResponse{Error: msg}); err != nil {
		m.logger.Error("failed to write error response", "err", err)
	}
}

func badRequest(c echo.Context, format string, args ...any) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

func withState[T, V any](resp ListResponse[V], st poll.State[T]) ListResponse[V] {
	resp.Loading = st.Loading
	resp.UpdatedAt = st.UpdatedAt
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// HandleGetEvents handles the GET /events endpoint. Events come from the
// in-memory buffer unless store=true asks for persisted history.
func (m *Monitor) HandleGetEvents(c echo.Context) error {
	// Projection parameters: search, category, status, sort, dir, page, page_size
	// Store filters (store=true): kind, contract, tx, block
	q, err := project.ParseQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, "%s", err)
	}

	items := m.events.Snapshot()

	if c.QueryParam("store") == "true" {
		if m.deps.Store == nil {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "event store is not enabled"})
		}

		sq := store.Query{Limit: 1000}
		if kind := c.QueryParam("kind"); kind != "" {
			k := events.Kind(kind)
			if !k.Valid() {
				return badRequest(c, "invalid kind: %q", kind)
			}
			sq.Kind = &k
		}
		if ct := c.QueryParam("contract"); ct != "" {
			sq.Contract = &ct
		}
		if tx := c.QueryParam("tx"); tx != "" {
			sq.TxHash = &tx
		}
		if blockParam := c.QueryParam("block"); blockParam != "" {
			block, err := strconv.ParseUint(blockParam, 10, 64)
			if err != nil {
				return badRequest(c, "invalid block number: %s", err)
			}
			sq.Block = &block
		}

		items, err = m.deps.Store.Events(c.Request().Context(), sq)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
	}

	return c.JSON(http.StatusOK, list(items, q, eventView(time.Now())))
}

func (m *Monitor) HandleGetRentals(c echo.Context) error {
	q, err := project.ParseQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, "%s", err)
	}
	st := m.rentals.State()
	return c.JSON(http.StatusOK, withState(list(st.Data, q, rentalView(time.Now())), st))
}

func (m *Monitor) HandleGetProposals(c echo.Context) error {
	q, err := project.ParseQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, "%s", err)
	}
	st := m.proposals.State()
	return c.JSON(http.StatusOK, withState(list(st.Data, q, proposalView), st))
}

func (m *Monitor) HandleGetActivity(c echo.Context) error {
	q, err := project.ParseQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, "%s", err)
	}
	st := m.activity.State()
	return c.JSON(http.StatusOK, withState(list(st.Data, q, activityView(time.Now())), st))
}

// HandleGetRecentRentals serves the newest rentals in indexer order.
func (m *Monitor) HandleGetRecentRentals(c echo.Context) error {
	st := m.recentRentals.State()
	view := rentalView(time.Now())
	resp := ListResponse[RentalView]{
		Items:    make([]RentalView, len(st.Data)),
		Total:    len(st.Data),
		PageSize: RecentRentalsSize,
	}
	for i, r := range st.Data {
		resp.Items[i] = view(r)
	}
	return c.JSON(http.StatusOK, withState(resp, st))
}

// readError maps a failed contract read to a response.
func (m *Monitor) readError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, contract.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, contract.ErrInvalidAddress):
		return badRequest(c, "%s", err)
	}
	m.logger.Warn("contract read failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
}

func (m *Monitor) noRelayer(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no transaction relayer configured"})
}

// HandleGetProposal reads a proposal straight from the DAO contract, which
// can be ahead of the indexer right after a vote.
func (m *Monitor) HandleGetProposal(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return badRequest(c, "%s", err)
	}
	if m.deps.Contracts == nil {
		return m.noRelayer(c)
	}
	p, err := m.deps.Contracts.GetProposal(c.Request().Context(), id)
	if err != nil {
		return m.readError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (m *Monitor) HandleGetProposalCount(c echo.Context) error {
	if m.deps.Contracts == nil {
		return m.noRelayer(c)
	}
	n, err := m.deps.Contracts.TotalProposals(c.Request().Context())
	if err != nil {
		return m.readError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"total": n})
}

type ReputationResponse struct {
	User  string `json:"user"`
	Score int64  `json:"score"`
}

func (m *Monitor) HandleGetReputation(c echo.Context) error {
	if m.deps.Contracts == nil {
		return m.noRelayer(c)
	}
	user := c.Param("user")
	score, err := m.deps.Contracts.GetUserReputation(c.Request().Context(), user)
	if err != nil {
		return m.readError(c, err)
	}
	return c.JSON(http.StatusOK, ReputationResponse{User: user, Score: score})
}

func (m *Monitor) HandleGetStream(c echo.Context) error {
	if m.deps.Contracts == nil {
		return m.noRelayer(c)
	}
	s, err := m.deps.Contracts.GetStream(c.Request().Context(), c.Param("id"))
	if err != nil {
		return m.readError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

type StatsResponse[T any] struct {
	Stats     T         `json:"stats"`
	Loading   bool      `json:"loading"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func statsResponse[T any](st poll.State[T]) StatsResponse[T] {
	resp := StatsResponse[T]{Stats: st.Data, Loading: st.Loading, UpdatedAt: st.UpdatedAt}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func (m *Monitor) HandleGetDAOStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse(m.daoStats.State()))
}

func (m *Monitor) HandleGetRentalStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse(m.rentalStats.State()))
}

type ActionStates struct {
	Vote     action.State `json:"vote"`
	Proposal action.State `json:"proposal"`
	Rent     action.State `json:"rent"`
	Mint     action.State `json:"mint"`
}

type StatusResponse struct {
	Ingest        ingest.Status         `json:"ingest"`
	SampledAt     time.Time             `json:"sampledAt"`
	BufferedCount int                   `json:"bufferedEvents"`
	LastBlock     uint64                `json:"lastBlock,omitempty"`
	Wallet        *contract.WalletState `json:"wallet,omitempty"`
	Actions       ActionStates          `json:"actions"`
}

// HandleGetStatus reports the last sampled push channel status. It never
// touches the network.
func (m *Monitor) HandleGetStatus(c echo.Context) error {
	st := m.status.State()
	resp := StatusResponse{
		Ingest:        st.Data,
		SampledAt:     st.UpdatedAt,
		BufferedCount: m.events.Len(),
		Actions: ActionStates{
			Vote:     m.voteRunner.State(),
			Proposal: m.proposalRunner.State(),
			Rent:     m.rentRunner.State(),
			Mint:     m.mintRunner.State(),
		},
	}
	if st.UpdatedAt.IsZero() {
		resp.Ingest = m.deps.Ingest.Status()
		resp.SampledAt = time.Now()
	}
	if m.deps.Store != nil {
		resp.LastBlock = m.deps.Store.LastBlock()
	}
	if m.deps.Wallet != nil {
		ws := m.deps.Wallet.State()
		resp.Wallet = &ws
	}
	return c.JSON(http.StatusOK, resp)
}

func (m *Monitor) HandleGetNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]action.Notification{
		"notifications": m.notifications.List(),
	})
}

func (m *Monitor) HandleDismissNotification(c echo.Context) error {
	if !m.notifications.Dismiss(c.Param("id")) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (m *Monitor) HandleRefresh(c echo.Context) error {
	name := c.Param("name")
	a, ok := m.adapters[name]
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown collection: %q", name)})
	}
	if err := a.Refetch(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (m *Monitor) HandleReconnect(c echo.Context) error {
	ok := m.Reconnect(c.Request().Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	return c.JSON(status, m.deps.Ingest.Status())
}

// runAction maps a settled action to a response. Busy controls answer 409;
// failures carry the diagnostic shown next to the control.
func (m *Monitor) runAction(c echo.Context, r *action.Runner, name string, fn action.Submit) error {
	if m.deps.Contracts == nil {
		return m.noRelayer(c)
	}

	// A client hanging up must not turn a sent transaction into a failure.
	res, err := r.Run(context.WithoutCancel(c.Request().Context()), name, fn)
	if err != nil {
		if errors.Is(err, action.ErrBusy) {
			return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		}
		code := http.StatusBadGateway
		if errors.Is(err, contract.ErrInvalidAddress) {
			code = http.StatusBadRequest
		}
		return c.JSON(code, contract.Diagnose(err))
	}
	return c.JSON(http.StatusOK, res)
}

func proposalID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid proposal id: %q", c.Param("id"))
	}
	return id, nil
}

type VoteRequest struct {
	Support bool `json:"support"`
}

func (m *Monitor) HandleVote(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return badRequest(c, "%s", err)
	}
	var req VoteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid vote: %s", err)
	}
	return m.runAction(c, m.voteRunner, "vote", action.Vote(m.deps.Contracts, id, req.Support))
}

func (m *Monitor) HandleCreateProposal(c echo.Context) error {
	var req contract.ProposalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid proposal: %s", err)
	}
	if req.Title == "" {
		return badRequest(c, "proposal title is required")
	}
	return m.runAction(c, m.proposalRunner, "create-proposal", action.CreateProposal(m.deps.Contracts, req))
}

func (m *Monitor) HandleExecuteProposal(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return badRequest(c, "%s", err)
	}
	return m.runAction(c, m.proposalRunner, "execute-proposal", action.ExecuteProposal(m.deps.Contracts, id))
}

func (m *Monitor) HandleRentNFT(c echo.Context) error {
	var req contract.RentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid rental: %s", err)
	}
	if req.Duration <= 0 {
		return badRequest(c, "duration must be a positive number of seconds")
	}
	return m.runAction(c, m.rentRunner, "rent", action.RentNFT(m.deps.Contracts, req))
}

type MintRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

func (m *Monitor) HandleMint(c echo.Context) error {
	var req MintRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid mint: %s", err)
	}
	if !req.Amount.IsPositive() {
		return badRequest(c, "amount must be positive")
	}
	return m.runAction(c, m.mintRunner, "mint", action.MintGovernanceToken(m.deps.Contracts, req.To, req.Amount))
}

func (m *Monitor) HandleGetWallet(c echo.Context) error {
	if m.deps.Wallet == nil {
		return c.JSON(http.StatusOK, contract.WalletState{})
	}
	return c.JSON(http.StatusOK, m.deps.Wallet.State())
}

// HandleConnectWallet answers wallet failures with a diagnostic instead of a
// bare error so the panel can tell the user what to fix.
func (m *Monitor) HandleConnectWallet(c echo.Context) error {
	if m.deps.Wallet == nil {
		return c.JSON(http.StatusServiceUnavailable, contract.Diagnose(contract.ErrNoProvider))
	}
	st, err := m.deps.Wallet.Connect(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, contract.Diagnose(err))
	}
	return c.JSON(http.StatusOK, st)
}

func (m *Monitor) HandleDisconnectWallet(c echo.Context) error {
	if m.deps.Wallet != nil {
		m.deps.Wallet.Disconnect()
	}
	return c.NoContent(http.StatusNoContent)
}
