package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/action"
	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/ingest"
	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/ericvolp12/rental-monitor/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type minedTx struct{ hash string }

func (t minedTx) Hash() string { return t.hash }
func (t minedTx) Wait(context.Context) (*contract.Receipt, error) {
	return &contract.Receipt{TxHash: t.hash, BlockNumber: 9, Status: "success"}, nil
}

// pendingTx confirms unless the context it waits on is already done.
type pendingTx struct{ hash string }

func (t pendingTx) Hash() string { return t.hash }
func (t pendingTx) Wait(ctx context.Context) (*contract.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &contract.Receipt{TxHash: t.hash, BlockNumber: 9, Status: "success"}, nil
}

// fakeRelayer applies votes to the fixture as soon as they are sent.
type fakeRelayer struct {
	contract.Contracts
	fixture *source.Fixture
	pending bool
}

func (r *fakeRelayer) GetProposal(ctx context.Context, id int64) (*contract.Proposal, error) {
	if id != 3 {
		return nil, fmt.Errorf("proposal %d: %w", id, contract.ErrNotFound)
	}
	return &contract.Proposal{ID: 3, Title: "Proposal 3", YesVotes: decimal.NewFromInt(20)}, nil
}

func (r *fakeRelayer) TotalProposals(ctx context.Context) (int64, error) {
	return 5, nil
}

func (r *fakeRelayer) GetUserReputation(ctx context.Context, user string) (int64, error) {
	if !common.IsHexAddress(user) {
		return 0, fmt.Errorf("%w: %q", contract.ErrInvalidAddress, user)
	}
	return 42, nil
}

func (r *fakeRelayer) GetStream(ctx context.Context, id string) (*contract.Stream, error) {
	return &contract.Stream{ID: id, Deposit: decimal.NewFromInt(100)}, nil
}

func (r *fakeRelayer) Vote(ctx context.Context, id int64, support bool) (contract.Tx, error) {
	err := r.fixture.UpdateProposal(id, func(p *source.Proposal) {
		if support {
			p.YesVotes = p.YesVotes.Add(decimal.NewFromInt(1))
		}
	})
	if err != nil {
		return nil, err
	}
	if r.pending {
		return pendingTx{hash: "0xv"}, nil
	}
	return minedTx{hash: "0xv"}, nil
}

type harness struct {
	m       *Monitor
	e       *echo.Echo
	fixture *source.Fixture
}

func newHarness(t *testing.T, wsURL string, deps Deps) *harness {
	t.Helper()
	fixture := source.NewFixture(25, 5)
	deps.Source = fixture
	if deps.Ingest == nil {
		deps.Ingest = ingest.NewService(testLogger(), ingest.Config{URL: wsURL, Network: "testnet"})
	}

	m := New(testLogger(), Config{StatusInterval: 10 * time.Millisecond}, deps)

	e := echo.New()
	e.HTTPErrorHandler = m.HTTPErrorHandler
	e.Use(middleware.Recover())
	m.RegisterRoutes(e)

	return &harness{m: m, e: e, fixture: fixture}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestRentalsPagination(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})
	require.NoError(t, h.m.rentals.Refetch(context.Background()))

	rec, body := h.do(t, http.MethodGet, "/rentals?page_size=20&page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(25), body["total"])
	assert.Len(t, body["items"], 5)

	_, body = h.do(t, http.MethodGet, "/rentals?page=2", "")
	assert.Empty(t, body["items"])

	_, body = h.do(t, http.MethodGet, "/rentals?category=Gaming&status=active", "")
	for _, it := range body["items"].([]any) {
		r := it.(map[string]any)
		assert.Equal(t, "Gaming", r["category"])
		assert.Equal(t, "active", r["status"])
		assert.NotEmpty(t, r["price"])
	}

	rec, _ = h.do(t, http.MethodGet, "/rentals?dir=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoteRefetchesProposals(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})
	h.m.deps.Contracts = &fakeRelayer{fixture: h.fixture}
	require.NoError(t, h.m.proposals.Refetch(context.Background()))

	yes := func() string {
		_, body := h.do(t, http.MethodGet, "/proposals?search=Proposal%203", "")
		items := body["items"].([]any)
		require.Len(t, items, 1)
		return items[0].(map[string]any)["yesVotes"].(string)
	}
	assert.Equal(t, "20", yes())

	rec, body := h.do(t, http.MethodPost, "/proposals/3/vote", `{"support":true}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "0xv", body["transactionHash"])

	assert.Equal(t, "21", yes())

	_, body = h.do(t, http.MethodGet, "/notifications", "")
	assert.Len(t, body["notifications"], 1)

	_, body = h.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, "idle", body["actions"].(map[string]any)["vote"])
}

func TestVoteOutlivesClient(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})
	h.m.deps.Contracts = &fakeRelayer{fixture: h.fixture, pending: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/proposals/3/vote", strings.NewReader(`{"support":true}`)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	notes := h.m.notifications.List()
	require.Len(t, notes, 1)
	assert.Equal(t, action.LevelSuccess, notes[0].Level)
}

func TestContractReads(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})

	rec, _ := h.do(t, http.MethodGet, "/proposals/3", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.m.deps.Contracts = &fakeRelayer{fixture: h.fixture}

	rec, body := h.do(t, http.MethodGet, "/proposals/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Proposal 3", body["title"])

	rec, _ = h.do(t, http.MethodGet, "/proposals/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, body = h.do(t, http.MethodGet, "/proposals/count", "")
	assert.Equal(t, float64(5), body["total"])

	rec, body = h.do(t, http.MethodGet, "/reputation/0x00000000000000000000000000000000000000aa", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), body["score"])

	rec, _ = h.do(t, http.MethodGet, "/reputation/alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(t, http.MethodGet, "/streams/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", body["id"])
	assert.Equal(t, "100", body["deposit"])
}

func TestRecentRentals(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})
	require.NoError(t, h.m.recentRentals.Refetch(context.Background()))

	rec, body := h.do(t, http.MethodGet, "/rentals/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["items"].([]any)
	require.Len(t, items, RecentRentalsSize)
	assert.Equal(t, "rental-24", items[0].(map[string]any)["id"])

	rec, _ = h.do(t, http.MethodPost, "/refresh/recent-rentals", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActionsNeedRelayer(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})

	rec, _ := h.do(t, http.MethodPost, "/rentals", `{"nftContract":"0x00000000000000000000000000000000000000aa","tokenId":"1","duration":3600}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/proposals/x/vote", `{"support":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := h.do(t, http.MethodPost, "/wallet/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no_provider", body["kind"])
}

func TestPanicsStayInTheirRoute(t *testing.T) {
	h := newHarness(t, "ws://127.0.0.1:1", Deps{})
	h.e.GET("/broken", func(c echo.Context) error { panic("chart exploded") })

	rec, body := h.do(t, http.MethodGet, "/broken", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, _ = h.do(t, http.MethodGet, "/dao/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/refresh/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "nope")
}

func TestEventsReachBufferAndStore(t *testing.T) {
	st, err := store.Open(testLogger(), filepath.Join(t.TempDir(), "events.db"), true, 0)
	require.NoError(t, err)
	defer st.Close()

	h := newHarness(t, "ws://127.0.0.1:1", Deps{Store: st})

	evt, err := events.ParseFrame([]byte(`{"event":"NFTRented","data":{"id":"r1","timestamp":1704067200,"contract":"RentalMarket","blockNumber":3,"transactionHash":"0x1","renter":"0xabc","tokenId":"4"}}`))
	require.NoError(t, err)
	h.m.handleEvent(evt)
	h.m.handleEvent(evt)

	_, body := h.do(t, http.MethodGet, "/events", "")
	require.Len(t, body["items"], 1)
	first := body["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "r1", first["id"])
	assert.Equal(t, "NFTRented", first["kind"])
	assert.NotEmpty(t, first["summary"])

	_, body = h.do(t, http.MethodGet, "/events?store=true&kind=NFTRented", "")
	assert.Len(t, body["items"], 1)

	rec, _ := h.do(t, http.MethodGet, "/events?store=true&kind=Nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, uint64(3), st.LastBlock())
}

func TestPushEventsTriggerRefetch(t *testing.T) {
	send := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case <-closed:
				return
			case msg := <-send:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	h := newHarness(t, "ws"+strings.TrimPrefix(srv.URL, "http"), Deps{})
	h.m.Start(context.Background())
	defer h.m.Stop(context.Background())

	// every poller fetches once on start
	assert.Eventually(t, func() bool { return h.fixture.Calls() >= 5 }, time.Second, 5*time.Millisecond)
	before := h.fixture.Calls()

	send <- `{"event":"NFTListedForRent","data":{"id":"l1","timestamp":1704067200,"contract":"RentalMarket","owner":"0xo","tokenId":"1"}}`

	assert.Eventually(t, func() bool { return h.m.events.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.fixture.Calls() >= before+2 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/status", "")
		ing := body["ingest"].(map[string]any)
		return ing["isConnected"] == true && ing["eventQueueLength"] == float64(1)
	}, time.Second, 10*time.Millisecond)
}
