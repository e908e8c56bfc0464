package subgraph

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, fn func(req request) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := fn(req)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL, 1000)
	return c
}

func TestRentals(t *testing.T) {
	var got request
	c := newTestClient(t, func(req request) (int, string) {
		got = req
		return http.StatusOK, `{"data":{"rentals":[
			{"id":"r1","nftContract":"0xa","tokenId":"1","category":"Art","status":"active","pricePerHour":"10000000000000000","totalPrice":"240000000000000000","duration":"86400","startTime":"1704067200","createdAt":1704067200000}
		]}}`
	})

	rentals, err := c.Rentals(context.Background(), source.Page{First: 5, Skip: 10, OrderBy: "createdAt", OrderDirection: "DESC"})
	require.NoError(t, err)
	require.Len(t, rentals, 1)

	r := rentals[0]
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, int64(86400), r.Duration)
	assert.Equal(t, source.Timestamp(1704067200), r.StartTime)
	// milliseconds are normalized
	assert.Equal(t, source.Timestamp(1704067200), r.CreatedAt)
	assert.Equal(t, "0.01", r.PricePerHour.Shift(-18).String())

	assert.Equal(t, GET_RENTALS, got.Query)
	assert.Equal(t, float64(5), got.Variables["first"])
	assert.Equal(t, float64(10), got.Variables["skip"])
	assert.Equal(t, "createdAt", got.Variables["orderBy"])
	assert.Equal(t, "desc", got.Variables["orderDirection"])
}

func TestDefaultPage(t *testing.T) {
	var got request
	c := newTestClient(t, func(req request) (int, string) {
		got = req
		return http.StatusOK, `{"data":{"activities":[]}}`
	})

	acts, err := c.ActivityFeed(context.Background(), source.Page{})
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Equal(t, float64(DefaultFirst), got.Variables["first"])
	assert.NotContains(t, got.Variables, "orderBy")
}

func TestSingletonQueries(t *testing.T) {
	c := newTestClient(t, func(req request) (int, string) {
		switch req.Query {
		case GET_DAO_STATS:
			return http.StatusOK, `{"data":{"daoStats":{"totalProposals":"12","activeProposals":"3","totalVoters":"40","totalVotingPower":"5000"}}}`
		case GET_RENTAL_STATISTICS:
			return http.StatusOK, `{"data":{"rentalStatistics":null}}`
		}
		return http.StatusBadRequest, ``
	})

	stats, err := c.DAOStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalProposals)
	assert.Equal(t, "5000", stats.TotalVotingPower.String())

	_, err = c.RentalStatistics(context.Background())
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestResponseValidation(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "graphql errors",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"bad field"},{"message":"worse field"}]}`,
			check: func(t *testing.T, err error) {
				var qe *QueryError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, []string{"bad field", "worse field"}, qe.Messages)
			},
		},
		{
			name:   "missing mapping",
			status: http.StatusOK,
			body:   `{"data":{"somethingElse":[]}}`,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMissingResult) },
		},
		{
			name:   "wrong shape",
			status: http.StatusOK,
			body:   `{"data":{"proposals":{"id":"1"}}}`,
			check:  func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   ``,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRateLimited) },
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   ``,
			check:  func(t *testing.T, err error) { assert.ErrorContains(t, err, "502") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(request) (int, string) { return tt.status, tt.body })
			_, err := c.Proposals(context.Background(), source.Page{})
			tt.check(t, err)
		})
	}
}
