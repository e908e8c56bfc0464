package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/source"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("subgraph")

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrMissingResult = errors.New("response is missing the expected mapping")
)

// DefaultFirst is used when a page does not ask for a size.
const DefaultFirst = 100

// Client queries the marketplace indexer over GraphQL. It implements
// source.DataSource.
type Client struct {
	Logger    *slog.Logger
	Endpoint  string
	UserAgent string
	Limiter   *rate.Limiter
	Client    *http.Client
}

var _ source.DataSource = (*Client)(nil)

// NewClient builds a client allowing rps requests per second to endpoint.
func NewClient(logger *slog.Logger, endpoint string, rps float64) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		Logger:    logger.With("module", "subgraph"),
		Endpoint:  endpoint,
		UserAgent: "rental-monitor/0.1.0",
		Limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors"`
}

// QueryError carries the messages of a GraphQL errors array.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "subgraph query failed: " + strings.Join(e.Messages, "; ")
}

// Query posts a GraphQL document and decodes the mapping named key into out.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, key string, out any) error {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()
	span.SetAttributes(attribute.String("mapping", key))

	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)

	// Rate limit requests
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	queryDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	if err != nil {
		queriesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		queriesTotal.WithLabelValues(key, "error").Inc()
		if resp.StatusCode == http.StatusTooManyRequests {
			c.Logger.Warn("rate limited", "mapping", key)
			return ErrRateLimited
		}
		return fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		queriesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("failed to decode JSON: %w", err)
	}

	if len(r.Errors) > 0 {
		queriesTotal.WithLabelValues(key, "error").Inc()
		qe := &QueryError{}
		for _, e := range r.Errors {
			qe.Messages = append(qe.Messages, e.Message)
		}
		return qe
	}

	raw, ok := r.Data[key]
	if !ok {
		queriesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("%w: %q", ErrMissingResult, key)
	}
	if string(raw) == "null" {
		queriesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("%q: %w", key, source.ErrNotFound)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		queriesTotal.WithLabelValues(key, "error").Inc()
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}

	queriesTotal.WithLabelValues(key, "ok").Inc()
	return nil
}

func pageVars(page source.Page) map[string]any {
	first := page.First
	if first <= 0 {
		first = DefaultFirst
	}
	vars := map[string]any{
		"first": first,
		"skip":  max(page.Skip, 0),
	}
	if page.OrderBy != "" {
		vars["orderBy"] = page.OrderBy
	}
	if page.OrderDirection != "" {
		vars["orderDirection"] = strings.ToLower(page.OrderDirection)
	}
	return vars
}

func (c *Client) Rentals(ctx context.Context, page source.Page) ([]source.Rental, error) {
	var out []source.Rental
	if err := c.Query(ctx, GET_RENTALS, pageVars(page), "rentals", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RecentRentals(ctx context.Context, first int) ([]source.Rental, error) {
	if first <= 0 {
		first = 10
	}
	var out []source.Rental
	if err := c.Query(ctx, GET_RECENT_RENTALS, map[string]any{"first": first}, "rentals", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RentalStatistics(ctx context.Context) (source.RentalStatistics, error) {
	var out source.RentalStatistics
	if err := c.Query(ctx, GET_RENTAL_STATISTICS, nil, "rentalStatistics", &out); err != nil {
		return source.RentalStatistics{}, err
	}
	return out, nil
}

func (c *Client) Proposals(ctx context.Context, page source.Page) ([]source.Proposal, error) {
	var out []source.Proposal
	if err := c.Query(ctx, GET_ALL_PROPOSALS, pageVars(page), "proposals", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DAOStats(ctx context.Context) (source.DAOStats, error) {
	var out source.DAOStats
	if err := c.Query(ctx, GET_DAO_STATS, nil, "daoStats", &out); err != nil {
		return source.DAOStats{}, err
	}
	return out, nil
}

func (c *Client) ActivityFeed(ctx context.Context, page source.Page) ([]source.Activity, error) {
	var out []source.Activity
	if err := c.Query(ctx, GET_ACTIVITY_FEED, pageVars(page), "activities", &out); err != nil {
		return nil, err
	}
	return out, nil
}
