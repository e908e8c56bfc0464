package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("contract")

var (
	ErrReverted        = errors.New("transaction reverted")
	ErrInsufficientFee = errors.New("insufficient balance")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrNotFound        = errors.New("not found")
)

// Tx is a submitted transaction. Wait blocks until it is mined and reports
// ErrReverted when it failed on chain.
type Tx interface {
	Hash() string
	Wait(ctx context.Context) (*Receipt, error)
}

type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      string `json:"status"`
}

type Proposal struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Proposer    string          `json:"proposer"`
	YesVotes    decimal.Decimal `json:"yesVotes"`
	NoVotes     decimal.Decimal `json:"noVotes"`
	Executed    bool            `json:"executed"`
}

type Stream struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Deposit   decimal.Decimal `json:"deposit"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	StartTime int64           `json:"startTime"`
	StopTime  int64           `json:"stopTime"`
}

type RentRequest struct {
	NFTContract string `json:"nftContract"`
	TokenID     string `json:"tokenId"`
	Duration    int64  `json:"duration"`
}

type ProposalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// Contracts is the call surface of the marketplace, DAO and streaming contracts.
type Contracts interface {
	GetProposal(ctx context.Context, id int64) (*Proposal, error)
	GetUserReputation(ctx context.Context, user string) (int64, error)
	GetStream(ctx context.Context, id string) (*Stream, error)
	TotalProposals(ctx context.Context) (int64, error)

	Vote(ctx context.Context, proposalID int64, support bool) (Tx, error)
	CreateProposal(ctx context.Context, req ProposalRequest) (Tx, error)
	ExecuteProposal(ctx context.Context, proposalID int64) (Tx, error)
	RentNFT(ctx context.Context, req RentRequest) (Tx, error)
	MintGovernanceToken(ctx context.Context, to string, amount decimal.Decimal) (Tx, error)
}

// Client talks to a transaction relayer that signs with the configured
// account and exposes contract reads and writes over HTTP.
type Client struct {
	logger       *slog.Logger
	host         string
	account      string
	client       *http.Client
	pollInterval time.Duration
}

func NewClient(logger *slog.Logger, host, account string) *Client {
	return &Client{
		logger:  logger.With("module", "contract"),
		host:    strings.TrimRight(host, "/"),
		account: account,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pollInterval: 2 * time.Second,
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rental-monitor/0.1.0")
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		case ae.Code == "INSUFFICIENT_BALANCE":
			return fmt.Errorf("%w: %s", ErrInsufficientFee, ae.Error)
		case ae.Code == "REJECTED":
			return fmt.Errorf("%w: %s", ErrRejected, ae.Error)
		}
		if ae.Error != "" {
			return fmt.Errorf("unexpected response status %s: %s", resp.Status, ae.Error)
		}
		return fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	ctx, span := tracer.Start(ctx, "GetProposal")
	defer span.End()
	span.SetAttributes(attribute.Int64("proposal_id", id))

	var p Proposal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/dao/proposals/%d", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetUserReputation(ctx context.Context, user string) (int64, error) {
	ctx, span := tracer.Start(ctx, "GetUserReputation")
	defer span.End()

	if !common.IsHexAddress(user) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, user)
	}

	var resp struct {
		Score int64 `json:"score"`
	}
	path := "/reputation/" + url.PathEscape(common.HexToAddress(user).Hex())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

func (c *Client) GetStream(ctx context.Context, id string) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "GetStream")
	defer span.End()

	var s Stream
	if err := c.do(ctx, http.MethodGet, "/streams/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) TotalProposals(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "TotalProposals")
	defer span.End()

	var resp struct {
		Total int64 `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/dao/proposals/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

type submitResponse struct {
	TxHash string `json:"transactionHash"`
}

func (c *Client) submit(ctx context.Context, name, path string, body any) (Tx, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.TxHash == "" {
		return nil, fmt.Errorf("relayer returned no transaction hash for %s", name)
	}

	span.SetAttributes(attribute.String("tx_hash", resp.TxHash))
	c.logger.Info("transaction submitted", "call", name, "tx", resp.TxHash)

	return &relayedTx{client: c, hash: resp.TxHash}, nil
}

func (c *Client) Vote(ctx context.Context, proposalID int64, support bool) (Tx, error) {
	return c.submit(ctx, "Vote", fmt.Sprintf("/dao/proposals/%d/vote", proposalID), map[string]bool{"support": support})
}

func (c *Client) CreateProposal(ctx context.Context, req ProposalRequest) (Tx, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("proposal title is required")
	}
	return c.submit(ctx, "CreateProposal", "/dao/proposals", req)
}

func (c *Client) ExecuteProposal(ctx context.Context, proposalID int64) (Tx, error) {
	return c.submit(ctx, "ExecuteProposal", fmt.Sprintf("/dao/proposals/%d/execute", proposalID), nil)
}

func (c *Client) RentNFT(ctx context.Context, req RentRequest) (Tx, error) {
	if !common.IsHexAddress(req.NFTContract) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, req.NFTContract)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("rental duration must be positive, got %d", req.Duration)
	}
	return c.submit(ctx, "RentNFT", "/rentals", req)
}

func (c *Client) MintGovernanceToken(ctx context.Context, to string, amount decimal.Decimal) (Tx, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("mint amount must be positive, got %s", amount)
	}
	return c.submit(ctx, "MintGovernanceToken", "/governance/mint", map[string]string{
		"to":     common.HexToAddress(to).Hex(),
		"amount": amount.String(),
	})
}

type relayedTx struct {
	client *Client
	hash   string
}

func (t *relayedTx) Hash() string { return t.hash }

// Wait polls the relayer for the receipt until the transaction is mined.
func (t *relayedTx) Wait(ctx context.Context) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "Wait")
	defer span.End()
	span.SetAttributes(attribute.String("tx_hash", t.hash))

	ticker := time.NewTicker(t.client.pollInterval)
	defer ticker.Stop()

	for {
		var r Receipt
		err := t.client.do(ctx, http.MethodGet, "/tx/"+url.PathEscape(t.hash), nil, &r)
		switch {
		case errors.Is(err, ErrNotFound):
			// not mined yet
		case err != nil:
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		case r.Status == "success":
			return &r, nil
		case r.Status == "reverted":
			return &r, fmt.Errorf("%w: %s", ErrReverted, t.hash)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
