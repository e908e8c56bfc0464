package contract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNoProvider   = errors.New("no wallet provider available")
	ErrWrongNetwork = errors.New("wallet is connected to the wrong network")
	ErrRejected     = errors.New("request rejected by the wallet")
)

// Account is what a provider reports for the unlocked account.
type Account struct {
	Address string          `json:"address"`
	ChainID int64           `json:"chainId"`
	Balance decimal.Decimal `json:"balance"`
}

// Provider hands out the signing account.
type Provider interface {
	RequestAccount(ctx context.Context) (*Account, error)
}

// RequestAccount asks the relayer which account it signs for.
func (c *Client) RequestAccount(ctx context.Context) (*Account, error) {
	ctx, span := tracer.Start(ctx, "RequestAccount")
	defer span.End()

	var a Account
	if err := c.do(ctx, http.MethodGet, "/wallet", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type WalletState struct {
	Account   string          `json:"account"`
	ChainID   int64           `json:"chainId"`
	Balance   decimal.Decimal `json:"balance"`
	Connected bool            `json:"isConnected"`
}

// Wallet tracks the connected account and checks it is on the expected chain.
type Wallet struct {
	provider Provider
	chainID  int64

	mu    sync.RWMutex
	state WalletState
}

// NewWallet returns a disconnected wallet. A nil provider makes every
// Connect fail with ErrNoProvider. A zero chainID accepts any network.
func NewWallet(provider Provider, chainID int64) *Wallet {
	return &Wallet{provider: provider, chainID: chainID}
}

func (w *Wallet) Connect(ctx context.Context) (WalletState, error) {
	if w.provider == nil {
		return w.State(), ErrNoProvider
	}

	acct, err := w.provider.RequestAccount(ctx)
	if err != nil {
		return w.State(), fmt.Errorf("failed to connect wallet: %w", err)
	}
	if !common.IsHexAddress(acct.Address) {
		return w.State(), fmt.Errorf("%w: provider returned %q", ErrInvalidAddress, acct.Address)
	}
	if w.chainID != 0 && acct.ChainID != w.chainID {
		return w.State(), fmt.Errorf("%w: want chain %d, got %d", ErrWrongNetwork, w.chainID, acct.ChainID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = WalletState{
		Account:   common.HexToAddress(acct.Address).Hex(),
		ChainID:   acct.ChainID,
		Balance:   acct.Balance,
		Connected: true,
	}
	return w.state, nil
}

func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = WalletState{}
}

func (w *Wallet) State() WalletState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Diagnostic is the inline panel shown for a wallet or transaction error.
type Diagnostic struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Remediation string `json:"remediation"`
}

func Diagnose(err error) Diagnostic {
	d := Diagnostic{Error: err.Error(), Kind: "unknown", Remediation: "Try again. If the problem persists reload the page."}
	switch {
	case errors.Is(err, ErrNoProvider):
		d.Kind = "no_provider"
		d.Remediation = "Install a browser wallet or configure a relayer endpoint, then reconnect."
	case errors.Is(err, ErrWrongNetwork):
		d.Kind = "wrong_network"
		d.Remediation = "Switch your wallet to the marketplace network and reconnect."
	case errors.Is(err, ErrRejected):
		d.Kind = "rejected"
		d.Remediation = "The request was declined in the wallet. Submit it again to retry."
	case errors.Is(err, ErrReverted):
		d.Kind = "reverted"
		d.Remediation = "The transaction reverted on chain. Check the proposal or listing state before retrying."
	case errors.Is(err, ErrInsufficientFee):
		d.Kind = "insufficient_balance"
		d.Remediation = "Top up the account balance to cover the price and gas."
	case errors.Is(err, ErrInvalidAddress):
		d.Kind = "invalid_address"
		d.Remediation = "Check the address is a 0x prefixed 20 byte hex string."
	}
	return d
}
