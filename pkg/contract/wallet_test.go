package contract

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	acct *Account
	err  error
}

func (p stubProvider) RequestAccount(context.Context) (*Account, error) {
	return p.acct, p.err
}

func TestWalletConnect(t *testing.T) {
	w := NewWallet(stubProvider{acct: &Account{
		Address: testAccount,
		ChainID: 50312,
		Balance: decimal.NewFromInt(5),
	}}, 50312)

	st, err := w.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, common.HexToAddress(testAccount).Hex(), st.Account)
	assert.Equal(t, st, w.State())

	w.Disconnect()
	assert.False(t, w.State().Connected)
	assert.Empty(t, w.State().Account)
}

func TestWalletErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		want     error
		kind     string
	}{
		{name: "no provider", provider: nil, want: ErrNoProvider, kind: "no_provider"},
		{name: "wrong network", provider: stubProvider{acct: &Account{Address: testAccount, ChainID: 1}}, want: ErrWrongNetwork, kind: "wrong_network"},
		{name: "rejected", provider: stubProvider{err: ErrRejected}, want: ErrRejected, kind: "rejected"},
		{name: "bad address", provider: stubProvider{acct: &Account{Address: "0xzz", ChainID: 50312}}, want: ErrInvalidAddress, kind: "invalid_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWallet(tt.provider, 50312)
			st, err := w.Connect(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, st.Connected)

			d := Diagnose(err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.NotEmpty(t, d.Remediation)
		})
	}
}

func TestDiagnoseUnknown(t *testing.T) {
	d := Diagnose(errors.New("boom"))
	assert.Equal(t, "unknown", d.Kind)
	assert.Equal(t, "boom", d.Error)
}
