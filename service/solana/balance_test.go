package solana

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBalanceReader(t *testing.T, mock *mockRPCClient) *BalanceReader {
	t.Helper()
	mint := solana.NewWallet().PublicKey()
	b, err := NewBalanceReader(mock, mint.String(), nil, discardLogger())
	require.NoError(t, err)
	return b
}

func TestTokenBalance(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()

	t.Run("reads balance from token account", func(t *testing.T) {
		mock := &mockRPCClient{
			balance: &rpc.GetTokenAccountBalanceResult{
				Value: &rpc.UiTokenAmount{
					Amount:   "128735600",
					Decimals: 6,
				},
			},
		}
		b := newTestBalanceReader(t, mock)

		got := b.TokenBalance(context.Background(), wallet)
		assert.True(t, got.Equal(decimal.RequireFromString("128.7356")), "got %s", got)
	})

	t.Run("rpc failure reads as zero", func(t *testing.T) {
		mock := &mockRPCClient{balanceErr: errors.New("account not found")}
		b := newTestBalanceReader(t, mock)

		got := b.TokenBalance(context.Background(), wallet)
		assert.True(t, got.IsZero())
	})

	t.Run("malformed address reads as zero without rpc call", func(t *testing.T) {
		mock := &mockRPCClient{}
		b := newTestBalanceReader(t, mock)

		got := b.TokenBalance(context.Background(), "???")
		assert.True(t, got.IsZero())
		assert.Equal(t, 0, mock.balanceCalls)
	})

	t.Run("nil result reads as zero", func(t *testing.T) {
		mock := &mockRPCClient{}
		b := newTestBalanceReader(t, mock)

		got := b.TokenBalance(context.Background(), wallet)
		assert.True(t, got.IsZero())
	})

	t.Run("unparseable amount reads as zero", func(t *testing.T) {
		mock := &mockRPCClient{
			balance: &rpc.GetTokenAccountBalanceResult{
				Value: &rpc.UiTokenAmount{
					Amount:   "not-a-number",
					Decimals: 6,
				},
			},
		}
		b := newTestBalanceReader(t, mock)

		got := b.TokenBalance(context.Background(), wallet)
		assert.True(t, got.IsZero())
	})
}
