package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/eastern-cyber/planpay/service/metrics"
)

// BalanceReader reads a wallet's balance of the configured token mint.
type BalanceReader struct {
	rpc     RPCClient
	mint    solana.PublicKey
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBalanceReader creates a BalanceReader for the given mint.
func NewBalanceReader(rpcClient RPCClient, mintAddress string, m *metrics.Metrics, logger *slog.Logger) (*BalanceReader, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address %q: %w", mintAddress, err)
	}
	return &BalanceReader{
		rpc:     rpcClient,
		mint:    mint,
		logger:  logger,
		metrics: m,
	}, nil
}

// TokenBalance returns the wallet's token balance. It fails closed: any
// failure, including a malformed address or a missing token account, reads
// as zero. A zero balance only ever understates what the wallet holds, so
// downstream payment math can never credit tokens that might not exist.
func (b *BalanceReader) TokenBalance(ctx context.Context, walletAddress string) decimal.Decimal {
	owner, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		b.logger.WarnContext(ctx, "invalid wallet address, reading balance as zero",
			"wallet", walletAddress,
			"error", err)
		return decimal.Zero
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, b.mint)
	if err != nil {
		b.logger.WarnContext(ctx, "failed to derive token account, reading balance as zero",
			"wallet", walletAddress,
			"error", err)
		return decimal.Zero
	}

	start := time.Now()
	result, err := b.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if b.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		b.metrics.RecordRPCCall("GetTokenAccountBalance", status, time.Since(start).Seconds())
	}
	if err != nil {
		b.logger.WarnContext(ctx, "balance lookup failed, reading balance as zero",
			"wallet", walletAddress,
			"error", err)
		return decimal.Zero
	}
	if result == nil || result.Value == nil {
		return decimal.Zero
	}

	amount, err := decimal.NewFromString(result.Value.Amount)
	if err != nil {
		b.logger.WarnContext(ctx, "unparseable balance, reading as zero",
			"wallet", walletAddress,
			"raw", result.Value.Amount,
			"error", err)
		return decimal.Zero
	}

	// Value.Amount is in base units; shift by the reported decimals.
	return amount.Shift(-int32(result.Value.Decimals))
}
