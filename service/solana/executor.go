package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/eastern-cyber/planpay/service/metrics"
)

// Executor submits SPL token transfers from the treasury wallet. Each call
// to Execute makes exactly one submission attempt; retry policy belongs to
// the caller, which knows whether the transfer is best-effort or blocking.
type Executor struct {
	rpc      RPCClient
	treasury solana.PrivateKey
	mint     solana.PublicKey
	decimals uint8
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewExecutor creates an Executor for the given mint, signing with the
// treasury key. If m is nil, no metrics are recorded.
func NewExecutor(rpcClient RPCClient, treasury solana.PrivateKey, mintAddress string, decimals int, m *metrics.Metrics, logger *slog.Logger) (*Executor, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address %q: %w", mintAddress, err)
	}
	if decimals < 0 || decimals > 18 {
		return nil, fmt.Errorf("token decimals out of range: %d", decimals)
	}
	return &Executor{
		rpc:      rpcClient,
		treasury: treasury,
		mint:     mint,
		decimals: uint8(decimals),
		logger:   logger,
		metrics:  m,
	}, nil
}

// LoadTreasuryKey reads a solana-keygen format keypair file.
func LoadTreasuryKey(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load treasury key from %s: %w", path, err)
	}
	return key, nil
}

// Execute submits one token transfer. The recipient address is validated
// before any network traffic, so a malformed address never costs an RPC
// call. All failures are encoded in the result; Execute never panics and
// the returned result always carries a category on failure.
func (e *Executor) Execute(ctx context.Context, params TransferParams) *TransferResult {
	start := time.Now()
	result := e.execute(ctx, params)
	duration := time.Since(start).Seconds()

	if e.metrics != nil {
		status := "success"
		if !result.Success {
			status = "error"
			e.metrics.RecordTransferError(params.Purpose, string(result.Category))
		}
		e.metrics.RecordTransfer(params.Purpose, status, duration)
	}

	if result.Success {
		e.logger.InfoContext(ctx, "submitted token transfer",
			"purpose", params.Purpose,
			"recipient", params.Recipient,
			"amount", params.Amount,
			"signature", result.Signature)
	} else {
		e.logger.WarnContext(ctx, "token transfer failed",
			"purpose", params.Purpose,
			"recipient", params.Recipient,
			"amount", params.Amount,
			"category", result.Category,
			"message", result.Message)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, params TransferParams) *TransferResult {
	if params.Amount <= 0 {
		return &TransferResult{
			Category: CategoryUnknown,
			Message:  fmt.Sprintf("non-positive transfer amount %d", params.Amount),
		}
	}

	// Address validation happens first and short-circuits without touching
	// the network.
	recipient, err := solana.PublicKeyFromBase58(params.Recipient)
	if err != nil {
		return &TransferResult{
			Category: CategoryInvalidAddress,
			Message:  fmt.Sprintf("invalid recipient address %q: %v", params.Recipient, err),
		}
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(e.treasury.PublicKey(), e.mint)
	if err != nil {
		return &TransferResult{
			Category: CategoryUnknown,
			Message:  fmt.Sprintf("failed to derive treasury token account: %v", err),
		}
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, e.mint)
	if err != nil {
		return &TransferResult{
			Category: CategoryInvalidAddress,
			Message:  fmt.Sprintf("failed to derive recipient token account: %v", err),
		}
	}

	blockhash, err := e.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return &TransferResult{
			Category: CategoryGasEstimation,
			Message:  fmt.Sprintf("failed to fetch blockhash: %v", err),
		}
	}

	instruction, err := token.NewTransferCheckedInstruction(
		uint64(params.Amount),
		e.decimals,
		sourceATA,
		e.mint,
		destATA,
		e.treasury.PublicKey(),
		nil,
	).ValidateAndBuild()
	if err != nil {
		return &TransferResult{
			Category: CategoryUnknown,
			Message:  fmt.Sprintf("failed to build transfer instruction: %v", err),
		}
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(e.treasury.PublicKey()),
	)
	if err != nil {
		return &TransferResult{
			Category: CategoryUnknown,
			Message:  fmt.Sprintf("failed to build transaction: %v", err),
		}
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.treasury.PublicKey()) {
			return &e.treasury
		}
		return nil
	}); err != nil {
		return &TransferResult{
			Category: CategoryUserRejected,
			Message:  fmt.Sprintf("signing failed: %v", err),
		}
	}

	sig, err := e.rpc.SendTransaction(ctx, tx)
	if err != nil {
		category, message := Categorize(err)
		return &TransferResult{
			Category: category,
			Message:  message,
		}
	}

	return &TransferResult{
		Success:   true,
		Signature: sig.String(),
	}
}

// Categorize maps a submission error onto an ErrorCategory. The RPC layer
// reports failures as strings, so classification is necessarily pattern
// matching on well-known fragments.
func Categorize(err error) (ErrorCategory, string) {
	if err == nil {
		return CategoryNone, ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "user rejected"),
		strings.Contains(lower, "rejected the request"):
		return CategoryUserRejected, msg
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient lamports"),
		strings.Contains(lower, "custom program error: 0x1"):
		return CategoryInsufficientFunds, msg
	case strings.Contains(lower, "blockhash not found"),
		strings.Contains(lower, "fee calculator"),
		strings.Contains(lower, "unable to estimate"):
		return CategoryGasEstimation, msg
	case strings.Contains(lower, "invalid param"),
		strings.Contains(lower, "invalid public key"):
		return CategoryInvalidAddress, msg
	default:
		return CategoryUnknown, msg
	}
}
