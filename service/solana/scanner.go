package solana

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/eastern-cyber/planpay/service/metrics"
)

// Scanner reads recent treasury activity from the chain. Reconciliation
// compares these observations against the signatures recorded on stored
// plans to spot payouts that never landed or landed twice.
type Scanner struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewScanner creates a Scanner. If m is nil, no metrics are recorded.
func NewScanner(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{
		rpc:     rpcClient,
		logger:  logger,
		metrics: m,
	}
}

// ScanParams controls one treasury scan.
type ScanParams struct {
	Wallet solana.PublicKey
	// Until stops the scan at a previously-seen signature, nil for a full
	// window.
	Until *solana.Signature
	Limit int
	// KnownSignatures are skipped without fetching transaction details.
	KnownSignatures []string
}

// ListTransfersSince returns parsed outbound transfers for the wallet,
// newest first. Signatures already known to the caller are skipped without
// a detail fetch. Individual detail failures degrade to metadata-only
// entries rather than aborting the scan.
func (s *Scanner) ListTransfersSince(ctx context.Context, params ScanParams) ([]*Transfer, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &params.Limit,
	}
	if params.Until != nil {
		opts.Until = *params.Until
	}

	start := time.Now()
	signatures, err := s.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordRPCCall("GetSignaturesForAddress", status, time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list treasury signatures",
			"wallet", params.Wallet.String(),
			"error", err)
		return nil, err
	}

	known := make(map[string]struct{}, len(params.KnownSignatures))
	for _, sig := range params.KnownSignatures {
		known[sig] = struct{}{}
	}

	transfers := make([]*Transfer, 0, len(signatures))
	for _, sig := range signatures {
		if _, exists := known[sig.Signature.String()]; exists {
			continue
		}

		result, err := s.getTransactionWithRetry(ctx, sig.Signature)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to fetch transfer details, keeping metadata only",
				"signature", sig.Signature.String(),
				"error", err)
			transfers = append(transfers, signatureToTransfer(sig))
			continue
		}

		transfer, err := parseTransferFromResult(sig, result)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to parse transfer, keeping metadata only",
				"signature", sig.Signature.String(),
				"error", err)
			transfers = append(transfers, signatureToTransfer(sig))
			continue
		}
		transfers = append(transfers, transfer)
	}

	s.logger.InfoContext(ctx, "scanned treasury transfers",
		"wallet", params.Wallet.String(),
		"count", len(transfers))
	return transfers, nil
}

// getTransactionWithRetry fetches full transaction details with a small
// backoff loop. Public RPC endpoints rate-limit aggressively, so 429s get
// a longer sleep than other transient errors.
func (s *Scanner) getTransactionWithRetry(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	const maxAttempts = 3

	var (
		result *rpc.GetTransactionResult
		err    error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		opts := &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		}
		start := time.Now()
		result, err = s.rpc.GetTransaction(ctx, signature, opts)
		if s.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			s.metrics.RecordRPCCall("GetTransaction", status, time.Since(start).Seconds())
		}
		if err == nil {
			return result, nil
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * time.Second
		}
		s.logger.WarnContext(ctx, "transfer detail fetch failed, backing off",
			"signature", signature.String(),
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds())

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}
