package temporal

import (
	"time"

	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ReconcileTreasuryInput contains parameters for a reconciliation pass.
type ReconcileTreasuryInput struct {
	TreasuryWallet string        `json:"treasury_wallet"`
	Lookback       time.Duration `json:"lookback"`
	Limit          int           `json:"limit"`
}

// ReconcileTreasuryResult contains the outcome of a reconciliation pass.
type ReconcileTreasuryResult struct {
	KnownSignatures int       `json:"known_signatures"`
	Unmatched       []string  `json:"unmatched"`
	ScannedAt       time.Time `json:"scanned_at"`
}

// ReconcileTreasuryWorkflow compares recent treasury activity on chain
// against the transfers recorded for settled purchases. An outbound transfer
// the database cannot account for is worth an operator's attention; the
// workflow reports them, it does not act on them.
func ReconcileTreasuryWorkflow(ctx workflow.Context, input ReconcileTreasuryInput) (*ReconcileTreasuryResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileTreasuryWorkflow started",
		"treasury_wallet", input.TreasuryWallet,
		"lookback", input.Lookback,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	var sigsResult *GetPlanSignaturesResult
	err := workflow.ExecuteActivity(ctx, "GetPlanSignatures", GetPlanSignaturesInput{
		Since: workflow.Now(ctx).Add(-input.Lookback),
	}).Get(ctx, &sigsResult)
	if err != nil {
		return nil, err
	}

	var scanResult *ScanTreasuryResult
	err = workflow.ExecuteActivity(ctx, "ScanTreasury", ScanTreasuryInput{
		WalletAddress:   input.TreasuryWallet,
		Limit:           input.Limit,
		KnownSignatures: sigsResult.Signatures,
	}).Get(ctx, &scanResult)
	if err != nil {
		return nil, err
	}

	result := &ReconcileTreasuryResult{
		KnownSignatures: len(sigsResult.Signatures),
		ScannedAt:       workflow.Now(ctx),
	}
	for _, tr := range scanResult.Transfers {
		result.Unmatched = append(result.Unmatched, tr.Signature)
	}

	if len(result.Unmatched) > 0 {
		logger.Warn("treasury transfers without a recorded purchase",
			"count", len(result.Unmatched),
			"signatures", result.Unmatched,
		)
		// One event per stray signature on plans.reconcile, so operators
		// can subscribe to mismatches the same way buyers follow purchases.
		for _, sig := range result.Unmatched {
			publishEvent(ctx, logger, &natspkg.PurchaseEvent{
				EventType:     natspkg.EventReconcileMismatch,
				WalletAddress: natspkg.ReconcileWallet,
				Signature:     sig,
			})
		}
	} else {
		logger.Info("treasury reconciled", "known_signatures", result.KnownSignatures)
	}
	return result, nil
}
