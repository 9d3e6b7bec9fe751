package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives treasury
// reconciliation. The schedule triggers ReconcileTreasuryWorkflow on a
// fixed interval.
type Scheduler interface {
	// UpsertReconcileSchedule creates the reconciliation schedule, or
	// updates its interval when it already exists.
	UpsertReconcileSchedule(ctx context.Context, input ReconcileTreasuryInput, interval time.Duration) error

	// DeleteReconcileSchedule removes the reconciliation schedule.
	DeleteReconcileSchedule(ctx context.Context, treasuryWallet string) error
}

// scheduleID returns the Temporal schedule ID for reconciling a treasury.
func scheduleID(treasuryWallet string) string {
	return "reconcile-treasury-" + treasuryWallet
}
