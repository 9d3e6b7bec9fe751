package nats

import (
	"time"

	"github.com/eastern-cyber/planpay/service/payment"
)

// Event types carried by PurchaseEvent.
const (
	EventPurchaseStarted   = "purchase_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventPurchaseCompleted = "purchase_completed"
	EventPurchaseCancelled = "purchase_cancelled"
	EventReconcileMismatch = "reconcile_mismatch"
)

// ReconcileWallet is the wallet-address slot used for reconciliation events,
// which concern the treasury rather than any one buyer. They land on the
// subject "plans.reconcile".
const ReconcileWallet = "reconcile"

// PurchaseEvent represents a purchase lifecycle event published to NATS.
// This is published to the subject "plans.{wallet_address}" in JetStream.
type PurchaseEvent struct {
	// Event classification
	EventType string `json:"event_type"`

	// Purchase identifiers
	PurchaseID    string `json:"purchase_id"`
	WalletAddress string `json:"wallet_address"`
	PlanID        string `json:"plan_id"`

	// Step details, present on step events
	Step          string `json:"step,omitempty"`
	StepStatus    string `json:"step_status,omitempty"`
	Signature     string `json:"signature,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromStepState builds a step event from the recorded step outcome.
func FromStepState(purchaseID, wallet, planID string, step payment.Step, state payment.StepState) *PurchaseEvent {
	eventType := EventStepCompleted
	if state.Status == payment.StepFailed {
		eventType = EventStepFailed
	}

	event := &PurchaseEvent{
		EventType:     eventType,
		PurchaseID:    purchaseID,
		WalletAddress: wallet,
		PlanID:        planID,
		Step:          step.String(),
		StepStatus:    string(state.Status),
		ErrorCategory: state.ErrorCategory,
	}
	if len(state.Signatures) > 0 {
		event.Signature = state.Signatures[0]
	}
	return event
}
