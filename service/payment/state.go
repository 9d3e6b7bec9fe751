package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Step identifies one stage of a plan purchase.
type Step int

const (
	StepFeeSplit Step = iota + 1
	StepReferral
	StepBonus
)

// StepCount is the number of stages a purchase moves through.
const StepCount = 3

func (s Step) String() string {
	switch s {
	case StepFeeSplit:
		return "fee_split"
	case StepReferral:
		return "referral"
	case StepBonus:
		return "bonus"
	default:
		return "unknown"
	}
}

// StepStatus is the lifecycle of a single step.
type StepStatus string

const (
	StepNotStarted           StepStatus = "not_started"
	StepAwaitingConfirmation StepStatus = "awaiting_confirmation"
	StepProcessing           StepStatus = "processing"
	StepCompleted            StepStatus = "completed"
	StepFailed               StepStatus = "failed"
)

// CanDismiss reports whether a purchase sitting at this step status may be
// abandoned by the buyer. A step that is mid-flight or already settled on
// chain cannot be walked away from.
func (s StepStatus) CanDismiss() bool {
	switch s {
	case StepProcessing, StepCompleted:
		return false
	default:
		return true
	}
}

// StepState is the recorded outcome of one step.
type StepState struct {
	Status        StepStatus `json:"status"`
	Signatures    []string   `json:"signatures,omitempty"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts,omitempty"`
}

// PurchaseState is the queryable snapshot of a purchase in progress. The
// orchestrator maintains one of these and hands out copies on request.
type PurchaseState struct {
	PurchaseID string `json:"purchase_id"`
	Buyer      string `json:"buyer"`
	PlanID     string `json:"plan_id"`
	Referrer   string `json:"referrer,omitempty"`
	Quote      Quote  `json:"quote"`
	// WalletBalance is the buyer's on-chain token balance read once at
	// entry, shown alongside the quote in the confirmation view.
	WalletBalance decimal.Decimal      `json:"wallet_balance"`
	Current       Step                 `json:"current_step"`
	Steps         [StepCount]StepState `json:"steps"`
	Completed     bool                 `json:"completed"`
	Cancelled     bool                 `json:"cancelled"`
	AuditCID      string               `json:"audit_cid,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// StepState returns the state of the given step.
func (p *PurchaseState) StepState(s Step) StepState {
	return p.Steps[s-1]
}

// SetStep records a new state for the given step and bumps the update time.
func (p *PurchaseState) SetStep(s Step, state StepState, now time.Time) {
	p.Steps[s-1] = state
	p.UpdatedAt = now
}

// CanDismiss reports whether the purchase as a whole may be abandoned.
// Once complete it is permanent record; while a transfer is in flight the
// buyer must wait for its outcome.
func (p *PurchaseState) CanDismiss() bool {
	if p.Completed {
		return false
	}
	return p.Steps[p.Current-1].Status.CanDismiss()
}
