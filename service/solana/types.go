package solana

import (
	"time"
)

// ErrorCategory classifies a failed transfer submission so callers can
// decide whether the buyer should retry, top up, or give up.
type ErrorCategory string

const (
	CategoryNone              ErrorCategory = ""
	CategoryUserRejected      ErrorCategory = "user_rejected"
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryGasEstimation     ErrorCategory = "gas_estimation_failed"
	CategoryInvalidAddress    ErrorCategory = "invalid_address"
	CategoryUnknown           ErrorCategory = "unknown"
)

// TransferParams describes one token transfer to submit.
type TransferParams struct {
	// Recipient is the destination wallet address in base58.
	Recipient string
	// Amount in the token's base units.
	Amount int64
	// Purpose labels the transfer for logging and metrics
	// (e.g. "fee_share_a", "referral", "bonus").
	Purpose string
}

// TransferResult is the outcome of exactly one submission attempt. Failures
// are encoded in the result rather than returned as errors so callers always
// have a category and message to act on.
type TransferResult struct {
	Success   bool          `json:"success"`
	Signature string        `json:"signature,omitempty"`
	Category  ErrorCategory `json:"category,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Transfer is a parsed outbound token transfer observed on chain.
// Used by reconciliation to compare treasury activity against stored plans.
type Transfer struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64
	TokenMint   *string // nil when the transfer moved native SOL
	FromAddress *string // signing authority, nil if it cannot be determined
	Err         *string // nil if the transaction succeeded on chain
}
