package temporal

import (
	"fmt"
	"time"

	"github.com/eastern-cyber/planpay/service/audit"
	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Signal and query names for the purchase workflow. The HTTP layer maps the
// buyer's actions onto these.
const (
	SignalConfirm = "confirm"
	SignalCancel  = "cancel"
	QueryStatus   = "status"
)

// PlanPurchaseInput contains everything a purchase needs, snapshotted at
// start so a config change mid-flight cannot reprice a running purchase.
type PlanPurchaseInput struct {
	PurchaseID    string `json:"purchase_id"`
	WalletAddress string `json:"wallet_address"`
	PlanID        string `json:"plan_id"`
	Referrer      string `json:"referrer,omitempty"`

	FiatFee        decimal.Decimal `json:"fiat_fee"`
	MinimumPayment decimal.Decimal `json:"minimum_payment"`

	FeeRecipientA   string `json:"fee_recipient_a"`
	FeeRecipientB   string `json:"fee_recipient_b"`
	SplitPercentA   int    `json:"split_percent_a"`
	ReferralPercent int    `json:"referral_percent"`
	BonusPoolWallet string `json:"bonus_pool_wallet"`
	BonusAmount     int64  `json:"bonus_amount"` // base units
	TokenDecimals   int    `json:"token_decimals"`

	ConfirmTimeout        time.Duration `json:"confirm_timeout"`
	ReferralRetryAttempts int           `json:"referral_retry_attempts"`
	ReferralRetryDelay    time.Duration `json:"referral_retry_delay"`
}

// PlanPurchaseResult contains the final state of a purchase workflow.
type PlanPurchaseResult struct {
	State  payment.PurchaseState `json:"state"`
	Status string                `json:"status"` // "completed", "cancelled", "failed"
	Error  *string               `json:"error,omitempty"`
}

// buyerDecision is what the workflow hears while waiting on the buyer.
type buyerDecision int

const (
	decisionConfirm buyerDecision = iota
	decisionCancel
	decisionTimeout
)

// PlanPurchaseWorkflow settles a membership plan purchase in three steps:
//
//  1. Fee split: the plan fee, net of any bonus offset, goes to the two fee
//     recipients. Blocking; the buyer may retry a failed attempt or dismiss.
//  2. Referral payout: a percentage of the net payment to the referrer.
//     Best effort; retried a fixed number of times and then tolerated.
//  3. Bonus payout: a fixed token amount to the bonus pool. Blocking.
//
// The buyer drives the workflow with "confirm" and "cancel" signals, and any
// observer can watch it with the "status" query. After step 3 the purchase is
// recorded and an audit report is pinned; neither can undo the settlement, so
// failures there are reported but the workflow still completes.
func PlanPurchaseWorkflow(ctx workflow.Context, input PlanPurchaseInput) (*PlanPurchaseResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PlanPurchaseWorkflow started",
		"purchase_id", input.PurchaseID,
		"wallet_address", input.WalletAddress,
		"plan_id", input.PlanID,
	)

	// A referrer that does not decode to a public key is treated as no
	// referrer at all; the buyer never sees an error for someone else's typo.
	if input.Referrer != "" {
		if _, err := solanago.PublicKeyFromBase58(input.Referrer); err != nil {
			logger.Info("referrer is not a valid address, skipping referral payout",
				"purchase_id", input.PurchaseID,
				"referrer", input.Referrer,
			)
			input.Referrer = ""
		}
	}

	state := payment.PurchaseState{
		PurchaseID: input.PurchaseID,
		Buyer:      input.WalletAddress,
		PlanID:     input.PlanID,
		Referrer:   input.Referrer,
		Current:    payment.StepFeeSplit,
		StartedAt:  workflow.Now(ctx),
		UpdatedAt:  workflow.Now(ctx),
	}
	result := &PlanPurchaseResult{}

	err := workflow.SetQueryHandler(ctx, QueryStatus, func() (payment.PurchaseState, error) {
		return state, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	// Reads retry on transient failure; transfers get exactly one attempt
	// per decision so a dropped connection can never double-pay.
	readCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	transferCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	referralCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2*time.Minute + time.Duration(input.ReferralRetryAttempts)*input.ReferralRetryDelay,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	// Price the purchase.
	var rateResult *FetchRateResult
	if err := workflow.ExecuteActivity(readCtx, "FetchRate").Get(ctx, &rateResult); err != nil {
		return fail(result, &state, fmt.Errorf("failed to fetch rate: %w", err))
	}

	var bonusResult *GetBonusBalanceResult
	err = workflow.ExecuteActivity(readCtx, "GetBonusBalance", GetBonusBalanceInput{
		WalletAddress: input.WalletAddress,
	}).Get(ctx, &bonusResult)
	if err != nil {
		return fail(result, &state, fmt.Errorf("failed to fetch bonus balance: %w", err))
	}

	referralPct := input.ReferralPercent
	if input.Referrer == "" {
		referralPct = 0
	}
	quote, err := payment.ComputeQuote(
		input.FiatFee,
		rateResult.Rate.Adjusted,
		bonusResult.Balance,
		input.MinimumPayment,
		input.SplitPercentA,
		referralPct,
	)
	if err != nil {
		return fail(result, &state, fmt.Errorf("failed to compute quote: %w", err))
	}
	quote.RawRate = rateResult.Rate.Raw
	quote.RateFallback = rateResult.Rate.Fallback
	state.Quote = quote

	// The live balance rides along with the quote so the confirmation view
	// can show what the buyer holds. The reader fails closed to zero, so a
	// dead RPC node shows an empty wallet rather than blocking the purchase.
	var balanceResult *GetWalletBalanceResult
	err = workflow.ExecuteActivity(readCtx, "GetWalletBalance", GetWalletBalanceInput{
		WalletAddress: input.WalletAddress,
	}).Get(ctx, &balanceResult)
	if err != nil {
		logger.Warn("wallet balance unavailable", "purchase_id", input.PurchaseID, "error", err)
		balanceResult = &GetWalletBalanceResult{}
	}
	state.WalletBalance = balanceResult.Balance

	publishEvent(readCtx, logger, &natspkg.PurchaseEvent{
		EventType:     natspkg.EventPurchaseStarted,
		PurchaseID:    input.PurchaseID,
		WalletAddress: input.WalletAddress,
		PlanID:        input.PlanID,
	})

	// Step 1: fee split. Two transfers, both must land. A failed attempt
	// parks the step until the buyer confirms again or dismisses; a share
	// that already landed is never re-sent.
	var feeSigA, feeSigB string
	attempts := 0
	for {
		state.SetStep(payment.StepFeeSplit, payment.StepState{
			Status:     payment.StepAwaitingConfirmation,
			Signatures: feeSplitSignatures(feeSigA, feeSigB),
			Attempts:   attempts,
		}, workflow.Now(ctx))

		switch awaitBuyer(ctx, input.ConfirmTimeout) {
		case decisionCancel, decisionTimeout:
			return cancel(ctx, readCtx, logger, result, &state, input)
		case decisionConfirm:
		}

		attempts++
		state.SetStep(payment.StepFeeSplit, payment.StepState{
			Status:     payment.StepProcessing,
			Signatures: feeSplitSignatures(feeSigA, feeSigB),
			Attempts:   attempts,
		}, workflow.Now(ctx))

		var failed *transferFailure
		if feeSigA == "" {
			r, err := executeTransfer(transferCtx, ExecuteTransferInput{
				Recipient: input.FeeRecipientA,
				Amount:    payment.ToBaseUnits(quote.FeeShareA, input.TokenDecimals),
				Purpose:   "fee_share_a",
			})
			if err != nil {
				return fail(result, &state, err)
			}
			if r.Success {
				feeSigA = r.Signature
			} else {
				failed = &transferFailure{Category: string(r.Category), Message: r.Message}
			}
		}
		if failed == nil && feeSigB == "" {
			r, err := executeTransfer(transferCtx, ExecuteTransferInput{
				Recipient: input.FeeRecipientB,
				Amount:    payment.ToBaseUnits(quote.FeeShareB, input.TokenDecimals),
				Purpose:   "fee_share_b",
			})
			if err != nil {
				return fail(result, &state, err)
			}
			if r.Success {
				feeSigB = r.Signature
			} else {
				failed = &transferFailure{Category: string(r.Category), Message: r.Message}
			}
		}

		if failed == nil {
			break
		}

		logger.Warn("fee split attempt failed",
			"purchase_id", input.PurchaseID,
			"attempt", attempts,
			"category", failed.Category,
		)
		state.SetStep(payment.StepFeeSplit, payment.StepState{
			Status:        payment.StepFailed,
			Signatures:    feeSplitSignatures(feeSigA, feeSigB),
			ErrorCategory: failed.Category,
			ErrorMessage:  failed.Message,
			Attempts:      attempts,
		}, workflow.Now(ctx))
		publishStepEvent(readCtx, logger, &state, payment.StepFeeSplit, input)
	}

	state.SetStep(payment.StepFeeSplit, payment.StepState{
		Status:     payment.StepCompleted,
		Signatures: feeSplitSignatures(feeSigA, feeSigB),
		Attempts:   attempts,
	}, workflow.Now(ctx))
	publishStepEvent(readCtx, logger, &state, payment.StepFeeSplit, input)

	// Step 2: referral payout, best effort. The buyer confirms it like any
	// other step, but the purchase proceeds whatever happens once it runs;
	// an exhausted payout is recorded for manual follow-up. No referrer
	// means nothing to confirm and the step completes as a no-op.
	state.Current = payment.StepReferral
	var referralSig string
	if input.Referrer != "" && quote.ReferralAmount.IsPositive() {
		state.SetStep(payment.StepReferral, payment.StepState{
			Status: payment.StepAwaitingConfirmation,
		}, workflow.Now(ctx))

		switch awaitBuyer(ctx, input.ConfirmTimeout) {
		case decisionCancel, decisionTimeout:
			return cancel(ctx, readCtx, logger, result, &state, input)
		case decisionConfirm:
		}

		state.SetStep(payment.StepReferral, payment.StepState{
			Status:   payment.StepProcessing,
			Attempts: input.ReferralRetryAttempts,
		}, workflow.Now(ctx))

		var r *solana.TransferResult
		err = workflow.ExecuteActivity(referralCtx, "ExecuteReferralPayout", ExecuteReferralPayoutInput{
			Recipient: input.Referrer,
			Amount:    payment.ToBaseUnits(quote.ReferralAmount, input.TokenDecimals),
			Attempts:  input.ReferralRetryAttempts,
			Delay:     input.ReferralRetryDelay,
		}).Get(ctx, &r)
		switch {
		case err != nil:
			state.SetStep(payment.StepReferral, payment.StepState{
				Status:       payment.StepFailed,
				ErrorMessage: err.Error(),
				Attempts:     input.ReferralRetryAttempts,
			}, workflow.Now(ctx))
		case r.Success:
			referralSig = r.Signature
			state.SetStep(payment.StepReferral, payment.StepState{
				Status:     payment.StepCompleted,
				Signatures: []string{r.Signature},
				Attempts:   input.ReferralRetryAttempts,
			}, workflow.Now(ctx))
		default:
			state.SetStep(payment.StepReferral, payment.StepState{
				Status:        payment.StepFailed,
				ErrorCategory: string(r.Category),
				ErrorMessage:  r.Message,
				Attempts:      input.ReferralRetryAttempts,
			}, workflow.Now(ctx))
		}
		publishStepEvent(readCtx, logger, &state, payment.StepReferral, input)
	} else {
		state.SetStep(payment.StepReferral, payment.StepState{
			Status: payment.StepCompleted,
		}, workflow.Now(ctx))
	}

	// Step 3: bonus payout. Blocking; a purchase without its bonus is not
	// settled.
	state.Current = payment.StepBonus
	state.SetStep(payment.StepBonus, payment.StepState{
		Status: payment.StepAwaitingConfirmation,
	}, workflow.Now(ctx))

	switch awaitBuyer(ctx, input.ConfirmTimeout) {
	case decisionCancel, decisionTimeout:
		return cancel(ctx, readCtx, logger, result, &state, input)
	case decisionConfirm:
	}

	state.SetStep(payment.StepBonus, payment.StepState{
		Status:   payment.StepProcessing,
		Attempts: 1,
	}, workflow.Now(ctx))

	bonusTransfer, err := executeTransfer(transferCtx, ExecuteTransferInput{
		Recipient: input.BonusPoolWallet,
		Amount:    input.BonusAmount,
		Purpose:   "bonus",
	})
	if err != nil {
		return fail(result, &state, err)
	}
	if !bonusTransfer.Success {
		state.SetStep(payment.StepBonus, payment.StepState{
			Status:        payment.StepFailed,
			ErrorCategory: string(bonusTransfer.Category),
			ErrorMessage:  bonusTransfer.Message,
			Attempts:      1,
		}, workflow.Now(ctx))
		publishStepEvent(readCtx, logger, &state, payment.StepBonus, input)
		return fail(result, &state, fmt.Errorf("bonus payout failed: %s", bonusTransfer.Message))
	}
	state.SetStep(payment.StepBonus, payment.StepState{
		Status:     payment.StepCompleted,
		Signatures: []string{bonusTransfer.Signature},
		Attempts:   1,
	}, workflow.Now(ctx))
	publishStepEvent(readCtx, logger, &state, payment.StepBonus, input)

	state.Completed = true
	state.UpdatedAt = workflow.Now(ctx)

	// Settlement happened on chain; recording and pinning cannot undo it.
	// Failures here are surfaced in the result, not as workflow errors.
	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})
	var persistResult *PersistPlanResult
	err = workflow.ExecuteActivity(persistCtx, "PersistPlan", PersistPlanInput{
		PurchaseID:        input.PurchaseID,
		WalletAddress:     input.WalletAddress,
		PlanID:            input.PlanID,
		Referrer:          input.Referrer,
		Quote:             quote,
		FeeSignatureA:     feeSigA,
		FeeSignatureB:     feeSigB,
		ReferralSignature: referralSig,
		BonusSignature:    bonusTransfer.Signature,
		Status:            "completed",
		StartedAt:         state.StartedAt,
	}).Get(ctx, &persistResult)
	if err != nil {
		logger.Error("failed to persist settled purchase",
			"purchase_id", input.PurchaseID,
			"error", err,
		)
		errMsg := fmt.Sprintf("purchase settled but not recorded: %v", err)
		result.Error = &errMsg
	}

	var pinResult *PinAuditReportResult
	err = workflow.ExecuteActivity(persistCtx, "PinAuditReport", PinAuditReportInput{
		Report: audit.Report{
			PurchaseID:        input.PurchaseID,
			WalletAddress:     input.WalletAddress,
			PlanID:            input.PlanID,
			Referrer:          input.Referrer,
			FiatFee:           quote.FiatFee,
			RateRaw:           quote.RawRate,
			RateAdjusted:      quote.AdjustedRate,
			RateFallback:      quote.RateFallback,
			BonusOffset:       quote.BonusOffset,
			NetPayment:        quote.NetPayment,
			FeeShareA:         quote.FeeShareA,
			FeeShareB:         quote.FeeShareB,
			ReferralAmount:    quote.ReferralAmount,
			FeeSignatureA:     feeSigA,
			FeeSignatureB:     feeSigB,
			ReferralSignature: referralSig,
			BonusSignature:    bonusTransfer.Signature,
			CompletedAt:       workflow.Now(ctx),
		},
	}).Get(ctx, &pinResult)
	if err != nil {
		logger.Warn("failed to pin audit report", "purchase_id", input.PurchaseID, "error", err)
	} else if pinResult.CID != "" {
		state.AuditCID = pinResult.CID
		state.UpdatedAt = workflow.Now(ctx)
	}

	publishEvent(readCtx, logger, &natspkg.PurchaseEvent{
		EventType:     natspkg.EventPurchaseCompleted,
		PurchaseID:    input.PurchaseID,
		WalletAddress: input.WalletAddress,
		PlanID:        input.PlanID,
	})

	logger.Info("PlanPurchaseWorkflow completed",
		"purchase_id", input.PurchaseID,
		"net_payment", quote.NetPayment,
		"audit_cid", state.AuditCID,
	)

	result.State = state
	result.Status = "completed"
	return result, nil
}

// feeSplitSignatures lists the fee split signatures that have landed so far,
// in share order.
func feeSplitSignatures(sigA, sigB string) []string {
	var sigs []string
	if sigA != "" {
		sigs = append(sigs, sigA)
	}
	if sigB != "" {
		sigs = append(sigs, sigB)
	}
	return sigs
}

// transferFailure is what the fee split loop carries across iterations when
// an attempt does not land.
type transferFailure struct {
	Category string
	Message  string
}

func executeTransfer(ctx workflow.Context, input ExecuteTransferInput) (*solana.TransferResult, error) {
	var r *solana.TransferResult
	if err := workflow.ExecuteActivity(ctx, "ExecuteTransfer", input).Get(ctx, &r); err != nil {
		return nil, fmt.Errorf("transfer %s could not be submitted: %w", input.Purpose, err)
	}
	return r, nil
}

// awaitBuyer blocks until the buyer confirms, cancels, or the confirmation
// window lapses. A lapsed window counts as a cancellation.
func awaitBuyer(ctx workflow.Context, timeout time.Duration) buyerDecision {
	confirmCh := workflow.GetSignalChannel(ctx, SignalConfirm)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	decision := decisionTimeout
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(confirmCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
		decision = decisionConfirm
	})
	selector.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
		decision = decisionCancel
	})
	selector.AddFuture(workflow.NewTimer(timerCtx, timeout), func(f workflow.Future) {
		decision = decisionTimeout
	})
	selector.Select(ctx)
	cancelTimer()
	return decision
}

func cancel(ctx workflow.Context, actCtx workflow.Context, logger log.Logger, result *PlanPurchaseResult, state *payment.PurchaseState, input PlanPurchaseInput) (*PlanPurchaseResult, error) {
	state.Cancelled = true
	current := state.StepState(state.Current)
	current.Status = payment.StepNotStarted
	state.SetStep(state.Current, current, workflow.Now(ctx))

	publishEvent(actCtx, logger, &natspkg.PurchaseEvent{
		EventType:     natspkg.EventPurchaseCancelled,
		PurchaseID:    input.PurchaseID,
		WalletAddress: input.WalletAddress,
		PlanID:        input.PlanID,
	})

	logger.Info("PlanPurchaseWorkflow cancelled", "purchase_id", input.PurchaseID)
	result.State = *state
	result.Status = "cancelled"
	return result, nil
}

func fail(result *PlanPurchaseResult, state *payment.PurchaseState, err error) (*PlanPurchaseResult, error) {
	errMsg := err.Error()
	result.State = *state
	result.Status = "failed"
	result.Error = &errMsg
	return result, err
}

func publishStepEvent(ctx workflow.Context, logger log.Logger, state *payment.PurchaseState, step payment.Step, input PlanPurchaseInput) {
	event := natspkg.FromStepState(input.PurchaseID, input.WalletAddress, input.PlanID, step, state.StepState(step))
	publishEvent(ctx, logger, event)
}

// publishEvent fires a lifecycle event and tolerates failure; event delivery
// never gates a purchase.
func publishEvent(ctx workflow.Context, logger log.Logger, event *natspkg.PurchaseEvent) {
	if err := workflow.ExecuteActivity(ctx, "PublishPurchaseEvent", event).Get(ctx, nil); err != nil {
		logger.Info("purchase event not published", "event_type", event.EventType, "error", err)
	}
}
