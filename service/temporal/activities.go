package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eastern-cyber/planpay/service/audit"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/metrics"
	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/eastern-cyber/planpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// FetchRateResult carries the rate used to price a purchase.
type FetchRateResult struct {
	Rate rate.Rate `json:"rate"`
}

// GetBonusBalanceInput contains parameters for the GetBonusBalance activity.
type GetBonusBalanceInput struct {
	WalletAddress string `json:"wallet_address"`
}

// GetBonusBalanceResult contains the buyer's accumulated bonus balance.
type GetBonusBalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetWalletBalanceInput contains parameters for the GetWalletBalance activity.
type GetWalletBalanceInput struct {
	WalletAddress string `json:"wallet_address"`
}

// GetWalletBalanceResult contains a wallet's on-chain token balance.
// A zero balance may mean the wallet is empty or that the read failed;
// the reader does not distinguish the two.
type GetWalletBalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
}

// ExecuteTransferInput contains parameters for the ExecuteTransfer activity.
type ExecuteTransferInput struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"` // base units
	Purpose   string `json:"purpose"`
}

// ExecuteReferralPayoutInput contains parameters for the referral payout.
// The payout retries internally with a fixed delay, so the activity itself
// runs with a single Temporal attempt.
type ExecuteReferralPayoutInput struct {
	Recipient string        `json:"recipient"`
	Amount    int64         `json:"amount"` // base units
	Attempts  int           `json:"attempts"`
	Delay     time.Duration `json:"delay"`
}

// PersistPlanInput contains everything needed to record a settled purchase.
type PersistPlanInput struct {
	PurchaseID        string          `json:"purchase_id"`
	WalletAddress     string          `json:"wallet_address"`
	PlanID            string          `json:"plan_id"`
	Referrer          string          `json:"referrer,omitempty"`
	Quote             payment.Quote   `json:"quote"`
	FeeSignatureA     string          `json:"fee_signature_a,omitempty"`
	FeeSignatureB     string          `json:"fee_signature_b,omitempty"`
	ReferralSignature string          `json:"referral_signature,omitempty"`
	BonusSignature    string          `json:"bonus_signature,omitempty"`
	Status            string          `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
}

// PersistPlanResult contains the result of recording a purchase.
type PersistPlanResult struct {
	// AlreadyExisted is true when the purchase had been recorded by an
	// earlier attempt. The original row is left untouched.
	AlreadyExisted bool `json:"already_existed"`
}

// PinAuditReportInput contains parameters for the PinAuditReport activity.
type PinAuditReportInput struct {
	Report audit.Report `json:"report"`
}

// PinAuditReportResult contains the result of pinning an audit report.
type PinAuditReportResult struct {
	CID string `json:"cid,omitempty"`
	// Skipped is true when no pin endpoint is configured.
	Skipped bool `json:"skipped"`
}

// GetPlanSignaturesInput contains parameters for the GetPlanSignatures activity.
type GetPlanSignaturesInput struct {
	Since time.Time `json:"since"`
}

// GetPlanSignaturesResult contains the signatures recorded for settled plans.
type GetPlanSignaturesResult struct {
	Signatures []string `json:"signatures"`
}

// ScanTreasuryInput contains parameters for the ScanTreasury activity.
type ScanTreasuryInput struct {
	WalletAddress   string   `json:"wallet_address"`
	Limit           int      `json:"limit"`
	KnownSignatures []string `json:"known_signatures"`
}

// ScanTreasuryResult contains the treasury transfers not matched to a plan.
type ScanTreasuryResult struct {
	Transfers []*solana.Transfer `json:"transfers"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateMemberPlan(context.Context, db.CreateMemberPlanParams) (*db.MemberPlan, error)
	SetPlanAuditCID(context.Context, string, string) error
	AddBonus(context.Context, string, decimal.Decimal, string) (*db.Bonus, error)
	GetBonusBalance(context.Context, string) (decimal.Decimal, error)
	ListPlanSignatures(context.Context, time.Time) ([]string, error)
}

// RateProviderInterface defines the exchange rate operations needed by activities.
type RateProviderInterface interface {
	Current(ctx context.Context) rate.Rate
}

// BalanceReaderInterface defines the balance read operations needed by activities.
type BalanceReaderInterface interface {
	TokenBalance(ctx context.Context, walletAddress string) decimal.Decimal
}

// ExecutorInterface defines the transfer submission operations needed by activities.
type ExecutorInterface interface {
	Execute(ctx context.Context, params solana.TransferParams) *solana.TransferResult
}

// ScannerInterface defines the chain scanning operations needed by activities.
type ScannerInterface interface {
	ListTransfersSince(ctx context.Context, params solana.ScanParams) ([]*solana.Transfer, error)
}

// PinnerInterface defines the audit pinning operations needed by activities.
type PinnerInterface interface {
	Enabled() bool
	Pin(ctx context.Context, report audit.Report) (string, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishPurchaseEvent(ctx context.Context, event *natspkg.PurchaseEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	rates     RateProviderInterface
	balances  BalanceReaderInterface
	executor  ExecutorInterface
	scanner   ScannerInterface
	pinner    PinnerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	rates RateProviderInterface,
	balances BalanceReaderInterface,
	executor ExecutorInterface,
	scanner ScannerInterface,
	pinner PinnerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		rates:     rates,
		balances:  balances,
		executor:  executor,
		scanner:   scanner,
		pinner:    pinner,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) timeActivity(name string) func() {
	start := time.Now()
	return func() {
		a.metrics.RecordActivityDuration(name, time.Since(start).Seconds())
	}
}

// FetchRate returns the current adjusted exchange rate. It never fails: when
// every feed is down the provider falls back to its configured constant.
func (a *Activities) FetchRate(ctx context.Context) (*FetchRateResult, error) {
	defer a.timeActivity("FetchRate")()

	r := a.rates.Current(ctx)
	a.logger.Debug("fetched rate",
		"raw", r.Raw,
		"adjusted", r.Adjusted,
		"source", r.Source,
		"fallback", r.Fallback,
	)
	return &FetchRateResult{Rate: r}, nil
}

// GetBonusBalance returns the buyer's accumulated bonus ledger balance.
func (a *Activities) GetBonusBalance(ctx context.Context, input GetBonusBalanceInput) (*GetBonusBalanceResult, error) {
	defer a.timeActivity("GetBonusBalance")()

	balance, err := a.store.GetBonusBalance(ctx, input.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get bonus balance for %s: %w", input.WalletAddress, err)
	}
	return &GetBonusBalanceResult{Balance: balance}, nil
}

// GetWalletBalance returns a wallet's on-chain token balance. Reads fail
// closed: any error reports zero.
func (a *Activities) GetWalletBalance(ctx context.Context, input GetWalletBalanceInput) (*GetWalletBalanceResult, error) {
	defer a.timeActivity("GetWalletBalance")()

	balance := a.balances.TokenBalance(ctx, input.WalletAddress)
	return &GetWalletBalanceResult{Balance: balance}, nil
}

// ExecuteTransfer submits a single token transfer from the treasury. The
// outcome, success or categorized failure, is encoded in the result rather
// than the error so the workflow can branch on it. Exactly one transaction
// is attempted per call; the workflow controls any retrying.
func (a *Activities) ExecuteTransfer(ctx context.Context, input ExecuteTransferInput) (*solana.TransferResult, error) {
	defer a.timeActivity("ExecuteTransfer")()

	result := a.executor.Execute(ctx, solana.TransferParams{
		Recipient: input.Recipient,
		Amount:    input.Amount,
		Purpose:   input.Purpose,
	})
	return result, nil
}

// ExecuteReferralPayout submits the referral transfer, retrying with a fixed
// delay up to the configured attempt count. The last result is returned even
// when every attempt failed; referral payouts never block a purchase.
func (a *Activities) ExecuteReferralPayout(ctx context.Context, input ExecuteReferralPayoutInput) (*solana.TransferResult, error) {
	defer a.timeActivity("ExecuteReferralPayout")()

	result, err := payment.WithRetry(ctx, input.Attempts, input.Delay,
		func(ctx context.Context) (*solana.TransferResult, error) {
			return a.executor.Execute(ctx, solana.TransferParams{
				Recipient: input.Recipient,
				Amount:    input.Amount,
				Purpose:   "referral",
			}), nil
		},
		func(r *solana.TransferResult) bool { return r.Success },
	)
	if err != nil {
		return nil, fmt.Errorf("referral payout aborted: %w", err)
	}
	if !result.Success {
		a.logger.Warn("referral payout exhausted retries",
			"recipient", input.Recipient,
			"attempts", input.Attempts,
			"category", result.Category,
		)
	}
	return result, nil
}

// PersistPlan records a settled purchase and consumes the bonus offset it
// applied. Records are insert-once: a replayed call finds the existing row
// and reports it without touching anything.
func (a *Activities) PersistPlan(ctx context.Context, input PersistPlanInput) (*PersistPlanResult, error) {
	defer a.timeActivity("PersistPlan")()

	var referrer *string
	if input.Referrer != "" {
		referrer = &input.Referrer
	}

	params := db.CreateMemberPlanParams{
		PurchaseID:        input.PurchaseID,
		WalletAddress:     input.WalletAddress,
		PlanID:            input.PlanID,
		Referrer:          referrer,
		FiatFee:           input.Quote.FiatFee,
		RateRaw:           input.Quote.RawRate,
		RateAdjusted:      input.Quote.AdjustedRate,
		RateFallback:      input.Quote.RateFallback,
		BonusOffset:       input.Quote.BonusOffset,
		NetPayment:        input.Quote.NetPayment,
		FeeShareA:         input.Quote.FeeShareA,
		FeeShareB:         input.Quote.FeeShareB,
		ReferralAmount:    input.Quote.ReferralAmount,
		FeeSignatureA:     stringPtrOrNil(input.FeeSignatureA),
		FeeSignatureB:     stringPtrOrNil(input.FeeSignatureB),
		ReferralSignature: stringPtrOrNil(input.ReferralSignature),
		BonusSignature:    stringPtrOrNil(input.BonusSignature),
		Status:            input.Status,
	}

	_, err := a.store.CreateMemberPlan(ctx, params)
	if err != nil {
		if errors.Is(err, db.ErrPlanExists) {
			a.logger.Info("purchase already recorded", "purchase_id", input.PurchaseID)
			return &PersistPlanResult{AlreadyExisted: true}, nil
		}
		return nil, fmt.Errorf("failed to persist plan %s: %w", input.PurchaseID, err)
	}

	if input.Quote.BonusOffset.IsPositive() {
		_, err = a.store.AddBonus(ctx, input.WalletAddress, input.Quote.BonusOffset.Neg(), "plan_purchase")
		if err != nil {
			return nil, fmt.Errorf("failed to consume bonus offset for %s: %w", input.PurchaseID, err)
		}
	}

	if !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(input.PlanID, input.Status, time.Since(input.StartedAt).Seconds())
	}

	a.logger.Info("purchase recorded",
		"purchase_id", input.PurchaseID,
		"wallet_address", input.WalletAddress,
		"plan_id", input.PlanID,
		"status", input.Status,
	)
	return &PersistPlanResult{}, nil
}

// PinAuditReport posts the purchase report to the pin endpoint and backfills
// the returned CID onto the stored plan. Callers treat failures as advisory.
func (a *Activities) PinAuditReport(ctx context.Context, input PinAuditReportInput) (*PinAuditReportResult, error) {
	defer a.timeActivity("PinAuditReport")()

	if !a.pinner.Enabled() {
		return &PinAuditReportResult{Skipped: true}, nil
	}

	cid, err := a.pinner.Pin(ctx, input.Report)
	if err != nil {
		return nil, fmt.Errorf("failed to pin audit report for %s: %w", input.Report.PurchaseID, err)
	}

	if err := a.store.SetPlanAuditCID(ctx, input.Report.PurchaseID, cid); err != nil {
		// The report is pinned; losing the backfill only costs a lookup.
		a.logger.Warn("failed to record audit cid",
			"purchase_id", input.Report.PurchaseID,
			"cid", cid,
			"error", err,
		)
	}

	a.logger.Info("audit report pinned", "purchase_id", input.Report.PurchaseID, "cid", cid)
	return &PinAuditReportResult{CID: cid}, nil
}

// PublishPurchaseEvent publishes a purchase lifecycle event to NATS.
func (a *Activities) PublishPurchaseEvent(ctx context.Context, event *natspkg.PurchaseEvent) error {
	defer a.timeActivity("PublishPurchaseEvent")()

	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	if event.Step != "" {
		a.metrics.RecordPurchaseStep(event.Step, event.StepStatus)
	}
	if err := a.publisher.PublishPurchaseEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", event.EventType, event.PurchaseID, err)
	}
	return nil
}

// GetPlanSignatures returns every transfer signature recorded for plans
// settled since the given time.
func (a *Activities) GetPlanSignatures(ctx context.Context, input GetPlanSignaturesInput) (*GetPlanSignaturesResult, error) {
	defer a.timeActivity("GetPlanSignatures")()

	sigs, err := a.store.ListPlanSignatures(ctx, input.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan signatures: %w", err)
	}
	return &GetPlanSignaturesResult{Signatures: sigs}, nil
}

// ScanTreasury lists recent treasury transfers that are not attributable to
// a recorded plan.
func (a *Activities) ScanTreasury(ctx context.Context, input ScanTreasuryInput) (*ScanTreasuryResult, error) {
	defer a.timeActivity("ScanTreasury")()

	wallet, err := solanago.PublicKeyFromBase58(input.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury address %q: %w", input.WalletAddress, err)
	}

	transfers, err := a.scanner.ListTransfersSince(ctx, solana.ScanParams{
		Wallet:          wallet,
		Limit:           input.Limit,
		KnownSignatures: input.KnownSignatures,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan treasury: %w", err)
	}
	return &ScanTreasuryResult{Transfers: transfers}, nil
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
