package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eastern-cyber/planpay/service/audit"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/metrics"
	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/eastern-cyber/planpay/service/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor returns scripted results in order, repeating the last one.
type fakeExecutor struct {
	results []*solana.TransferResult
	calls   []solana.TransferParams
}

func (f *fakeExecutor) Execute(ctx context.Context, params solana.TransferParams) *solana.TransferResult {
	f.calls = append(f.calls, params)
	idx := len(f.calls) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]
}

type fakeStore struct {
	createErr    error
	createdPlans []db.CreateMemberPlanParams
	bonuses      []decimal.Decimal
	bonusBalance decimal.Decimal
	signatures   []string
	auditCIDs    map[string]string
}

func (f *fakeStore) CreateMemberPlan(ctx context.Context, params db.CreateMemberPlanParams) (*db.MemberPlan, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdPlans = append(f.createdPlans, params)
	return &db.MemberPlan{PurchaseID: params.PurchaseID}, nil
}

func (f *fakeStore) SetPlanAuditCID(ctx context.Context, purchaseID, cid string) error {
	if f.auditCIDs == nil {
		f.auditCIDs = make(map[string]string)
	}
	f.auditCIDs[purchaseID] = cid
	return nil
}

func (f *fakeStore) AddBonus(ctx context.Context, wallet string, amount decimal.Decimal, source string) (*db.Bonus, error) {
	f.bonuses = append(f.bonuses, amount)
	return &db.Bonus{WalletAddress: wallet, Amount: amount}, nil
}

func (f *fakeStore) GetBonusBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	return f.bonusBalance, nil
}

func (f *fakeStore) ListPlanSignatures(ctx context.Context, since time.Time) ([]string, error) {
	return f.signatures, nil
}

type fakePinner struct {
	enabled bool
	cid     string
	err     error
}

func (f *fakePinner) Enabled() bool {
	return f.enabled
}

func (f *fakePinner) Pin(ctx context.Context, report audit.Report) (string, error) {
	return f.cid, f.err
}

func TestExecuteReferralPayout(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		executor := &fakeExecutor{results: []*solana.TransferResult{
			{Success: false, Category: solana.CategoryUnknown, Message: "node unavailable"},
			{Success: false, Category: solana.CategoryUnknown, Message: "node unavailable"},
			{Success: true, Signature: "sig-referral"},
		}}
		a := NewActivities(nil, nil, nil, executor, nil, nil, nil, nil, discardLogger())

		result, err := a.ExecuteReferralPayout(context.Background(), ExecuteReferralPayoutInput{
			Recipient: "ReferrerWa11et11111111111111111111111111111",
			Amount:    20_000_000,
			Attempts:  3,
			Delay:     time.Millisecond,
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "sig-referral", result.Signature)
		assert.Len(t, executor.calls, 3)
		assert.Equal(t, "referral", executor.calls[0].Purpose)
	})

	t.Run("returns last failure when retries are exhausted", func(t *testing.T) {
		executor := &fakeExecutor{results: []*solana.TransferResult{
			{Success: false, Category: solana.CategoryGasEstimation, Message: "blockhash not found"},
		}}
		a := NewActivities(nil, nil, nil, executor, nil, nil, nil, nil, discardLogger())

		result, err := a.ExecuteReferralPayout(context.Background(), ExecuteReferralPayoutInput{
			Recipient: "ReferrerWa11et11111111111111111111111111111",
			Amount:    20_000_000,
			Attempts:  2,
			Delay:     time.Millisecond,
		})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, solana.CategoryGasEstimation, result.Category)
		assert.Len(t, executor.calls, 2)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		executor := &fakeExecutor{results: []*solana.TransferResult{
			{Success: false, Category: solana.CategoryUnknown, Message: "node unavailable"},
		}}
		a := NewActivities(nil, nil, nil, executor, nil, nil, nil, nil, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := a.ExecuteReferralPayout(ctx, ExecuteReferralPayoutInput{
			Recipient: "ReferrerWa11et11111111111111111111111111111",
			Amount:    20_000_000,
			Attempts:  5,
			Delay:     time.Hour,
		})
		assert.Error(t, err)
	})
}

func TestExecuteTransfer(t *testing.T) {
	executor := &fakeExecutor{results: []*solana.TransferResult{
		{Success: false, Category: solana.CategoryInvalidAddress, Message: "invalid recipient address"},
	}}
	a := NewActivities(nil, nil, nil, executor, nil, nil, nil, nil, discardLogger())

	// Failure is encoded in the result, not the activity error, so the
	// workflow can branch without a single automatic retry.
	result, err := a.ExecuteTransfer(context.Background(), ExecuteTransferInput{
		Recipient: "not-an-address",
		Amount:    1,
		Purpose:   "fee_share_a",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, solana.CategoryInvalidAddress, result.Category)
	assert.Len(t, executor.calls, 1)
}

func TestPersistPlan(t *testing.T) {
	input := PersistPlanInput{
		PurchaseID:    "purchase-1",
		WalletAddress: "BuyerWa11et1111111111111111111111111111111",
		PlanID:        "plan-a",
		Status:        "completed",
	}

	t.Run("records the plan and consumes the bonus offset", func(t *testing.T) {
		store := &fakeStore{}
		a := NewActivities(store, nil, nil, nil, nil, nil, nil, nil, discardLogger())

		in := input
		in.Quote.BonusOffset = decimal.RequireFromString("12.5")
		result, err := a.PersistPlan(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, result.AlreadyExisted)
		require.Len(t, store.createdPlans, 1)
		require.Len(t, store.bonuses, 1)
		assert.Equal(t, decimal.RequireFromString("-12.5"), store.bonuses[0])
	})

	t.Run("no ledger entry without an offset", func(t *testing.T) {
		store := &fakeStore{}
		a := NewActivities(store, nil, nil, nil, nil, nil, nil, nil, discardLogger())

		result, err := a.PersistPlan(context.Background(), input)
		require.NoError(t, err)
		assert.False(t, result.AlreadyExisted)
		assert.Empty(t, store.bonuses)
	})

	t.Run("replayed persist finds the existing record", func(t *testing.T) {
		store := &fakeStore{createErr: db.ErrPlanExists}
		a := NewActivities(store, nil, nil, nil, nil, nil, nil, nil, discardLogger())

		in := input
		in.Quote.BonusOffset = decimal.RequireFromString("12.5")
		result, err := a.PersistPlan(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, result.AlreadyExisted)
		// The first attempt already consumed the offset.
		assert.Empty(t, store.bonuses)
	})

	t.Run("other errors propagate", func(t *testing.T) {
		store := &fakeStore{createErr: errors.New("connection refused")}
		a := NewActivities(store, nil, nil, nil, nil, nil, nil, nil, discardLogger())

		_, err := a.PersistPlan(context.Background(), input)
		assert.Error(t, err)
	})

	t.Run("records workflow duration when timing is supplied", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		a := NewActivities(&fakeStore{}, nil, nil, nil, nil, nil, nil, m, discardLogger())

		in := input
		in.StartedAt = time.Now().Add(-time.Minute)
		_, err := a.PersistPlan(context.Background(), in)
		require.NoError(t, err)

		count, err := testutil.GatherAndCount(reg,
			"purchase_workflow_duration_seconds", "purchase_workflows_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestPublishPurchaseEvent(t *testing.T) {
	t.Run("counts step outcomes", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		publisher := natspkg.NewMockPublisher()
		a := NewActivities(&fakeStore{}, nil, nil, nil, nil, nil, publisher, m, discardLogger())

		err := a.PublishPurchaseEvent(context.Background(), &natspkg.PurchaseEvent{
			EventType:     natspkg.EventStepCompleted,
			PurchaseID:    "purchase-1",
			WalletAddress: "BuyerWa11et1111111111111111111111111111111",
			Step:          "fee_split",
			StepStatus:    "completed",
		})
		require.NoError(t, err)
		assert.Len(t, publisher.GetPublishedEvents(), 1)

		count, err := testutil.GatherAndCount(reg, "purchase_steps_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("lifecycle events carry no step counter", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		publisher := natspkg.NewMockPublisher()
		a := NewActivities(&fakeStore{}, nil, nil, nil, nil, nil, publisher, m, discardLogger())

		err := a.PublishPurchaseEvent(context.Background(), &natspkg.PurchaseEvent{
			EventType:     natspkg.EventPurchaseStarted,
			PurchaseID:    "purchase-1",
			WalletAddress: "BuyerWa11et1111111111111111111111111111111",
		})
		require.NoError(t, err)

		count, err := testutil.GatherAndCount(reg, "purchase_steps_total")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestPinAuditReport(t *testing.T) {
	report := audit.Report{PurchaseID: "purchase-1"}

	t.Run("pins and backfills the cid", func(t *testing.T) {
		store := &fakeStore{}
		pinner := &fakePinner{enabled: true, cid: "bafytest"}
		a := NewActivities(store, nil, nil, nil, nil, pinner, nil, nil, discardLogger())

		result, err := a.PinAuditReport(context.Background(), PinAuditReportInput{Report: report})
		require.NoError(t, err)
		assert.Equal(t, "bafytest", result.CID)
		assert.False(t, result.Skipped)
		assert.Equal(t, "bafytest", store.auditCIDs["purchase-1"])
	})

	t.Run("skips when no endpoint is configured", func(t *testing.T) {
		a := NewActivities(&fakeStore{}, nil, nil, nil, nil, &fakePinner{enabled: false}, nil, nil, discardLogger())

		result, err := a.PinAuditReport(context.Background(), PinAuditReportInput{Report: report})
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Empty(t, result.CID)
	})

	t.Run("pin failures propagate", func(t *testing.T) {
		a := NewActivities(&fakeStore{}, nil, nil, nil, nil, &fakePinner{enabled: true, err: errors.New("pin service down")}, nil, nil, discardLogger())

		_, err := a.PinAuditReport(context.Background(), PinAuditReportInput{Report: report})
		assert.Error(t, err)
	})
}

func TestScanTreasury_InvalidAddress(t *testing.T) {
	a := NewActivities(nil, nil, nil, nil, nil, nil, nil, nil, discardLogger())

	_, err := a.ScanTreasury(context.Background(), ScanTreasuryInput{
		WalletAddress: "not-base58!",
		Limit:         10,
	})
	assert.Error(t, err)
}
