package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMembers(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("create and get member", func(t *testing.T) {
		m, err := store.CreateMember(ctx, CreateMemberParams{
			WalletAddress: "wallet-alice",
			Email:         strPtr("alice@example.com"),
			Name:          strPtr("Alice"),
		})
		require.NoError(t, err)
		assert.Equal(t, "wallet-alice", m.WalletAddress)
		assert.Equal(t, "alice@example.com", *m.Email)
		assert.WithinDuration(t, time.Now(), m.CreatedAt, 5*time.Second)

		got, err := store.GetMember(ctx, "wallet-alice")
		require.NoError(t, err)
		assert.Equal(t, m.WalletAddress, got.WalletAddress)
	})

	t.Run("member with referrer", func(t *testing.T) {
		m, err := store.CreateMember(ctx, CreateMemberParams{
			WalletAddress: "wallet-bob",
			Referrer:      strPtr("wallet-alice"),
		})
		require.NoError(t, err)
		require.NotNil(t, m.Referrer)
		assert.Equal(t, "wallet-alice", *m.Referrer)
	})

	t.Run("get missing member", func(t *testing.T) {
		_, err := store.GetMember(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update member", func(t *testing.T) {
		m, err := store.UpdateMember(ctx, CreateMemberParams{
			WalletAddress: "wallet-alice",
			Email:         strPtr("new@example.com"),
			Name:          strPtr("Alice"),
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", *m.Email)
	})

	t.Run("list members", func(t *testing.T) {
		members, err := store.ListMembers(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(members), 2)
	})

	t.Run("delete missing member", func(t *testing.T) {
		err := store.DeleteMember(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemberPlans(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	params := CreateMemberPlanParams{
		PurchaseID:        "purchase-1",
		WalletAddress:     "wallet-alice",
		PlanID:            "plan-a",
		Referrer:          strPtr("wallet-carol"),
		FiatFee:           dec("800"),
		RateRaw:           dec("4.85"),
		RateAdjusted:      dec("4.6"),
		BonusOffset:       dec("50"),
		NetPayment:        dec("123.9130"),
		FeeShareA:         dec("86.7391"),
		FeeShareB:         dec("37.1739"),
		ReferralAmount:    dec("12.3913"),
		FeeSignatureA:     strPtr("sig-fee-a"),
		FeeSignatureB:     strPtr("sig-fee-b"),
		ReferralSignature: nil,
		BonusSignature:    strPtr("sig-bonus"),
		Status:            "completed",
	}

	t.Run("create plan record", func(t *testing.T) {
		plan, err := store.CreateMemberPlan(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "purchase-1", plan.PurchaseID)
		assert.True(t, plan.NetPayment.Equal(dec("123.9130")), "got %s", plan.NetPayment)
		assert.True(t, plan.FeeShareA.Add(plan.FeeShareB).Equal(plan.NetPayment))
		assert.Nil(t, plan.ReferralSignature)
		assert.NotNil(t, plan.BonusSignature)
	})

	t.Run("records are insert-once", func(t *testing.T) {
		altered := params
		altered.NetPayment = dec("999")
		_, err := store.CreateMemberPlan(ctx, altered)
		assert.ErrorIs(t, err, ErrPlanExists)

		// original row is untouched
		plan, err := store.GetMemberPlan(ctx, "purchase-1")
		require.NoError(t, err)
		assert.True(t, plan.NetPayment.Equal(dec("123.9130")))
	})

	t.Run("list plans by wallet", func(t *testing.T) {
		plans, err := store.ListMemberPlansByWallet(ctx, "wallet-alice")
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "plan-a", plans[0].PlanID)
	})

	t.Run("has active plan", func(t *testing.T) {
		active, err := store.HasActivePlan(ctx, "wallet-alice")
		require.NoError(t, err)
		assert.True(t, active)

		active, err = store.HasActivePlan(ctx, "wallet-nobody")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("audit cid backfill is one-shot", func(t *testing.T) {
		err := store.SetPlanAuditCID(ctx, "purchase-1", "bafy-report-1")
		require.NoError(t, err)

		// a second backfill does not overwrite
		err = store.SetPlanAuditCID(ctx, "purchase-1", "bafy-report-2")
		assert.ErrorIs(t, err, ErrNotFound)

		plan, err := store.GetMemberPlan(ctx, "purchase-1")
		require.NoError(t, err)
		require.NotNil(t, plan.AuditCID)
		assert.Equal(t, "bafy-report-1", *plan.AuditCID)
	})

	t.Run("plan signatures feed reconciliation", func(t *testing.T) {
		sigs, err := store.ListPlanSignatures(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"sig-fee-a", "sig-fee-b", "sig-bonus"}, sigs)
	})
}

func TestBonuses(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("empty ledger reads zero", func(t *testing.T) {
		balance, err := store.GetBonusBalance(ctx, "wallet-dave")
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("ledger sums awards and consumption", func(t *testing.T) {
		_, err := store.AddBonus(ctx, "wallet-dave", dec("100"), "purchase-1")
		require.NoError(t, err)
		_, err = store.AddBonus(ctx, "wallet-dave", dec("25.5"), "purchase-2")
		require.NoError(t, err)
		_, err = store.AddBonus(ctx, "wallet-dave", dec("-50"), "offset:purchase-3")
		require.NoError(t, err)

		balance, err := store.GetBonusBalance(ctx, "wallet-dave")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("75.5")), "got %s", balance)
	})

	t.Run("list bonuses newest first", func(t *testing.T) {
		bonuses, err := store.ListBonuses(ctx, "wallet-dave")
		require.NoError(t, err)
		require.Len(t, bonuses, 3)
		assert.Equal(t, "offset:purchase-3", bonuses[0].Source)
	})

	t.Run("backfilled rows sort by timestamp", func(t *testing.T) {
		store.MustExec(t, `
			INSERT INTO bonuses (wallet_address, amount, source, created_at)
			VALUES ($1, $2::numeric, $3, now() - interval '1 day')`,
			"wallet-dave", "10", "backfill:purchase-0")

		bonuses, err := store.ListBonuses(ctx, "wallet-dave")
		require.NoError(t, err)
		require.Len(t, bonuses, 4)
		assert.Equal(t, "backfill:purchase-0", bonuses[3].Source)

		balance, err := store.GetBonusBalance(ctx, "wallet-dave")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("85.5")), "got %s", balance)
	})
}
