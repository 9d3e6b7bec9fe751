package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPurchaseClient is an in-memory PurchaseClient for handler tests.
type mockPurchaseClient struct {
	mu       sync.Mutex
	started  []temporal.PlanPurchaseInput
	startErr error

	confirmed []string
	cancelled []string
	signalErr error

	state    *payment.PurchaseState
	queryErr error
}

func (m *mockPurchaseClient) StartPurchase(ctx context.Context, input temporal.PlanPurchaseInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.started = append(m.started, input)
	return "test-run-id", nil
}

func (m *mockPurchaseClient) ConfirmPurchase(ctx context.Context, purchaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signalErr != nil {
		return m.signalErr
	}
	m.confirmed = append(m.confirmed, purchaseID)
	return nil
}

func (m *mockPurchaseClient) CancelPurchase(ctx context.Context, purchaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signalErr != nil {
		return m.signalErr
	}
	m.cancelled = append(m.cancelled, purchaseID)
	return nil
}

func (m *mockPurchaseClient) PurchaseStatus(ctx context.Context, purchaseID string) (*payment.PurchaseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.state, nil
}

// staticRates serves a fixed rate observation.
type staticRates struct {
	rate rate.Rate
}

func (s staticRates) Latest() rate.Rate { return s.rate }

func testConfig() *config.Config {
	return &config.Config{
		TokenMintAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		TokenDecimals:    6,
		TreasuryWallet:   "3yFwqXBfZY4jBVUafQ1YEXw189y2dN3V5KQq9uzBDy1E",
		Plans: config.PlanConfig{
			FeeRecipientA:         "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			FeeRecipientB:         "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			SplitPercentA:         70,
			PlanAFee:              800,
			PlanBFee:              1600,
			BonusTokenAmount:      1_000_000,
			BonusPoolWallet:       "BPFLoaderUpgradeab1e11111111111111111111111",
			ReferralPercent:       10,
			MinimumPayment:        1,
			ConfirmTimeout:        30 * time.Minute,
			ReferralRetryAttempts: 3,
			ReferralRetryDelay:    5 * time.Second,
		},
	}
}

func testRates() staticRates {
	return staticRates{rate: rate.Rate{
		Raw:       decimal.RequireFromString("4.25"),
		Adjusted:  decimal.RequireFromString("4"),
		Source:    "test",
		FetchedAt: time.Now(),
	}}
}

func TestStartPurchase(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()
	cfg := testConfig()

	referrer := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	for _, body := range []string{
		`{"wallet_address":"` + referrer + `"}`,
		`{"wallet_address":"` + buyer + `","referrer":"` + referrer + `"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader(body))
		w := httptest.NewRecorder()
		handleCreateMember(store, logger).ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	purchases := &mockPurchaseClient{}
	handler := handleStartPurchase(store, purchases, testRates(), cfg, logger)

	t.Run("starts workflow and returns invoice", func(t *testing.T) {
		body := `{"wallet_address":"` + buyer + `","plan_id":"plan-a"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp startPurchaseResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		_, err := uuid.Parse(resp.PurchaseID)
		assert.NoError(t, err)
		assert.Equal(t, "test-run-id", resp.RunID)

		// 800 THB / 4.0 = 200 tokens, split 140/60, 10% referral.
		assert.True(t, resp.Quote.NetPayment.Equal(decimal.RequireFromString("200")))
		assert.True(t, resp.Quote.FeeShareA.Equal(decimal.RequireFromString("140")))
		assert.True(t, resp.Quote.FeeShareB.Equal(decimal.RequireFromString("60")))
		assert.True(t, resp.Quote.ReferralAmount.Equal(decimal.RequireFromString("20")))

		require.NotNil(t, resp.Invoice)
		assert.Equal(t, cfg.TreasuryWallet, resp.Invoice.Recipient)
		assert.Contains(t, resp.Invoice.SolanaPayURL, "solana:"+cfg.TreasuryWallet)
		assert.Contains(t, resp.Invoice.Memo, resp.PurchaseID)
		assert.NotEmpty(t, resp.Invoice.QRCode)

		require.Len(t, purchases.started, 1)
		input := purchases.started[0]
		assert.Equal(t, buyer, input.WalletAddress)
		assert.Equal(t, "plan-a", input.PlanID)
		assert.Equal(t, referrer, input.Referrer)
		assert.True(t, input.FiatFee.Equal(decimal.RequireFromString("800")))
		assert.Equal(t, cfg.Plans.BonusTokenAmount, input.BonusAmount)
	})

	t.Run("unknown plan rejected", func(t *testing.T) {
		body := `{"wallet_address":"` + buyer + `","plan_id":"plan-z"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unregistered wallet rejected", func(t *testing.T) {
		body := `{"wallet_address":"BPFLoaderUpgradeab1e11111111111111111111111","plan_id":"plan-a"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("workflow start failure surfaces as 500", func(t *testing.T) {
		failing := &mockPurchaseClient{startErr: errors.New("temporal unreachable")}
		h := handleStartPurchase(store, failing, testRates(), cfg, logger)
		body := `{"wallet_address":"` + buyer + `","plan_id":"plan-a"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestQuote(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()
	cfg := testConfig()

	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader(`{"wallet_address":"`+buyer+`"}`))
	w := httptest.NewRecorder()
	handleCreateMember(store, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	handler := handleQuote(store, testRates(), cfg, logger)

	t.Run("prices a plan", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/quote?wallet_address="+buyer+"&plan_id=plan-b", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp quoteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "plan-b", resp.PlanID)
		// 1600 THB / 4.0 = 400 tokens.
		assert.True(t, resp.Quote.NetPayment.Equal(decimal.RequireFromString("400")))
		// No referrer on this member, so no referral cut.
		assert.True(t, resp.Quote.ReferralAmount.IsZero())
		assert.False(t, resp.Rate.Fallback)
	})

	t.Run("missing plan_id rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/quote?wallet_address="+buyer, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestConfirmAndCancelPurchase(t *testing.T) {
	logger := testLogger()
	purchaseID := uuid.New().String()

	t.Run("confirm signals workflow", func(t *testing.T) {
		purchases := &mockPurchaseClient{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/"+purchaseID+"/confirm", nil)
		req.SetPathValue("purchase_id", purchaseID)
		w := httptest.NewRecorder()
		handleConfirmPurchase(purchases, logger).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{purchaseID}, purchases.confirmed)
	})

	t.Run("cancel signals workflow", func(t *testing.T) {
		purchases := &mockPurchaseClient{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/"+purchaseID+"/cancel", nil)
		req.SetPathValue("purchase_id", purchaseID)
		w := httptest.NewRecorder()
		handleCancelPurchase(purchases, logger).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{purchaseID}, purchases.cancelled)
	})

	t.Run("invalid purchase id rejected", func(t *testing.T) {
		purchases := &mockPurchaseClient{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/not-a-uuid/confirm", nil)
		req.SetPathValue("purchase_id", "not-a-uuid")
		w := httptest.NewRecorder()
		handleConfirmPurchase(purchases, logger).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, purchases.confirmed)
	})

	t.Run("signal failure maps to 404", func(t *testing.T) {
		purchases := &mockPurchaseClient{signalErr: errors.New("workflow not found")}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/"+purchaseID+"/confirm", nil)
		req.SetPathValue("purchase_id", purchaseID)
		w := httptest.NewRecorder()
		handleConfirmPurchase(purchases, logger).ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetPurchase_RunningWorkflow(t *testing.T) {
	logger := testLogger()
	purchaseID := uuid.New().String()

	state := &payment.PurchaseState{
		PurchaseID: purchaseID,
		Buyer:      "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		PlanID:     "plan-a",
		Current:    payment.StepFeeSplit,
	}
	purchases := &mockPurchaseClient{state: state}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/purchases/"+purchaseID, nil)
	req.SetPathValue("purchase_id", purchaseID)
	w := httptest.NewRecorder()
	// The store is only consulted when the workflow query fails.
	handleGetPurchase(nil, purchases, logger).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp purchaseStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.State)
	assert.Nil(t, resp.Plan)
	assert.Equal(t, purchaseID, resp.State.PurchaseID)
	assert.Equal(t, payment.StepFeeSplit, resp.State.Current)
}

func TestGetPurchase_SettledRecord(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()

	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader(`{"wallet_address":"`+buyer+`"}`))
	w := httptest.NewRecorder()
	handleCreateMember(store, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	purchaseID := uuid.New().String()
	sigA := "5fQ3sig1"
	sigB := "5fQ3sig2"
	_, err := store.CreateMemberPlan(context.Background(), db.CreateMemberPlanParams{
		PurchaseID:     purchaseID,
		WalletAddress:  buyer,
		PlanID:         "plan-a",
		FiatFee:        decimal.RequireFromString("800"),
		RateRaw:        decimal.RequireFromString("4.25"),
		RateAdjusted:   decimal.RequireFromString("4"),
		BonusOffset:    decimal.Zero,
		NetPayment:     decimal.RequireFromString("200"),
		FeeShareA:      decimal.RequireFromString("140"),
		FeeShareB:      decimal.RequireFromString("60"),
		ReferralAmount: decimal.Zero,
		FeeSignatureA:  &sigA,
		FeeSignatureB:  &sigB,
		Status:         "completed",
	})
	require.NoError(t, err)

	purchases := &mockPurchaseClient{queryErr: errors.New("workflow not found")}
	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/purchases/"+purchaseID, nil)
	getReq.SetPathValue("purchase_id", purchaseID)
	getW := httptest.NewRecorder()
	handleGetPurchase(store, purchases, logger).ServeHTTP(getW, getReq)

	require.Equal(t, http.StatusOK, getW.Code, getW.Body.String())
	var resp purchaseStatusResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &resp))
	assert.Nil(t, resp.State)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, purchaseID, resp.Plan.PurchaseID)
	assert.Equal(t, "completed", resp.Plan.Status)
	require.NotNil(t, resp.Plan.FeeSignatureA)
	assert.Equal(t, sigA, *resp.Plan.FeeSignatureA)
}
