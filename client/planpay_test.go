package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	referrer := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/members", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, buyer, body["wallet_address"])
		assert.Equal(t, referrer, body["referrer"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet_address": buyer,
			"referrer":       referrer,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	member, err := c.Register(context.Background(), buyer, &referrer, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, buyer, member.WalletAddress)
	require.NotNil(t, member.Referrer)
	assert.Equal(t, referrer, *member.Referrer)
}

func TestRegister_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "wallet already registered"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	_, err := c.Register(context.Background(), "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet already registered")
}

func TestStartPurchase(t *testing.T) {
	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/purchases", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"purchase_id": "f2b9a7d0-9f3b-4c57-8c3a-1df2f9f39e01",
			"run_id":      "run-1",
			"quote": map[string]interface{}{
				"net_payment": "200",
			},
			"invoice": map[string]interface{}{
				"purchase_id":    "f2b9a7d0-9f3b-4c57-8c3a-1df2f9f39e01",
				"amount":         "200",
				"solana_pay_url": "solana:treasury?amount=200",
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	started, err := c.StartPurchase(context.Background(), buyer, "plan-a")
	require.NoError(t, err)
	assert.Equal(t, "f2b9a7d0-9f3b-4c57-8c3a-1df2f9f39e01", started.PurchaseID)
	assert.Equal(t, "run-1", started.RunID)
	assert.Equal(t, "200", started.Quote.NetPayment.String())
	require.NotNil(t, started.Invoice)
	assert.Equal(t, "solana:treasury?amount=200", started.Invoice.SolanaPayURL)
}

func TestConfirmAndCancel(t *testing.T) {
	var gotPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	require.NoError(t, c.ConfirmPurchase(context.Background(), "abc-123"))
	require.NoError(t, c.CancelPurchase(context.Background(), "abc-123"))

	assert.Equal(t, []string{
		"/api/v1/purchases/abc-123/confirm",
		"/api/v1/purchases/abc-123/cancel",
	}, gotPaths)
}

func TestGetPurchase_Running(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/purchases/abc-123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"purchase_id": "abc-123",
			"state": map[string]interface{}{
				"purchase_id":  "abc-123",
				"current_step": 1,
				"completed":    false,
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	status, err := c.GetPurchase(context.Background(), "abc-123")
	require.NoError(t, err)
	require.NotNil(t, status.State)
	assert.Nil(t, status.Plan)
	assert.False(t, status.State.Completed)
}

func TestListPlans(t *testing.T) {
	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plans", r.URL.Path)
		assert.Equal(t, buyer, r.URL.Query().Get("wallet_address"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"plans": []map[string]interface{}{
				{"purchase_id": "abc-123", "plan_id": "plan-a", "status": "completed", "net_payment": "200"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	plans, err := c.ListPlans(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-a", plans[0].PlanID)
	assert.Equal(t, "completed", plans[0].Status)
}

func TestGetBonuses(t *testing.T) {
	buyer := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/members/"+buyer+"/bonuses", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet_address": buyer,
			"balance":        "37.5",
			"entries": []map[string]interface{}{
				{"id": 1, "amount": "25", "source": "referral_reward"},
				{"id": 2, "amount": "12.5", "source": "promotion"},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	balance, err := c.GetBonuses(context.Background(), buyer)
	require.NoError(t, err)
	assert.Equal(t, "37.5", balance.Balance.String())
	require.Len(t, balance.Entries, 2)
	assert.Equal(t, "referral_reward", balance.Entries[0].Source)
}
