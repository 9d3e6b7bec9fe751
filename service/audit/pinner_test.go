package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReport() Report {
	return Report{
		PurchaseID:    "purchase-1",
		WalletAddress: "wallet-alice",
		PlanID:        "plan-a",
		FiatFee:       decimal.RequireFromString("800"),
		RateAdjusted:  decimal.RequireFromString("4.6"),
		NetPayment:    decimal.RequireFromString("173.9130"),
		FeeShareA:     decimal.RequireFromString("121.7391"),
		FeeShareB:     decimal.RequireFromString("52.1739"),
		FeeSignatureA: "sig-a",
		FeeSignatureB: "sig-b",
		CompletedAt:   time.Now(),
	}
}

func TestPin(t *testing.T) {
	t.Run("successful pin returns cid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var got Report
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, "purchase-1", got.PurchaseID)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"cid": "bafy-test-cid"})
		}))
		defer srv.Close()

		p := NewPinner(srv.URL, nil, nil, testLogger())
		cid, err := p.Pin(context.Background(), sampleReport())
		require.NoError(t, err)
		assert.Equal(t, "bafy-test-cid", cid)
	})

	t.Run("server error surfaces as error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		p := NewPinner(srv.URL, nil, nil, testLogger())
		_, err := p.Pin(context.Background(), sampleReport())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("missing cid in response is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer srv.Close()

		p := NewPinner(srv.URL, nil, nil, testLogger())
		_, err := p.Pin(context.Background(), sampleReport())
		assert.Error(t, err)
	})

	t.Run("disabled pinner is a no-op", func(t *testing.T) {
		p := NewPinner("", nil, nil, testLogger())
		assert.False(t, p.Enabled())

		cid, err := p.Pin(context.Background(), sampleReport())
		require.NoError(t, err)
		assert.Empty(t, cid)
	})
}
