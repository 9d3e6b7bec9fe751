package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eastern-cyber/planpay/service/db"
	"github.com/shopspring/decimal"
)

// recordPlanRequest is the JSON request body for recording a settled plan
// purchase directly, bypassing the workflow. Used by backfill tooling and by
// operators importing purchases settled out of band.
type recordPlanRequest struct {
	PurchaseID        string          `json:"purchase_id"`
	PlanID            string          `json:"plan_id"`
	Referrer          *string         `json:"referrer,omitempty"`
	FiatFee           decimal.Decimal `json:"fiat_fee"`
	RateRaw           decimal.Decimal `json:"rate_raw"`
	RateAdjusted      decimal.Decimal `json:"rate_adjusted"`
	RateFallback      bool            `json:"rate_fallback"`
	BonusOffset       decimal.Decimal `json:"bonus_offset"`
	NetPayment        decimal.Decimal `json:"net_payment"`
	FeeShareA         decimal.Decimal `json:"fee_share_a"`
	FeeShareB         decimal.Decimal `json:"fee_share_b"`
	ReferralAmount    decimal.Decimal `json:"referral_amount"`
	FeeSignatureA     *string         `json:"fee_signature_a,omitempty"`
	FeeSignatureB     *string         `json:"fee_signature_b,omitempty"`
	ReferralSignature *string         `json:"referral_signature,omitempty"`
	BonusSignature    *string         `json:"bonus_signature,omitempty"`
	AuditCID          *string         `json:"audit_cid,omitempty"`
	Status            string          `json:"status"`
}

func (r *recordPlanRequest) validate() error {
	if err := validatePurchaseID(r.PurchaseID); err != nil {
		return err
	}
	if r.PlanID == "" {
		return errorf("plan_id is required")
	}
	if r.Referrer != nil {
		if err := validateReferrerAddress(*r.Referrer); err != nil {
			return errorf("invalid referrer: %v", err)
		}
	}
	switch r.Status {
	case "completed", "cancelled", "failed":
	default:
		return errorf("status must be completed, cancelled, or failed")
	}
	if r.NetPayment.IsNegative() || r.FiatFee.IsNegative() {
		return errorf("amounts must not be negative")
	}
	return nil
}

// handleRecordPlan returns a handler that records a settled purchase for a
// member. Records are insert-once: posting a purchase ID that already exists
// returns the original row untouched.
// POST /api/v1/members/{wallet_address}/plans
func handleRecordPlan(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		walletAddress := r.PathValue("wallet_address")
		if err := validateAddress(walletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req recordPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err := store.GetMember(r.Context(), walletAddress); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "wallet is not a registered member", http.StatusNotFound)
				return
			}
			logger.Error("failed to look up member", "wallet_address", walletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		plan, err := store.CreateMemberPlan(r.Context(), db.CreateMemberPlanParams{
			PurchaseID:        req.PurchaseID,
			WalletAddress:     walletAddress,
			PlanID:            req.PlanID,
			Referrer:          req.Referrer,
			FiatFee:           req.FiatFee,
			RateRaw:           req.RateRaw,
			RateAdjusted:      req.RateAdjusted,
			RateFallback:      req.RateFallback,
			BonusOffset:       req.BonusOffset,
			NetPayment:        req.NetPayment,
			FeeShareA:         req.FeeShareA,
			FeeShareB:         req.FeeShareB,
			ReferralAmount:    req.ReferralAmount,
			FeeSignatureA:     req.FeeSignatureA,
			FeeSignatureB:     req.FeeSignatureB,
			ReferralSignature: req.ReferralSignature,
			BonusSignature:    req.BonusSignature,
			AuditCID:          req.AuditCID,
			Status:            req.Status,
		})
		if errors.Is(err, db.ErrPlanExists) {
			existing, getErr := store.GetMemberPlan(r.Context(), req.PurchaseID)
			if getErr != nil {
				logger.Error("failed to fetch existing plan record", "purchase_id", req.PurchaseID, "error", getErr)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			resp := planToResponse(existing)
			writeJSON(w, resp, http.StatusOK)
			return
		}
		if err != nil {
			logger.Error("failed to record plan", "purchase_id", req.PurchaseID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("recorded plan purchase",
			"purchase_id", plan.PurchaseID,
			"wallet_address", plan.WalletAddress,
			"plan_id", plan.PlanID)

		resp := planToResponse(plan)
		writeJSON(w, resp, http.StatusCreated)
	})
}

// handleGetRate returns a handler that reports the current exchange rate
// snapshot as served to quote and purchase pricing.
// GET /api/v1/rate
func handleGetRate(rates RateSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rates.Latest(), http.StatusOK)
	})
}
