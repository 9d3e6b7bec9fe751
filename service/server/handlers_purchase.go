package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// startPurchaseRequest is the JSON request body for starting a plan purchase.
type startPurchaseRequest struct {
	WalletAddress string `json:"wallet_address"`
	PlanID        string `json:"plan_id"`
}

// startPurchaseResponse is the JSON response for a started purchase. The quote
// and invoice are a preview: the workflow prices the purchase with a fresh
// rate when the buyer confirms.
type startPurchaseResponse struct {
	PurchaseID string        `json:"purchase_id"`
	RunID      string        `json:"run_id"`
	Quote      payment.Quote `json:"quote"`
	Invoice    *Invoice      `json:"invoice"`
}

// handleStartPurchase returns a handler that starts a plan purchase workflow
// for a registered member.
// POST /api/v1/purchases
func handleStartPurchase(store *db.Store, purchases PurchaseClient, rates RateSource, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startPurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		fee, err := cfg.Plans.FeeForPlan(req.PlanID)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		member, err := store.GetMember(r.Context(), req.WalletAddress)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "wallet is not a registered member", http.StatusNotFound)
				return
			}
			logger.Error("failed to get member", "address", req.WalletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		active, err := store.HasActivePlan(r.Context(), req.WalletAddress)
		if err != nil {
			logger.Error("failed to check active plan", "address", req.WalletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if active {
			writeError(w, "wallet already has an active plan", http.StatusConflict)
			return
		}

		referrer := ""
		if member.Referrer != nil {
			referrer = *member.Referrer
		}

		bonus, err := store.GetBonusBalance(r.Context(), req.WalletAddress)
		if err != nil {
			logger.Error("failed to get bonus balance", "address", req.WalletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		current := rates.Latest()
		quote, err := payment.ComputeQuote(
			decimal.NewFromFloat(fee),
			current.Adjusted,
			bonus,
			decimal.NewFromFloat(cfg.Plans.MinimumPayment),
			cfg.Plans.SplitPercentA,
			referralPercent(cfg, referrer),
		)
		if err != nil {
			logger.Error("failed to compute quote", "address", req.WalletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		quote.RawRate = current.Raw
		quote.RateFallback = current.Fallback

		purchaseID := uuid.New().String()

		runID, err := purchases.StartPurchase(r.Context(), temporal.PlanPurchaseInput{
			PurchaseID:            purchaseID,
			WalletAddress:         req.WalletAddress,
			PlanID:                req.PlanID,
			Referrer:              referrer,
			FiatFee:               decimal.NewFromFloat(fee),
			MinimumPayment:        decimal.NewFromFloat(cfg.Plans.MinimumPayment),
			FeeRecipientA:         cfg.Plans.FeeRecipientA,
			FeeRecipientB:         cfg.Plans.FeeRecipientB,
			SplitPercentA:         cfg.Plans.SplitPercentA,
			ReferralPercent:       cfg.Plans.ReferralPercent,
			BonusPoolWallet:       cfg.Plans.BonusPoolWallet,
			BonusAmount:           cfg.Plans.BonusTokenAmount,
			TokenDecimals:         cfg.TokenDecimals,
			ConfirmTimeout:        cfg.Plans.ConfirmTimeout,
			ReferralRetryAttempts: cfg.Plans.ReferralRetryAttempts,
			ReferralRetryDelay:    cfg.Plans.ReferralRetryDelay,
		})
		if err != nil {
			logger.Error("failed to start purchase workflow", "purchase_id", purchaseID, "error", err)
			writeError(w, "failed to start purchase", http.StatusInternalServerError)
			return
		}

		invoice, err := generatePurchaseInvoice(purchaseID, req.PlanID, quote.NetPayment, cfg)
		if err != nil {
			logger.Error("failed to generate invoice", "purchase_id", purchaseID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("purchase started",
			"purchase_id", purchaseID,
			"address", req.WalletAddress,
			"plan_id", req.PlanID,
			"net_payment", quote.NetPayment)
		writeJSON(w, startPurchaseResponse{
			PurchaseID: purchaseID,
			RunID:      runID,
			Quote:      quote,
			Invoice:    invoice,
		}, http.StatusCreated)
	})
}

func referralPercent(cfg *config.Config, referrer string) int {
	if referrer == "" {
		return 0
	}
	return cfg.Plans.ReferralPercent
}

// handleConfirmPurchase returns a handler that signals buyer confirmation to
// a running purchase workflow.
// POST /api/v1/purchases/{purchase_id}/confirm
func handleConfirmPurchase(purchases PurchaseClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		purchaseID := r.PathValue("purchase_id")
		if err := validatePurchaseID(purchaseID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := purchases.ConfirmPurchase(r.Context(), purchaseID); err != nil {
			logger.Error("failed to signal confirmation", "purchase_id", purchaseID, "error", err)
			writeError(w, "purchase not found or no longer running", http.StatusNotFound)
			return
		}

		logger.Info("purchase confirmed", "purchase_id", purchaseID)
		writeJSON(w, map[string]string{"status": "confirmed"}, http.StatusOK)
	})
}

// handleCancelPurchase returns a handler that signals buyer cancellation to a
// running purchase workflow.
// POST /api/v1/purchases/{purchase_id}/cancel
func handleCancelPurchase(purchases PurchaseClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		purchaseID := r.PathValue("purchase_id")
		if err := validatePurchaseID(purchaseID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := purchases.CancelPurchase(r.Context(), purchaseID); err != nil {
			logger.Error("failed to signal cancellation", "purchase_id", purchaseID, "error", err)
			writeError(w, "purchase not found or no longer running", http.StatusNotFound)
			return
		}

		logger.Info("purchase cancelled", "purchase_id", purchaseID)
		writeJSON(w, map[string]string{"status": "cancelled"}, http.StatusOK)
	})
}

// purchaseStatusResponse is the JSON response for a purchase lookup. Exactly
// one of State (running workflow) or Plan (settled record) is set.
type purchaseStatusResponse struct {
	PurchaseID string                 `json:"purchase_id"`
	State      *payment.PurchaseState `json:"state,omitempty"`
	Plan       *planResponse          `json:"plan,omitempty"`
}

// handleGetPurchase returns a handler that reports purchase progress. It
// queries the running workflow first and falls back to the settled plan
// record once the workflow is gone.
// GET /api/v1/purchases/{purchase_id}
func handleGetPurchase(store *db.Store, purchases PurchaseClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		purchaseID := r.PathValue("purchase_id")
		if err := validatePurchaseID(purchaseID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		state, err := purchases.PurchaseStatus(r.Context(), purchaseID)
		if err == nil {
			writeJSON(w, purchaseStatusResponse{PurchaseID: purchaseID, State: state}, http.StatusOK)
			return
		}
		logger.Debug("workflow query failed, checking settled record", "purchase_id", purchaseID, "error", err)

		plan, err := store.GetMemberPlan(r.Context(), purchaseID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "purchase not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get plan record", "purchase_id", purchaseID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := planToResponse(plan)
		writeJSON(w, purchaseStatusResponse{PurchaseID: purchaseID, Plan: &resp}, http.StatusOK)
	})
}

// validatePurchaseID validates a purchase identifier (a UUID).
func validatePurchaseID(id string) error {
	if id == "" {
		return errorf("purchase_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errorf("invalid purchase_id: must be a UUID")
	}
	return nil
}
