package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/rate"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for member registration
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// createMemberRequest is the JSON request body for registering a member.
type createMemberRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Email         *string `json:"email,omitempty"`
	Name          *string `json:"name,omitempty"`
	Referrer      *string `json:"referrer,omitempty"`
}

// memberResponse is the JSON response format for a member.
type memberResponse struct {
	WalletAddress string    `json:"wallet_address"`
	Email         *string   `json:"email,omitempty"`
	Name          *string   `json:"name,omitempty"`
	Referrer      *string   `json:"referrer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func memberToResponse(m *db.Member) memberResponse {
	return memberResponse{
		WalletAddress: m.WalletAddress,
		Email:         m.Email,
		Name:          m.Name,
		Referrer:      m.Referrer,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// handleCreateMember returns a handler that registers a member wallet.
// POST /api/v1/members
func handleCreateMember(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			logger.Debug("invalid wallet address", "address", req.WalletAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Referrer != nil {
			if err := validateReferrerAddress(*req.Referrer); err != nil {
				writeError(w, fmt.Sprintf("invalid referrer: %v", err), http.StatusBadRequest)
				return
			}
			if *req.Referrer == req.WalletAddress {
				writeError(w, "a member cannot refer themselves", http.StatusBadRequest)
				return
			}
		}

		member, err := store.CreateMember(r.Context(), db.CreateMemberParams{
			WalletAddress: req.WalletAddress,
			Email:         req.Email,
			Name:          req.Name,
			Referrer:      req.Referrer,
		})
		if err != nil {
			logger.Error("failed to create member", "address", req.WalletAddress, "error", err)
			writeError(w, "failed to register member", http.StatusInternalServerError)
			return
		}

		logger.Info("member registered", "address", member.WalletAddress)
		writeJSON(w, memberToResponse(member), http.StatusCreated)
	})
}

// handleGetMember returns a handler that retrieves a member.
// GET /api/v1/members/{wallet_address}
func handleGetMember(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("wallet_address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		member, err := store.GetMember(r.Context(), address)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "member not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get member", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, memberToResponse(member), http.StatusOK)
	})
}

// handleListMembers returns a handler that lists all members.
// GET /api/v1/members
func handleListMembers(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		members, err := store.ListMembers(r.Context())
		if err != nil {
			logger.Error("failed to list members", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]memberResponse, len(members))
		for i, m := range members {
			resp[i] = memberToResponse(m)
		}
		writeJSON(w, map[string]interface{}{
			"members": resp,
			"count":   len(resp),
		}, http.StatusOK)
	})
}

// handleDeleteMember returns a handler that removes a member.
// DELETE /api/v1/members/{wallet_address}
func handleDeleteMember(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("wallet_address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := store.DeleteMember(r.Context(), address); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "member not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete member", "address", address, "error", err)
			writeError(w, "failed to delete member", http.StatusInternalServerError)
			return
		}

		logger.Info("member deleted", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// quoteResponse is the JSON response format for a purchase quote preview.
type quoteResponse struct {
	PlanID string        `json:"plan_id"`
	Quote  payment.Quote `json:"quote"`
	Rate   rate.Rate     `json:"rate"`
}

// handleQuote returns a handler that prices a plan for a wallet without
// starting a purchase. The running workflow fetches a fresh rate of its own,
// so this is a preview, not a commitment.
// GET /api/v1/quote?wallet_address=ADDRESS&plan_id=plan-a
func handleQuote(store *db.Store, rates RateSource, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("wallet_address")
		planID := r.URL.Query().Get("plan_id")

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		fee, err := cfg.Plans.FeeForPlan(planID)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		member, err := store.GetMember(r.Context(), address)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "wallet is not a registered member", http.StatusNotFound)
				return
			}
			logger.Error("failed to get member", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		referrer := ""
		if member.Referrer != nil {
			referrer = *member.Referrer
		}

		bonus, err := store.GetBonusBalance(r.Context(), address)
		if err != nil {
			logger.Error("failed to get bonus balance", "address", address, "error", err)
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
			logger.Error("failed to compute quote", "address", address, "plan_id", planID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		quote.RawRate = current.Raw
		quote.RateFallback = current.Fallback

		writeJSON(w, quoteResponse{PlanID: planID, Quote: quote, Rate: current}, http.StatusOK)
	})
}

// planResponse is the JSON response format for a settled plan purchase.
type planResponse struct {
	PurchaseID        string          `json:"purchase_id"`
	WalletAddress     string          `json:"wallet_address"`
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
	CreatedAt         time.Time       `json:"created_at"`
}

func planToResponse(p *db.MemberPlan) planResponse {
	return planResponse{
		PurchaseID:        p.PurchaseID,
		WalletAddress:     p.WalletAddress,
		PlanID:            p.PlanID,
		Referrer:          p.Referrer,
		FiatFee:           p.FiatFee,
		RateRaw:           p.RateRaw,
		RateAdjusted:      p.RateAdjusted,
		RateFallback:      p.RateFallback,
		BonusOffset:       p.BonusOffset,
		NetPayment:        p.NetPayment,
		FeeShareA:         p.FeeShareA,
		FeeShareB:         p.FeeShareB,
		ReferralAmount:    p.ReferralAmount,
		FeeSignatureA:     p.FeeSignatureA,
		FeeSignatureB:     p.FeeSignatureB,
		ReferralSignature: p.ReferralSignature,
		BonusSignature:    p.BonusSignature,
		AuditCID:          p.AuditCID,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
	}
}

// handleListPlans returns a handler that lists settled plans for a wallet.
// GET /api/v1/plans?wallet_address=ADDRESS
func handleListPlans(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("wallet_address")
		if address == "" {
			writeError(w, "wallet_address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		plans, err := store.ListMemberPlansByWallet(r.Context(), address)
		if err != nil {
			logger.Error("failed to list plans", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]planResponse, len(plans))
		for i, p := range plans {
			resp[i] = planToResponse(p)
		}
		writeJSON(w, map[string]interface{}{
			"plans": resp,
			"count": len(resp),
		}, http.StatusOK)
	})
}

// bonusResponse is the JSON response format for a bonus ledger entry.
type bonusResponse struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// handleGetBonuses returns a handler that reports a wallet's bonus balance
// and ledger.
// GET /api/v1/members/{wallet_address}/bonuses
func handleGetBonuses(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("wallet_address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balance, err := store.GetBonusBalance(r.Context(), address)
		if err != nil {
			logger.Error("failed to get bonus balance", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		entries, err := store.ListBonuses(r.Context(), address)
		if err != nil {
			logger.Error("failed to list bonuses", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]bonusResponse, len(entries))
		for i, b := range entries {
			resp[i] = bonusResponse{
				ID:        b.ID,
				Amount:    b.Amount,
				Source:    b.Source,
				CreatedAt: b.CreatedAt,
			}
		}
		writeJSON(w, map[string]interface{}{
			"wallet_address": address,
			"balance":        balance,
			"entries":        resp,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be base58")
	}

	return nil
}

// validateReferrerAddress checks that a referrer could actually receive a
// payout. The base58 regex alone admits strings that do not decode to a
// public key, which the workflow would then silently drop.
func validateReferrerAddress(address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("not a valid public key")
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
