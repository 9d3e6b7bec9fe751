package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eastern-cyber/planpay/service/metrics"
)

// Report is the audit record pinned to the content-addressed store after a
// purchase settles. It captures every amount and signature so the purchase
// can be verified independently of the database.
type Report struct {
	PurchaseID        string          `json:"purchase_id"`
	WalletAddress     string          `json:"wallet_address"`
	PlanID            string          `json:"plan_id"`
	Referrer          string          `json:"referrer,omitempty"`
	FiatFee           decimal.Decimal `json:"fiat_fee"`
	RateRaw           decimal.Decimal `json:"rate_raw"`
	RateAdjusted      decimal.Decimal `json:"rate_adjusted"`
	RateFallback      bool            `json:"rate_fallback"`
	BonusOffset       decimal.Decimal `json:"bonus_offset"`
	NetPayment        decimal.Decimal `json:"net_payment"`
	FeeShareA         decimal.Decimal `json:"fee_share_a"`
	FeeShareB         decimal.Decimal `json:"fee_share_b"`
	ReferralAmount    decimal.Decimal `json:"referral_amount"`
	FeeSignatureA     string          `json:"fee_signature_a,omitempty"`
	FeeSignatureB     string          `json:"fee_signature_b,omitempty"`
	ReferralSignature string          `json:"referral_signature,omitempty"`
	BonusSignature    string          `json:"bonus_signature,omitempty"`
	CompletedAt       time.Time       `json:"completed_at"`
}

// Pinner posts audit reports to a content-addressed store pin endpoint.
type Pinner struct {
	pinURL     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewPinner creates a Pinner. An empty pinURL disables pinning: Pin becomes
// a no-op that reports success with an empty CID.
func NewPinner(pinURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Pinner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pinner{
		pinURL:     pinURL,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// Enabled reports whether a pin endpoint is configured.
func (p *Pinner) Enabled() bool {
	return p.pinURL != ""
}

type pinResponse struct {
	CID string `json:"cid"`
}

// Pin uploads the report and returns its content identifier. Pinning is
// best-effort by contract: callers log a failed pin and move on, the
// purchase outcome never depends on it.
func (p *Pinner) Pin(ctx context.Context, report Report) (string, error) {
	if !p.Enabled() {
		return "", nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pinURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordAuditPin("error", duration)
		}
		return "", fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if p.metrics != nil {
			p.metrics.RecordAuditPin("error", duration)
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("pin endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var parsed pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if p.metrics != nil {
			p.metrics.RecordAuditPin("error", duration)
		}
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if parsed.CID == "" {
		if p.metrics != nil {
			p.metrics.RecordAuditPin("error", duration)
		}
		return "", fmt.Errorf("pin response missing cid")
	}

	if p.metrics != nil {
		p.metrics.RecordAuditPin("success", duration)
	}
	p.logger.InfoContext(ctx, "pinned audit report",
		"purchase_id", report.PurchaseID,
		"cid", parsed.CID)
	return parsed.CID, nil
}
