package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/shopspring/decimal"
)

// Member represents a registered membership wallet.
type Member struct {
	WalletAddress string    `json:"wallet_address"`
	Email         *string   `json:"email,omitempty"`
	Name          *string   `json:"name,omitempty"`
	Referrer      *string   `json:"referrer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Invoice is the payment request returned when a purchase is started.
type Invoice struct {
	PurchaseID   string          `json:"purchase_id"`
	Recipient    string          `json:"recipient"`
	TokenMint    string          `json:"token_mint"`
	Amount       decimal.Decimal `json:"amount"`
	Memo         string          `json:"memo"`
	SolanaPayURL string          `json:"solana_pay_url"`
	QRCode       string          `json:"qr_code"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StartedPurchase is the server's response to a purchase request.
type StartedPurchase struct {
	PurchaseID string        `json:"purchase_id"`
	RunID      string        `json:"run_id"`
	Quote      payment.Quote `json:"quote"`
	Invoice    *Invoice      `json:"invoice"`
}

// PurchaseStatus reports purchase progress. State is set while the workflow
// runs; Plan is set once the purchase has settled.
type PurchaseStatus struct {
	PurchaseID string                 `json:"purchase_id"`
	State      *payment.PurchaseState `json:"state,omitempty"`
	Plan       *Plan                  `json:"plan,omitempty"`
}

// Plan is a settled plan purchase record.
type Plan struct {
	PurchaseID        string          `json:"purchase_id"`
	WalletAddress     string          `json:"wallet_address"`
	PlanID            string          `json:"plan_id"`
	Referrer          *string         `json:"referrer,omitempty"`
	FiatFee           decimal.Decimal `json:"fiat_fee"`
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

// Bonus is one entry in a wallet's bonus ledger.
type Bonus struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// BonusBalance is a wallet's bonus balance with its ledger.
type BonusBalance struct {
	WalletAddress string          `json:"wallet_address"`
	Balance       decimal.Decimal `json:"balance"`
	Entries       []Bonus         `json:"entries"`
}

// Client is the HTTP client for the planpay membership service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new membership service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register creates a membership record for a wallet.
func (c *Client) Register(ctx context.Context, walletAddress string, referrer, email, name *string) (*Member, error) {
	reqBody := map[string]interface{}{
		"wallet_address": walletAddress,
	}
	if referrer != nil {
		reqBody["referrer"] = *referrer
	}
	if email != nil {
		reqBody["email"] = *email
	}
	if name != nil {
		reqBody["name"] = *name
	}

	var member Member
	if err := c.post(ctx, "/api/v1/members", reqBody, http.StatusCreated, &member); err != nil {
		return nil, err
	}

	c.logger.Debug("member registered", "address", walletAddress)
	return &member, nil
}

// GetMember retrieves a member by wallet address.
func (c *Client) GetMember(ctx context.Context, walletAddress string) (*Member, error) {
	u := fmt.Sprintf("/api/v1/members/%s", url.PathEscape(walletAddress))
	var member Member
	if err := c.get(ctx, u, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// Unregister removes a member.
func (c *Client) Unregister(ctx context.Context, walletAddress string) error {
	u := fmt.Sprintf("%s/api/v1/members/%s", c.baseURL, url.PathEscape(walletAddress))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("member unregistered", "address", walletAddress)
	return nil
}

// GetRate fetches the current exchange rate snapshot used for pricing.
func (c *Client) GetRate(ctx context.Context) (*rate.Rate, error) {
	var r rate.Rate
	if err := c.get(ctx, "/api/v1/rate", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Quote prices a plan for a wallet without starting a purchase.
func (c *Client) Quote(ctx context.Context, walletAddress, planID string) (*payment.Quote, error) {
	u := fmt.Sprintf("/api/v1/quote?wallet_address=%s&plan_id=%s",
		url.QueryEscape(walletAddress), url.QueryEscape(planID))

	var resp struct {
		Quote payment.Quote `json:"quote"`
	}
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &resp.Quote, nil
}

// StartPurchase begins a plan purchase and returns the invoice to pay.
func (c *Client) StartPurchase(ctx context.Context, walletAddress, planID string) (*StartedPurchase, error) {
	reqBody := map[string]interface{}{
		"wallet_address": walletAddress,
		"plan_id":        planID,
	}

	var started StartedPurchase
	if err := c.post(ctx, "/api/v1/purchases", reqBody, http.StatusCreated, &started); err != nil {
		return nil, err
	}

	c.logger.Debug("purchase started",
		"address", walletAddress,
		"plan_id", planID,
		"purchase_id", started.PurchaseID)
	return &started, nil
}

// ConfirmPurchase signals the buyer's confirmation after they have paid the
// invoice.
func (c *Client) ConfirmPurchase(ctx context.Context, purchaseID string) error {
	u := fmt.Sprintf("/api/v1/purchases/%s/confirm", url.PathEscape(purchaseID))
	return c.post(ctx, u, nil, http.StatusOK, nil)
}

// CancelPurchase dismisses a purchase that has not yet been confirmed.
func (c *Client) CancelPurchase(ctx context.Context, purchaseID string) error {
	u := fmt.Sprintf("/api/v1/purchases/%s/cancel", url.PathEscape(purchaseID))
	return c.post(ctx, u, nil, http.StatusOK, nil)
}

// GetPurchase reports purchase progress.
func (c *Client) GetPurchase(ctx context.Context, purchaseID string) (*PurchaseStatus, error) {
	u := fmt.Sprintf("/api/v1/purchases/%s", url.PathEscape(purchaseID))
	var status PurchaseStatus
	if err := c.get(ctx, u, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListPlans retrieves the settled plans for a wallet.
func (c *Client) ListPlans(ctx context.Context, walletAddress string) ([]Plan, error) {
	u := fmt.Sprintf("/api/v1/plans?wallet_address=%s", url.QueryEscape(walletAddress))
	var resp struct {
		Plans []Plan `json:"plans"`
	}
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Plans, nil
}

// GetBonuses retrieves a wallet's bonus balance and ledger.
func (c *Client) GetBonuses(ctx context.Context, walletAddress string) (*BonusBalance, error) {
	u := fmt.Sprintf("/api/v1/members/%s/bonuses", url.PathEscape(walletAddress))
	var balance BonusBalance
	if err := c.get(ctx, u, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, reqBody interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
