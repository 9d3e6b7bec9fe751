package server

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

// Invoice is a payment request the buyer settles before confirming. The QR
// code encodes a Solana Pay URL for the net payment to the treasury wallet.
type Invoice struct {
	PurchaseID   string          `json:"purchase_id"`
	Recipient    string          `json:"recipient"`
	TokenMint    string          `json:"token_mint"`
	Amount       decimal.Decimal `json:"amount"`
	Memo         string          `json:"memo"`
	SolanaPayURL string          `json:"solana_pay_url"`
	QRCode       string          `json:"qr_code"` // base64-encoded PNG
	CreatedAt    time.Time       `json:"created_at"`
}

// generatePurchaseInvoice builds the Solana Pay invoice for a purchase. The
// memo carries the purchase ID so the payment can be matched during treasury
// reconciliation.
func generatePurchaseInvoice(purchaseID, planID string, amount decimal.Decimal, cfg *config.Config) (*Invoice, error) {
	if cfg.TreasuryWallet == "" {
		return nil, fmt.Errorf("treasury wallet is not configured")
	}

	memo := fmt.Sprintf("planpay:%s", purchaseID)
	payURL := buildSolanaPayURL(cfg.TreasuryWallet, cfg.TokenMintAddress, amount, memo, planID)

	qr, err := generateQRCode(payURL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	return &Invoice{
		PurchaseID:   purchaseID,
		Recipient:    cfg.TreasuryWallet,
		TokenMint:    cfg.TokenMintAddress,
		Amount:       amount,
		Memo:         memo,
		SolanaPayURL: payURL,
		QRCode:       qr,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// buildSolanaPayURL constructs a Solana Pay transfer request URL.
// Format: solana:<recipient>?amount=<amount>&spl-token=<mint>&memo=<memo>&label=<label>&message=<message>
func buildSolanaPayURL(recipient, mint string, amount decimal.Decimal, memo, planID string) string {
	params := url.Values{}
	params.Set("amount", amount.String())
	params.Set("spl-token", mint)
	params.Set("memo", memo)
	params.Set("label", "PlanPay")
	params.Set("message", fmt.Sprintf("Membership plan %s", planID))
	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode renders the URL as a base64-encoded PNG.
func generateQRCode(payURL string) (string, error) {
	png, err := qrcode.Encode(payURL, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
