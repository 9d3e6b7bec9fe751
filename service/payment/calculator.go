package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the fixed decimal precision used for token amounts.
// All display-level amounts are rounded to this many places; conversion to
// base units happens only at submission time (see ToBaseUnits).
const Precision = 4

// RequiredTokenAmount converts a fiat fee into a token amount at the given
// adjusted rate. The result is rounded to Precision places.
func RequiredTokenAmount(fiatFee, adjustedRate decimal.Decimal) (decimal.Decimal, error) {
	if fiatFee.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("fiat fee must be positive, got %s", fiatFee)
	}
	if adjustedRate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("rate must be positive, got %s", adjustedRate)
	}
	return fiatFee.DivRound(adjustedRate, Precision), nil
}

// ApplyBonusOffset reduces the required payment by the buyer's accumulated
// bonus. When the bonus fully covers the requirement, the fixed minimum
// payment is returned so a nonzero transaction still occurs on-chain.
func ApplyBonusOffset(required, bonus, minimum decimal.Decimal) decimal.Decimal {
	if bonus.GreaterThanOrEqual(required) {
		return minimum
	}
	return required.Sub(bonus)
}

// SplitByPercentage splits a total into two parts where the first is pctA
// percent of the total. The second part is computed by subtraction, not
// independent multiplication, so the two parts always sum exactly to total.
func SplitByPercentage(total decimal.Decimal, pctA int) (decimal.Decimal, decimal.Decimal) {
	a := total.Mul(decimal.New(int64(pctA), -2)).Round(Precision)
	b := total.Sub(a)
	return a, b
}

// ToBaseUnits converts a token amount to the chain's smallest integer unit.
// Monetary math stays in decimals until this point to avoid float drift.
func ToBaseUnits(amount decimal.Decimal, decimals int) int64 {
	return amount.Shift(int32(decimals)).Round(0).IntPart()
}

// FromBaseUnits converts a smallest-unit amount back to a token amount.
func FromBaseUnits(base int64, decimals int) decimal.Decimal {
	return decimal.New(base, -int32(decimals))
}

// Quote is the full set of amounts computed for one plan purchase.
type Quote struct {
	FiatFee        decimal.Decimal `json:"fiat_fee"`
	RawRate        decimal.Decimal `json:"raw_rate"`
	AdjustedRate   decimal.Decimal `json:"adjusted_rate"`
	RateFallback   bool            `json:"rate_fallback"`
	RequiredTokens decimal.Decimal `json:"required_tokens"`
	BonusOffset    decimal.Decimal `json:"bonus_offset"`
	NetPayment     decimal.Decimal `json:"net_payment"`
	FeeShareA      decimal.Decimal `json:"fee_share_a"`
	FeeShareB      decimal.Decimal `json:"fee_share_b"`
	ReferralAmount decimal.Decimal `json:"referral_amount"`
}

// ComputeQuote derives every amount a purchase needs from the fee, the
// current rate, and the buyer's accumulated bonus. Pure; no I/O.
func ComputeQuote(fiatFee, adjustedRate, bonus, minimum decimal.Decimal, pctA, referralPct int) (Quote, error) {
	required, err := RequiredTokenAmount(fiatFee, adjustedRate)
	if err != nil {
		return Quote{}, err
	}

	net := ApplyBonusOffset(required, bonus, minimum)
	shareA, shareB := SplitByPercentage(net, pctA)

	referral := net.Mul(decimal.New(int64(referralPct), -2)).Round(Precision)

	return Quote{
		FiatFee:        fiatFee,
		AdjustedRate:   adjustedRate,
		RequiredTokens: required,
		BonusOffset:    bonus,
		NetPayment:     net,
		FeeShareA:      shareA,
		FeeShareB:      shareB,
		ReferralAmount: referral,
	}, nil
}
