package payment

import "github.com/shopspring/decimal"

// PlatformFeeRate is the platform's cut of the agreed amount.
var PlatformFeeRate = decimal.RequireFromString("0.10")

// Receipt is the money breakdown for a settled request. Amounts are
// decimal strings so no precision is lost on the wire.
type Receipt struct {
	AgreedAmount   string `json:"agreed_amount"`
	PlatformFee    string `json:"platform_fee"`
	ProviderPayout string `json:"provider_payout"`
	Currency       string `json:"currency"`
}

// BuildReceipt computes the fee breakdown with decimal arithmetic,
// rounded to two places.
func BuildReceipt(agreedAmount float64, currency string) Receipt {
	agreed := decimal.NewFromFloat(agreedAmount).Round(2)
	fee := agreed.Mul(PlatformFeeRate).Round(2)
	payout := agreed.Sub(fee)

	if currency == "" {
		currency = "INR"
	}
	return Receipt{
		AgreedAmount:   agreed.StringFixed(2),
		PlatformFee:    fee.StringFixed(2),
		ProviderPayout: payout.StringFixed(2),
		Currency:       currency,
	}
}
