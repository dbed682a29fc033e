package payments

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseFeePercent parses the platform fee percentage from configuration
func ParseFeePercent(s string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid fee percent %q: %w", s, err)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("fee percent %s out of range [0, 100]", pct)
	}
	return pct, nil
}

// PlatformFee returns round(amount * percent / 100) in minor units, rounding half up.
// The result is never greater than amount.
func PlatformFee(amount int64, percent decimal.Decimal) int64 {
	if amount <= 0 || !percent.IsPositive() {
		return 0
	}
	fee := decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
	if fee > amount {
		return amount
	}
	return fee
}
