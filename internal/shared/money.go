package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Monetary amounts are fixed-point with two decimal places. All arithmetic
// in the ledger goes through these helpers so that rounding happens in one
// place only.

// Round2 normalises an amount to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ClampZero floors an amount at zero. Over-remitted balances report zero
// pending rather than a negative figure.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseMoney parses a decimal string into a two-place amount.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a number", ErrValidation, s)
	}
	return Round2(d), nil
}

// MoneyString renders an amount with exactly two decimal places.
func MoneyString(d decimal.Decimal) string {
	return d.StringFixed(2)
}
