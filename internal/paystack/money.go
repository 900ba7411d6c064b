package paystack

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const minorUnitExp = 2

// ToMinorUnits converts a major-unit amount (naira, dollars) into the integer
// subunit the gateway expects. Amounts finer than one subunit are rejected.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount)
	}
	minor := amount.Shift(minorUnitExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, minorUnitExp)
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}
