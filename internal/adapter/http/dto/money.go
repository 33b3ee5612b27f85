package dto

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

const minorDigits = 2

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)

	errAmountNotPositive = errors.New("amount must be greater than zero")
	errAmountPrecision   = errors.New("amount must have at most two decimal places")
	errAmountTooLarge    = errors.New("amount is too large")
)

// Money is an amount in minor units that renders as a major-unit JSON number
// with two decimals, e.g. 15050 -> 150.50.
type Money int64

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorDigits)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().StringFixed(minorDigits)), nil
}

// ToMinorUnits converts a positive major-unit amount to minor units exactly.
func ToMinorUnits(major decimal.Decimal) (int64, error) {
	if !major.IsPositive() {
		return 0, errAmountNotPositive
	}
	minor := major.Shift(minorDigits)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errAmountPrecision
	}
	if minor.GreaterThan(maxMinor) {
		return 0, errAmountTooLarge
	}
	return minor.IntPart(), nil
}
