package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the number of base-unit decimals in one whole unit of value.
const DefaultDecimals int32 = 18

// ParseUnits converts a human readable amount ("1.5") to base units.
// Fractions finer than one base unit are rejected.
func ParseUnits(value string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, err)
	}
	base := d.Shift(decimals)
	if err := ValidateAmount(base); err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", value, err)
	}
	return base, nil
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(value string, decimals int32) decimal.Decimal {
	d, err := ParseUnits(value, decimals)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatUnits renders base units as a whole-unit string.
func FormatUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(-decimals).String()
}

// ValidateAmount checks that amount is a whole, non-negative number of base units.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}
