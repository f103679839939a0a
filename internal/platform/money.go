package platform

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts an amount to integer cents, rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits parses an integer-cents string as returned by the platform.
func FromMinorUnits(cents string) (float64, error) {
	if cents == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(cents)
	if err != nil {
		return 0, fmt.Errorf("parse budget %q: %w", cents, err)
	}
	f, _ := d.Div(hundred).Float64()
	return f, nil
}
