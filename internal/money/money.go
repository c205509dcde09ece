// Package money holds the integer-exact price arithmetic used everywhere a
// currency amount is produced or converted. No price or rate in the system
// is ever represented as a floating-point number.
package money

import (
	"errors"
	"math"
)

// Scale is the fixed factor exchange rates are stored with: a rate of
// 1350.50 local units per hard unit is stored as 13505000.
const Scale = 10000

// ErrInvalidInput rejects non-positive amounts and rates, and amounts large
// enough to overflow the scaled arithmetic.
var ErrInvalidInput = errors.New("money: invalid amount or rate")

// ValidatePrice reports whether v is usable as a price: a positive integer
// number of minor units.
func ValidatePrice(v int64) bool {
	return v > 0
}

// ConvertLocalToHard converts local minor units to hard minor units:
// round(amount * Scale / rateScaled), rounding half up.
func ConvertLocalToHard(amount, rateScaled int64) (int64, error) {
	if !ValidatePrice(amount) || rateScaled <= 0 {
		return 0, ErrInvalidInput
	}
	if amount > math.MaxInt64/Scale {
		return 0, ErrInvalidInput
	}
	return (amount*Scale + rateScaled/2) / rateScaled, nil
}

// ConvertHardToLocal converts hard minor units to local minor units:
// round(amount * rateScaled / Scale), rounding half up. Inverse of
// ConvertLocalToHard up to 1 minor unit of rounding.
func ConvertHardToLocal(amount, rateScaled int64) (int64, error) {
	if !ValidatePrice(amount) || rateScaled <= 0 {
		return 0, ErrInvalidInput
	}
	if amount > math.MaxInt64/rateScaled {
		return 0, ErrInvalidInput
	}
	return (amount*rateScaled + Scale/2) / Scale, nil
}
