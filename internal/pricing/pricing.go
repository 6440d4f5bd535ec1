// Package pricing holds the fixed-point money rules for per-minute billing.
//
// Rates carry 4 fractional digits, totals carry 2. Nothing here touches
// floating point.
package pricing

import (
	"github.com/shopspring/decimal"

	"telecom-billing/internal/apperr"
)

const (
	RateScale   int32 = 4
	AmountScale int32 = 2
)

var (
	ErrNegativeRate  = apperr.New(apperr.KindValidation, "pricing: rate must not be negative")
	ErrRatePrecision = apperr.New(apperr.KindValidation, "pricing: rate has more than 4 fractional digits")
)

// BillableMinutes rounds a call duration up to whole minutes.
// 0s -> 0, 1s -> 1, 60s -> 1, 61s -> 2.
func BillableMinutes(seconds int) int64 {
	if seconds <= 0 {
		return 0
	}
	m := int64(seconds / 60)
	if seconds%60 != 0 {
		m++
	}
	return m
}

// MinutesForCalls sums the per-call ceiling of each duration. It is not
// ceil(sum/60): every started minute of every call is billed.
func MinutesForCalls(durations []int) int64 {
	var total int64
	for _, d := range durations {
		total += BillableMinutes(d)
	}
	return total
}

// Charge is minutes * rate rounded half away from zero to cents.
func Charge(minutes int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(minutes).Mul(rate).Round(AmountScale)
}

// ValidateRate rejects negative rates and rates finer than RateScale.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return ErrNegativeRate
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return ErrRatePrecision
	}
	return nil
}

// ParseRate parses a decimal string such as "0.0500".
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation("pricing: invalid rate %q", s)
	}
	if err := ValidateRate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Sum adds amounts and normalizes to AmountScale.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, amounts...).Round(AmountScale)
}
