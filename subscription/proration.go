package subscription

import "github.com/shopspring/decimal"

// RefundAmount computes the pro-rated refund for the unused remainder of a
// subscription: price / duration * remaining, rounded to 2 decimal places.
// Remaining days beyond the tariff duration are clamped; zero or negative
// remaining refunds nothing.
func RefundAmount(price decimal.Decimal, durationDays, remainingDays int) decimal.Decimal {
	if durationDays <= 0 || remainingDays <= 0 {
		return decimal.Zero
	}
	if remainingDays > durationDays {
		remainingDays = durationDays
	}
	return price.
		Div(decimal.NewFromInt(int64(durationDays))).
		Mul(decimal.NewFromInt(int64(remainingDays))).
		Round(2)
}
