package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProrationResult is the prorated credit or charge for a mid-cycle amount
// change. Proration is advisory: callers get an all-zero result rather than
// an error when the inputs cannot be prorated.
type ProrationResult struct {
	TotalDays       int             `json:"total_days"`
	DaysUsed        int             `json:"days_used"`
	DaysRemaining   int             `json:"days_remaining"`
	DailyDelta      decimal.Decimal `json:"daily_delta"`
	ProrationAmount decimal.Decimal `json:"proration_amount"`
	CreditAmount    decimal.Decimal `json:"credit_amount"`
	ChargeAmount    decimal.Decimal `json:"charge_amount"`
}

func zeroProration() ProrationResult {
	return ProrationResult{
		DailyDelta:      decimal.Zero,
		ProrationAmount: decimal.Zero,
		CreditAmount:    decimal.Zero,
		ChargeAmount:    decimal.Zero,
	}
}

// CalculateProration computes the prorated delta between the current and new
// amount over the remaining days of the billing period. Days are counted with
// ceiling semantics on 24 hour blocks.
func CalculateProration(currentAmount, newAmount decimal.Decimal, periodStart, periodEnd *time.Time, effectiveDate time.Time) ProrationResult {
	if periodStart == nil || periodEnd == nil {
		return zeroProration()
	}

	totalDays := ceilDays(periodEnd.Sub(*periodStart))
	if totalDays <= 0 {
		return zeroProration()
	}

	daysUsed := ceilDays(effectiveDate.Sub(*periodStart))
	if daysUsed < 0 {
		daysUsed = 0
	}
	if daysUsed > totalDays {
		daysUsed = totalDays
	}
	daysRemaining := totalDays - daysUsed

	days := decimal.NewFromInt(int64(totalDays))
	dailyDelta := newAmount.Div(days).Sub(currentAmount.Div(days))
	prorationAmount := dailyDelta.Mul(decimal.NewFromInt(int64(daysRemaining))).Round(2)

	creditAmount := decimal.Zero
	chargeAmount := decimal.Zero
	if prorationAmount.IsNegative() {
		creditAmount = prorationAmount.Neg()
	} else {
		chargeAmount = prorationAmount
	}

	return ProrationResult{
		TotalDays:       totalDays,
		DaysUsed:        daysUsed,
		DaysRemaining:   daysRemaining,
		DailyDelta:      dailyDelta.Round(2),
		ProrationAmount: prorationAmount,
		CreditAmount:    creditAmount,
		ChargeAmount:    chargeAmount,
	}
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
