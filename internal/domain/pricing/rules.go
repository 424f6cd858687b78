package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/types"
)

var (
	hundred              = decimal.NewFromInt(100)
	volumeQuantityFloor  = decimal.NewFromInt(10)
	volumePercentPerUnit = decimal.NewFromInt(2)
	volumePercentCap     = decimal.NewFromInt(30)
	enterpriseThreshold  = decimal.NewFromInt(1000)
	enterprisePercent    = decimal.NewFromInt(15)
)

// Config holds the tunable knobs of the pricing rule stack
type Config struct {
	// AnnualDiscountPercent is subtracted when billing annually
	AnnualDiscountPercent decimal.Decimal
	// MinimumCommitment is the price floor after discounts
	MinimumCommitment decimal.Decimal
	// MaximumDiscountPercent caps the cumulative discount relative to the
	// gross amount (base times quantity)
	MaximumDiscountPercent decimal.Decimal
}

// DefaultConfig returns the stock pricing knobs
func DefaultConfig() *Config {
	return &Config{
		AnnualDiscountPercent:  decimal.NewFromInt(20),
		MinimumCommitment:      decimal.NewFromInt(5),
		MaximumDiscountPercent: decimal.NewFromInt(50),
	}
}

// Result is the outcome of running the pricing rule stack
type Result struct {
	// FinalAmount is the amount to charge, rounded to 2 decimal places
	FinalAmount decimal.Decimal `json:"final_amount"`
	// DiscountApplied is the total discount subtracted, rounded to 2 decimal places
	DiscountApplied decimal.Decimal `json:"discount_applied"`
	// AppliedRules lists human readable descriptions of the rules that fired,
	// in application order. For audit and logging, not machine parsed.
	AppliedRules []string `json:"applied_rules"`
}

// ApplyPricingRules runs the ordered discount stack over the base amount.
// Each step is computed against the running amount, not the original base,
// so the rules compound in the order listed.
func ApplyPricingRules(baseAmount decimal.Decimal, billingCycle types.BillingCycle, quantity decimal.Decimal, cfg *Config) Result {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		quantity = decimal.NewFromInt(1)
	}

	gross := baseAmount.Mul(quantity)
	amount := gross
	discount := decimal.Zero
	applied := []string{}

	// 1. Annual cycle discount
	if billingCycle == types.BillingCycleAnnual {
		d := amount.Mul(cfg.AnnualDiscountPercent).Div(hundred)
		amount = amount.Sub(d)
		discount = discount.Add(d)
		applied = append(applied, fmt.Sprintf("Annual billing discount: %s%%", cfg.AnnualDiscountPercent.String()))
	}

	// 2. Volume discount
	if quantity.GreaterThanOrEqual(volumeQuantityFloor) {
		pct := decimal.Min(quantity.Mul(volumePercentPerUnit), volumePercentCap)
		d := amount.Mul(pct).Div(hundred)
		amount = amount.Sub(d)
		discount = discount.Add(d)
		applied = append(applied, fmt.Sprintf("Volume discount: %s%% for %s units", pct.String(), quantity.String()))
	}

	// 3. Enterprise discount
	if amount.GreaterThanOrEqual(enterpriseThreshold) {
		d := amount.Mul(enterprisePercent).Div(hundred)
		amount = amount.Sub(d)
		discount = discount.Add(d)
		applied = append(applied, fmt.Sprintf("Enterprise discount: %s%%", enterprisePercent.String()))
	}

	// 4. Minimum price floor. The clamp does not reduce the recorded discount
	// beyond what was already subtracted.
	if amount.LessThan(cfg.MinimumCommitment) {
		amount = cfg.MinimumCommitment
		applied = append(applied, fmt.Sprintf("Minimum commitment applied: %s", cfg.MinimumCommitment.StringFixed(2)))
	}

	// 5. Maximum discount cap, relative to the gross amount. The excess is
	// clawed back onto the amount.
	if gross.GreaterThan(decimal.Zero) {
		maxDiscount := gross.Mul(cfg.MaximumDiscountPercent).Div(hundred)
		if discount.GreaterThan(maxDiscount) {
			excess := discount.Sub(maxDiscount)
			amount = amount.Add(excess)
			discount = maxDiscount
			applied = append(applied, fmt.Sprintf("Maximum discount cap applied: %s%%", cfg.MaximumDiscountPercent.String()))
		}
	}

	return Result{
		FinalAmount:     amount.Round(2),
		DiscountApplied: discount.Round(2),
		AppliedRules:    applied,
	}
}
