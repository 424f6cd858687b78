package plan

import (
	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/types"
)

// Plan is a sellable subscription plan. Limits and features are snapshotted
// onto subscriptions at creation time, so edits here never retroactively
// change entitlements of running subscriptions.
type Plan struct {
	// ID is the unique identifier for the plan
	ID string `db:"id" json:"id"`

	// Name is the display name of the plan
	Name string `db:"name" json:"name"`

	// Description is the optional description of the plan
	Description string `db:"description" json:"description"`

	// Price is the base price of the plan per billing cycle
	Price decimal.Decimal `db:"price" json:"price"`

	// Currency is the currency of the plan in lowercase 3 digit ISO codes
	Currency string `db:"currency" json:"currency"`

	// BillingCycle is the cadence the plan is billed on
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`

	// Limits maps metric names to their numeric caps
	Limits map[string]decimal.Decimal `db:"limits" json:"limits"`

	// Features maps feature names to their enabled flags
	Features map[string]bool `db:"features" json:"features"`

	// IsActive marks whether the plan can be sold
	IsActive bool `db:"is_active" json:"is_active"`

	// IsPopular marks the plan for highlighting in pricing pages
	IsPopular bool `db:"is_popular" json:"is_popular"`

	Metadata types.Metadata `db:"metadata" json:"metadata"`

	types.BaseModel
}
