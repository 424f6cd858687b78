package subscription

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/domain/plan"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// UserID is the identifier for the subscribing user in our system
	UserID string `db:"user_id" json:"user_id"`

	// PlanID is the identifier for the plan in our system, optional
	PlanID string `db:"plan_id" json:"plan_id"`

	// Name is the display name of the subscription
	Name string `db:"name" json:"name"`

	// SubscriptionStatus is the lifecycle status of the subscription
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// IsActive mirrors whether the subscription is currently in force
	IsActive bool `db:"is_active" json:"is_active"`

	// Commercial terms

	// BillingCycle is the cadence of the billing cycle
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`

	// Amount is the recurring amount charged per billing cycle
	Amount decimal.Decimal `db:"amount" json:"amount"`

	// Currency is the currency of the subscription in lowercase 3 digit ISO codes
	Currency string `db:"currency" json:"currency"`

	// Quantity is the number of units subscribed
	Quantity decimal.Decimal `db:"quantity" json:"quantity"`

	// UnitPrice is the per-unit price
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`

	// Lifecycle

	// StartDate is the start date of the subscription
	StartDate time.Time `db:"start_date" json:"start_date"`

	// EndDate is the end date of the subscription
	EndDate *time.Time `db:"end_date" json:"end_date"`

	// CurrentPeriodStart is the start of the current billed period
	CurrentPeriodStart *time.Time `db:"current_period_start" json:"current_period_start"`

	// CurrentPeriodEnd is the end of the current billed period
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"current_period_end"`

	// IsTrial marks whether the subscription started as a trial
	IsTrial bool `db:"is_trial" json:"is_trial"`

	// TrialDays is the configured trial length in days
	TrialDays int `db:"trial_days" json:"trial_days"`

	// TrialEndDate is the date the trial ends
	TrialEndDate *time.Time `db:"trial_end_date" json:"trial_end_date"`

	// AutoRenew marks whether the subscription renews automatically
	AutoRenew bool `db:"auto_renew" json:"auto_renew"`

	// CancelAtPeriodEnd is whether the cancel takes effect at period end
	CancelAtPeriodEnd bool `db:"cancel_at_period_end" json:"cancel_at_period_end"`

	// CancelAt is the scheduled cutover date for a period-end cancel
	CancelAt *time.Time `db:"cancel_at" json:"cancel_at"`

	// CancelledAt is the date the cancel was requested
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at"`

	// CancelReason is the recorded reason for the cancel
	CancelReason string `db:"cancel_reason" json:"cancel_reason"`

	// GracePeriodDays is the number of days of grace after a failed payment
	GracePeriodDays int `db:"grace_period_days" json:"grace_period_days"`

	// DeletedAt is the soft delete marker; records are never physically deleted
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at"`

	// External linkage, all opaque strings owned by the billing provider.
	// ExternalSubscriptionID is the idempotency key for reconciliation.

	ExternalSubscriptionID string `db:"external_subscription_id" json:"external_subscription_id"`
	ExternalCustomerID     string `db:"external_customer_id" json:"external_customer_id"`
	ExternalPriceID        string `db:"external_price_id" json:"external_price_id"`
	ExternalProductID      string `db:"external_product_id" json:"external_product_id"`

	// Features and Limits are snapshotted from the plan at creation time so
	// later plan edits do not change entitlements of this subscription.

	Features map[string]bool            `db:"features" json:"features"`
	Limits   map[string]decimal.Decimal `db:"limits" json:"limits"`

	Metadata types.Metadata `db:"metadata" json:"metadata"`

	types.BaseModel
}

// SnapshotPlan copies the plan's features and limits onto the subscription
func (s *Subscription) SnapshotPlan(p *plan.Plan) {
	if p == nil {
		return
	}
	s.PlanID = p.ID
	s.Features = make(map[string]bool, len(p.Features))
	for k, v := range p.Features {
		s.Features[k] = v
	}
	s.Limits = make(map[string]decimal.Decimal, len(p.Limits))
	for k, v := range p.Limits {
		s.Limits[k] = v
	}
}

// IsInTrialOrActive reports whether the subscription counts against the
// at-most-one-active-per-user invariant
func (s *Subscription) IsInTrialOrActive() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive ||
		s.SubscriptionStatus == types.SubscriptionStatusTrial
}

// Validate checks the model level invariants of the subscription
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return ierr.NewError("user_id is required").
			WithHint("Subscription must reference a user").
			Mark(ierr.ErrValidation)
	}
	if s.Name == "" {
		return ierr.NewError("name is required").
			WithHint("Subscription must have a name").
			Mark(ierr.ErrValidation)
	}
	if s.Amount.IsNegative() || s.Amount.IsZero() {
		return ierr.NewError("amount must be positive").
			WithHint("Subscription amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": s.Amount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil &&
		!s.CurrentPeriodStart.Before(*s.CurrentPeriodEnd) {
		return ierr.NewError("invalid billing period").
			WithHint("Current period start must be before current period end").
			WithReportableDetails(map[string]any{
				"current_period_start": s.CurrentPeriodStart,
				"current_period_end":   s.CurrentPeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	return s.SubscriptionStatus.Validate()
}
