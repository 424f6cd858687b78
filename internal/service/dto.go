package service

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
	"github.com/subflow/subflow/internal/validator"
)

// CreateSubscriptionRequest carries the inputs of the subscription creation workflow
type CreateSubscriptionRequest struct {
	UserID       string             `json:"user_id" validate:"required"`
	Name         string             `json:"name" validate:"required"`
	PlanID       string             `json:"plan_id,omitempty"`
	BillingCycle types.BillingCycle `json:"billing_cycle,omitempty"`
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency,omitempty"`
	Quantity     decimal.Decimal    `json:"quantity,omitempty"`
	UnitPrice    decimal.Decimal    `json:"unit_price,omitempty"`
	StartDate    time.Time          `json:"start_date,omitempty"`
	IsTrial      bool               `json:"is_trial,omitempty"`
	TrialDays    int                `json:"trial_days,omitempty"`
	AutoRenew    bool               `json:"auto_renew,omitempty"`

	// Pre-existing provider linkage; when absent and a billing provider is
	// configured, resources are provisioned on the provider during create.
	ExternalSubscriptionID string `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string `json:"external_customer_id,omitempty"`
	ExternalPriceID        string `json:"external_price_id,omitempty"`
	ExternalProductID      string `json:"external_product_id,omitempty"`

	// CustomerEmail is only used for provider customer provisioning
	CustomerEmail string `json:"customer_email,omitempty"`

	Metadata types.Metadata `json:"metadata,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.BillingCycle != "" {
		if err := r.BillingCycle.Validate(); err != nil {
			return err
		}
	}
	if !r.StartDate.IsZero() {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if r.StartDate.Before(today) {
			return ierr.NewError("start date cannot be in the past").
				WithHint("Subscription start date must be today or later").
				WithReportableDetails(map[string]any{
					"start_date": r.StartDate,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// UpdateSubscriptionRequest is a partial update of a subscription. Nil fields
// are left untouched. A status change is re-validated against the transition
// table; everything else is an unconstrained merge.
type UpdateSubscriptionRequest struct {
	Name              *string                   `json:"name,omitempty"`
	Status            *types.SubscriptionStatus `json:"status,omitempty"`
	Amount            *decimal.Decimal          `json:"amount,omitempty"`
	Quantity          *decimal.Decimal          `json:"quantity,omitempty"`
	UnitPrice         *decimal.Decimal          `json:"unit_price,omitempty"`
	BillingCycle      *types.BillingCycle       `json:"billing_cycle,omitempty"`
	AutoRenew         *bool                     `json:"auto_renew,omitempty"`
	TrialEndDate      *time.Time                `json:"trial_end_date,omitempty"`
	GracePeriodDays   *int                      `json:"grace_period_days,omitempty"`
	CancelAtPeriodEnd *bool                     `json:"cancel_at_period_end,omitempty"`
	Metadata          types.Metadata            `json:"metadata,omitempty"`
}

func (r *UpdateSubscriptionRequest) Validate() error {
	if r.Status != nil {
		if err := r.Status.Validate(); err != nil {
			return err
		}
	}
	if r.BillingCycle != nil {
		if err := r.BillingCycle.Validate(); err != nil {
			return err
		}
	}
	if r.Amount != nil && r.Amount.LessThanOrEqual(decimal.Zero) {
		return ierr.NewError("amount must be positive").
			WithHint("Subscription amount must be greater than zero").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ExternalSubscriptionUpdate is the bypass update applied by the webhook
// reconciler. Fields are set directly from the provider's event without
// re-running business validation: the external system is the source of truth
// for these fields. This is a separate entry point from Update on purpose,
// to keep the trust boundary visible.
type ExternalSubscriptionUpdate struct {
	Status             *types.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEndDate       *time.Time
	AutoRenew          *bool
	CancelAtPeriodEnd  *bool
	CancelReason       *string
	Metadata           types.Metadata
}

// RecordUsageRequest carries one metered usage write
type RecordUsageRequest struct {
	SubscriptionID string           `json:"subscription_id" validate:"required"`
	MetricName     string           `json:"metric_name" validate:"required"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	// PeriodStart/PeriodEnd default to the subscription's current period
	PeriodStart *time.Time     `json:"period_start,omitempty"`
	PeriodEnd   *time.Time     `json:"period_end,omitempty"`
	Metadata    types.Metadata `json:"metadata,omitempty"`
}

func (r *RecordUsageRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Quantity.IsNegative() {
		return ierr.NewError("quantity cannot be negative").
			WithHint("Usage quantity must be zero or greater").
			WithReportableDetails(map[string]any{
				"quantity": r.Quantity.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if r.PeriodStart != nil && r.PeriodEnd != nil && !r.PeriodStart.Before(*r.PeriodEnd) {
		return ierr.NewError("invalid usage period").
			WithHint("Period start must be before period end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CreatePlanRequest carries the inputs of plan creation
type CreatePlanRequest struct {
	Name         string                     `json:"name" validate:"required"`
	Description  string                     `json:"description,omitempty"`
	Price        decimal.Decimal            `json:"price"`
	Currency     string                     `json:"currency,omitempty"`
	BillingCycle types.BillingCycle         `json:"billing_cycle,omitempty"`
	Limits       map[string]decimal.Decimal `json:"limits,omitempty"`
	Features     map[string]bool            `json:"features,omitempty"`
	IsActive     bool                       `json:"is_active,omitempty"`
	IsPopular    bool                       `json:"is_popular,omitempty"`
	Metadata     types.Metadata             `json:"metadata,omitempty"`
}

func (r *CreatePlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Price.IsNegative() {
		return ierr.NewError("price cannot be negative").
			WithHint("Plan price must be zero or greater").
			Mark(ierr.ErrValidation)
	}
	if r.BillingCycle != "" {
		return r.BillingCycle.Validate()
	}
	return nil
}

// EligibilityResult is the outcome of a business rule eligibility check
type EligibilityResult struct {
	CanProceed       bool     `json:"can_proceed"`
	Message          string   `json:"message"`
	RequiresApproval bool     `json:"requires_approval"`
	SuggestedActions []string `json:"suggested_actions"`
}
