package types

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/subflow/subflow/internal/errors"
)

// SubscriptionStatus is the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusUnpaid    SubscriptionStatus = "unpaid"
	SubscriptionStatusCancelled SubscriptionStatus = "canceled"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

var allSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusSuspended,
	SubscriptionStatusUnpaid,
	SubscriptionStatusCancelled,
	SubscriptionStatusInactive,
	SubscriptionStatusExpired,
	SubscriptionStatusCompleted,
}

func (s SubscriptionStatus) Validate() error {
	if !lo.Contains(allSubscriptionStatuses, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allSubscriptionStatuses,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// subscriptionStatusTransitions is the allowed transition table for subscription
// statuses. Completed is terminal and has no outgoing transitions.
var subscriptionStatusTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive:    {SubscriptionStatusSuspended, SubscriptionStatusCancelled},
	SubscriptionStatusTrial:     {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusSuspended: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {SubscriptionStatusActive},
	SubscriptionStatusPastDue:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusUnpaid:    {SubscriptionStatusCancelled},
	SubscriptionStatusPending:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusInactive:  {SubscriptionStatusActive},
	SubscriptionStatusExpired:   {SubscriptionStatusActive},
	SubscriptionStatusCompleted: {},
}

// CanTransitionTo reports whether the status can move to the target status
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	return lo.Contains(subscriptionStatusTransitions[s], target)
}

// IsTerminal reports whether the status has no outgoing transitions
func (s SubscriptionStatus) IsTerminal() bool {
	return len(subscriptionStatusTransitions[s]) == 0
}

// UpdatableSubscriptionStatuses are the statuses in which API driven updates are permitted
var UpdatableSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrial,
	SubscriptionStatusPending,
}

// CancelableSubscriptionStatuses are the statuses from which a cancel is permitted
var CancelableSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrial,
	SubscriptionStatusPending,
}

// SubscriptionStatusFromExternal maps the billing provider's subscription status
// onto the local status. Total function: unknown provider statuses map to inactive.
func SubscriptionStatusFromExternal(external string) SubscriptionStatus {
	switch external {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrial
	case "past_due":
		return SubscriptionStatusPastDue
	case "canceled":
		return SubscriptionStatusCancelled
	case "unpaid":
		return SubscriptionStatusUnpaid
	case "incomplete", "incomplete_expired":
		return SubscriptionStatusPending
	default:
		return SubscriptionStatusInactive
	}
}

// BillingCycle is the cadence of the billing period
type BillingCycle string

const (
	BillingCycleDaily      BillingCycle = "daily"
	BillingCycleWeekly     BillingCycle = "weekly"
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleQuarterly  BillingCycle = "quarterly"
	BillingCycleSemiAnnual BillingCycle = "semi_annual"
	BillingCycleAnnual     BillingCycle = "annual"
	BillingCycleCustom     BillingCycle = "custom"
)

func (c BillingCycle) String() string {
	return string(c)
}

func (c BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleDaily,
		BillingCycleWeekly,
		BillingCycleMonthly,
		BillingCycleQuarterly,
		BillingCycleSemiAnnual,
		BillingCycleAnnual,
		BillingCycleCustom,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Invalid billing cycle").
			WithReportableDetails(map[string]any{
				"billing_cycle":  c,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NextPeriodEnd returns the end of the billing period starting at start.
// Unknown cycles default to one month.
func (c BillingCycle) NextPeriodEnd(start time.Time) time.Time {
	switch c {
	case BillingCycleDaily:
		return start.AddDate(0, 0, 1)
	case BillingCycleWeekly:
		return start.AddDate(0, 0, 7)
	case BillingCycleMonthly:
		return start.AddDate(0, 1, 0)
	case BillingCycleQuarterly:
		return start.AddDate(0, 3, 0)
	case BillingCycleSemiAnnual:
		return start.AddDate(0, 6, 0)
	case BillingCycleAnnual:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// SubscriptionFilter represents filters for subscription queries
type SubscriptionFilter struct {
	UserID             string               `json:"user_id,omitempty" form:"user_id"`
	PlanID             string               `json:"plan_id,omitempty" form:"plan_id"`
	SubscriptionStatus []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	// ActiveAt filters subscriptions that are active at the given time
	ActiveAt *time.Time `json:"active_at,omitempty" form:"active_at"`
}

// Validate validates the subscription filter
func (f SubscriptionFilter) Validate() error {
	for _, status := range f.SubscriptionStatus {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	return nil
}
