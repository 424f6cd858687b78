package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to SubscriptionStatus
	}{
		{SubscriptionStatusActive, SubscriptionStatusSuspended},
		{SubscriptionStatusActive, SubscriptionStatusCancelled},
		{SubscriptionStatusTrial, SubscriptionStatusActive},
		{SubscriptionStatusTrial, SubscriptionStatusCancelled},
		{SubscriptionStatusSuspended, SubscriptionStatusActive},
		{SubscriptionStatusSuspended, SubscriptionStatusCancelled},
		{SubscriptionStatusCancelled, SubscriptionStatusActive},
		{SubscriptionStatusPastDue, SubscriptionStatusActive},
		{SubscriptionStatusPastDue, SubscriptionStatusCancelled},
		{SubscriptionStatusUnpaid, SubscriptionStatusCancelled},
		{SubscriptionStatusPending, SubscriptionStatusActive},
		{SubscriptionStatusPending, SubscriptionStatusCancelled},
		{SubscriptionStatusInactive, SubscriptionStatusActive},
		{SubscriptionStatusExpired, SubscriptionStatusActive},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to SubscriptionStatus
	}{
		{SubscriptionStatusActive, SubscriptionStatusTrial},
		{SubscriptionStatusActive, SubscriptionStatusCompleted},
		{SubscriptionStatusCancelled, SubscriptionStatusSuspended},
		{SubscriptionStatusCancelled, SubscriptionStatusTrial},
		{SubscriptionStatusTrial, SubscriptionStatusSuspended},
		{SubscriptionStatusUnpaid, SubscriptionStatusActive},
		{SubscriptionStatusCompleted, SubscriptionStatusActive},
		{SubscriptionStatusCompleted, SubscriptionStatusCancelled},
		{SubscriptionStatusActive, SubscriptionStatusActive},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestSubscriptionStatusIsTerminal(t *testing.T) {
	assert.True(t, SubscriptionStatusCompleted.IsTerminal())

	nonTerminal := []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusSuspended,
		SubscriptionStatusUnpaid,
		SubscriptionStatusCancelled,
		SubscriptionStatusInactive,
		SubscriptionStatusExpired,
	}
	for _, status := range nonTerminal {
		assert.False(t, status.IsTerminal(), "%s should not be terminal", status)
	}
}

func TestSubscriptionStatusFromExternal(t *testing.T) {
	tests := map[string]SubscriptionStatus{
		"active":             SubscriptionStatusActive,
		"trialing":           SubscriptionStatusTrial,
		"past_due":           SubscriptionStatusPastDue,
		"canceled":           SubscriptionStatusCancelled,
		"unpaid":             SubscriptionStatusUnpaid,
		"incomplete":         SubscriptionStatusPending,
		"incomplete_expired": SubscriptionStatusPending,
		"paused":             SubscriptionStatusInactive,
		"":                   SubscriptionStatusInactive,
		"something_new":      SubscriptionStatusInactive,
	}
	for external, want := range tests {
		assert.Equal(t, want, SubscriptionStatusFromExternal(external), "external status %q", external)
	}
}

func TestBillingCycleNextPeriodEnd(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := map[BillingCycle]time.Time{
		BillingCycleDaily:      time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		BillingCycleWeekly:     time.Date(2026, 1, 22, 0, 0, 0, 0, time.UTC),
		BillingCycleMonthly:    time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		BillingCycleQuarterly:  time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		BillingCycleSemiAnnual: time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		BillingCycleAnnual:     time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC),
		BillingCycleCustom:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	for cycle, want := range tests {
		assert.Equal(t, want, cycle.NextPeriodEnd(start), "cycle %s", cycle)
	}
}

func TestSubscriptionStatusValidate(t *testing.T) {
	assert.NoError(t, SubscriptionStatusActive.Validate())
	assert.Error(t, SubscriptionStatus("bogus").Validate())
	assert.Error(t, SubscriptionStatus("").Validate())
}
