package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/domain/subscription"
	"github.com/subflow/subflow/internal/types"
)

// BusinessRulesService gates plan changes and cancellation. It only answers
// eligibility questions; it never mutates subscriptions itself.
type BusinessRulesService interface {
	CanUpgrade(ctx context.Context, subscriptionID, targetPlanID string) (*EligibilityResult, error)
	CanDowngrade(ctx context.Context, subscriptionID, targetPlanID string) (*EligibilityResult, error)
	CanCancel(ctx context.Context, subscriptionID string) (*EligibilityResult, error)
}

type businessRulesService struct {
	ServiceParams
	usageService UsageService
}

func NewBusinessRulesService(params ServiceParams) BusinessRulesService {
	return &businessRulesService{
		ServiceParams: params,
		usageService:  NewUsageService(params),
	}
}

var (
	// approvalAmountThreshold is the subscription amount above which a
	// cancellation needs manual approval.
	approvalAmountThreshold = decimal.NewFromInt(500)

	// renewalWindow and newSubscriptionAge drive the advisory suggestions
	renewalWindow      = 7 * 24 * time.Hour
	newSubscriptionAge = 7 * 24 * time.Hour
)

func (s *businessRulesService) CanUpgrade(ctx context.Context, subscriptionID, targetPlanID string) (*EligibilityResult, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	target, err := s.PlanRepo.Get(ctx, targetPlanID)
	if err != nil {
		return nil, err
	}

	allowed := []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrial}
	if !lo.Contains(allowed, sub.SubscriptionStatus) {
		return &EligibilityResult{
			CanProceed: false,
			Message:    fmt.Sprintf("subscription in status %s cannot be upgraded", sub.SubscriptionStatus),
		}, nil
	}

	if !target.Price.GreaterThan(s.planPriceBasis(ctx, sub)) {
		return &EligibilityResult{
			CanProceed: false,
			Message:    "target plan price must be higher than the current plan price for an upgrade",
		}, nil
	}

	result := &EligibilityResult{
		CanProceed: true,
		Message:    "upgrade allowed",
	}
	periodEnd := types.FromNillableTime(sub.CurrentPeriodEnd)
	if !periodEnd.IsZero() && time.Until(periodEnd) <= renewalWindow {
		result.SuggestedActions = append(result.SuggestedActions,
			"renewal is close; consider applying the upgrade at the period boundary to avoid a small prorated charge")
	} else {
		result.SuggestedActions = append(result.SuggestedActions,
			"a prorated charge for the remainder of the current period will apply")
	}
	return result, nil
}

func (s *businessRulesService) CanDowngrade(ctx context.Context, subscriptionID, targetPlanID string) (*EligibilityResult, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	target, err := s.PlanRepo.Get(ctx, targetPlanID)
	if err != nil {
		return nil, err
	}

	if sub.SubscriptionStatus != types.SubscriptionStatusActive {
		return &EligibilityResult{
			CanProceed: false,
			Message:    fmt.Sprintf("subscription in status %s cannot be downgraded", sub.SubscriptionStatus),
		}, nil
	}

	if !target.Price.LessThan(s.planPriceBasis(ctx, sub)) {
		return &EligibilityResult{
			CanProceed: false,
			Message:    "target plan price must be lower than the current plan price for a downgrade",
		}, nil
	}

	// The downgrade must not strand the subscription over the target plan's
	// limits; every conflicting metric is reported, not just the first.
	current, err := s.usageService.GetCurrentUsage(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	var conflicts []string
	metrics := make([]string, 0, len(target.Limits))
	for metric := range target.Limits {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	for _, metric := range metrics {
		limit := target.Limits[metric]
		if used := current[metric]; used.GreaterThan(limit) {
			conflicts = append(conflicts, fmt.Sprintf("%s (current %s, target limit %s)",
				metric, used.String(), limit.String()))
		}
	}
	if len(conflicts) > 0 {
		return &EligibilityResult{
			CanProceed: false,
			Message:    fmt.Sprintf("current usage exceeds target plan limits: %s", strings.Join(conflicts, ", ")),
			SuggestedActions: []string{
				"reduce usage below the target plan limits before downgrading",
			},
		}, nil
	}

	return &EligibilityResult{
		CanProceed: true,
		Message:    "downgrade allowed",
		SuggestedActions: []string{
			"the downgrade takes effect at the next renewal; no credit is issued for the current period",
		},
	}, nil
}

// planPriceBasis is the price plan changes are compared against: the current
// plan's price when the subscription references one, otherwise the
// subscription amount. The subscription amount carries discounts and would
// misclassify a cheaper plan as an upgrade.
func (s *businessRulesService) planPriceBasis(ctx context.Context, sub *subscription.Subscription) decimal.Decimal {
	if sub.PlanID == "" {
		return sub.Amount
	}
	current, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		s.Logger.Warnw("could not load current plan, comparing against subscription amount",
			"subscription_id", sub.ID, "plan_id", sub.PlanID, "error", err)
		return sub.Amount
	}
	return current.Price
}

func (s *businessRulesService) CanCancel(ctx context.Context, subscriptionID string) (*EligibilityResult, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
		return &EligibilityResult{
			CanProceed: false,
			Message:    "subscription is already cancelled",
		}, nil
	}

	result := &EligibilityResult{
		CanProceed: true,
		Message:    "cancellation allowed",
	}

	if sub.Amount.GreaterThan(approvalAmountThreshold) {
		result.RequiresApproval = true
		result.SuggestedActions = append(result.SuggestedActions,
			"high value subscription; route to retention before confirming the cancellation")
	}
	if time.Since(sub.CreatedAt) < newSubscriptionAge {
		result.SuggestedActions = append(result.SuggestedActions,
			"subscription is less than a week old; offer onboarding help before cancelling")
	}
	return result, nil
}
