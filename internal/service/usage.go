package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"github.com/subflow/subflow/internal/domain/subscription"
	"github.com/subflow/subflow/internal/domain/usage"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// UsageService is the metering engine: usage writes, limit checks and
// aggregate views. Writes are keyed on (subscription, metric, period) and a
// repeated write for the same key overwrites the previous quantity.
type UsageService interface {
	RecordUsage(ctx context.Context, req *RecordUsageRequest) (*usage.Record, error)
	GetCurrentUsage(ctx context.Context, subscriptionID string) (map[string]decimal.Decimal, error)
	GetUsageLimits(ctx context.Context, subscriptionID string) ([]*usage.LimitStatus, error)
	// CheckUsageLimits derives alerts from the current limit position. It
	// never returns an error: alerting must not block metering.
	CheckUsageLimits(ctx context.Context, subscriptionID string) []*usage.Alert
	GetUsageAnalytics(ctx context.Context, subscriptionID string, startTime, endTime *time.Time) (*usage.Analytics, error)
	// GetTenantUsageSummary aggregates usage across all of the tenant's
	// subscriptions the same way GetUsageAnalytics does, over the optional
	// time range.
	GetTenantUsageSummary(ctx context.Context, startTime, endTime *time.Time) (*usage.TenantSummary, error)
}

type usageService struct {
	ServiceParams
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{ServiceParams: params}
}

func (s *usageService) RecordUsage(ctx context.Context, req *RecordUsageRequest) (*usage.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if !sub.IsInTrialOrActive() {
		return nil, ierr.NewError("subscription cannot accept usage").
			WithHintf("Usage can only be recorded for active or trial subscriptions, not %s", sub.SubscriptionStatus).
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrBusinessRule)
	}

	periodStart, periodEnd := req.PeriodStart, req.PeriodEnd
	if periodStart == nil || periodEnd == nil {
		start, end, err := s.ensureCurrentPeriod(ctx, sub)
		if err != nil {
			return nil, err
		}
		if periodStart == nil {
			periodStart = start
		}
		if periodEnd == nil {
			periodEnd = end
		}
	}

	unitPrice := decimal.Zero
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}

	record := &usage.Record{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_RECORD),
		SubscriptionID: sub.ID,
		MetricName:     req.MetricName,
		PeriodStart:    *periodStart,
		PeriodEnd:      *periodEnd,
		Quantity:       req.Quantity,
		UnitPrice:      unitPrice,
		TotalAmount:    req.Quantity.Mul(unitPrice),
		RecordedAt:     time.Now().UTC(),
		Metadata:       req.Metadata,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}

	// Keep the original id stable across overwrites of the same key
	if existing, err := s.UsageRepo.GetByKey(ctx, record.Key()); err == nil && existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		record.CreatedBy = existing.CreatedBy
		record.IsBilled = existing.IsBilled
		record.BilledAt = existing.BilledAt
	}

	if err := s.UsageRepo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	for _, alert := range s.CheckUsageLimits(ctx, sub.ID) {
		s.Logger.Warnw("usage limit alert",
			"alert_id", alert.ID,
			"reference_code", alert.ReferenceCode,
			"subscription_id", alert.SubscriptionID,
			"metric_name", alert.MetricName,
			"alert_type", alert.Type,
			"severity", alert.Severity,
			"current_usage", alert.CurrentUsage.String(),
			"limit", alert.Limit.String(),
			"percentage", alert.Percentage,
		)
	}

	return record, nil
}

// ensureCurrentPeriod returns the subscription's current billing period,
// healing and persisting it when the stored period is missing or stale.
// A never-set period is computed from the subscription start date plus the
// billing cycle; a stale one is rolled forward until it covers now.
func (s *usageService) ensureCurrentPeriod(ctx context.Context, sub *subscription.Subscription) (*time.Time, *time.Time, error) {
	now := time.Now().UTC()

	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
		return sub.CurrentPeriodStart, sub.CurrentPeriodEnd, nil
	}

	start := sub.StartDate
	if sub.CurrentPeriodStart != nil {
		start = *sub.CurrentPeriodStart
	}
	if start.IsZero() {
		start = now
	}

	end := sub.BillingCycle.NextPeriodEnd(start)
	for !end.After(now) {
		start = end
		end = sub.BillingCycle.NextPeriodEnd(start)
	}

	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, nil, err
	}

	s.Logger.Infow("advanced subscription billing period",
		"subscription_id", sub.ID,
		"period_start", start,
		"period_end", end,
	)
	return &start, &end, nil
}

func (s *usageService) GetCurrentUsage(ctx context.Context, subscriptionID string) (map[string]decimal.Decimal, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	// Heal missing or stale period dates before reading, so usage from
	// finished periods never counts against the current one
	start, end, err := s.ensureCurrentPeriod(ctx, sub)
	if err != nil {
		return nil, err
	}

	records, err := s.UsageRepo.List(ctx, &types.UsageFilter{
		SubscriptionID: sub.ID,
		StartTime:      start,
		EndTime:        end,
	})
	if err != nil {
		return nil, err
	}

	byMetric := make(map[string]decimal.Decimal)
	for _, r := range records {
		byMetric[r.MetricName] = byMetric[r.MetricName].Add(r.Quantity)
	}
	return byMetric, nil
}

func (s *usageService) GetUsageLimits(ctx context.Context, subscriptionID string) ([]*usage.LimitStatus, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	limits := sub.Limits
	if len(limits) == 0 && sub.PlanID != "" {
		// Older rows predate the plan snapshot; fall back to the plan
		if p, err := s.PlanRepo.Get(ctx, sub.PlanID); err == nil {
			limits = p.Limits
		}
	}
	if len(limits) == 0 {
		return nil, nil
	}

	current, err := s.GetCurrentUsage(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	metrics := make([]string, 0, len(limits))
	for metric := range limits {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	statuses := make([]*usage.LimitStatus, 0, len(metrics))
	for _, metric := range metrics {
		limit := limits[metric]
		used := current[metric]

		status := &usage.LimitStatus{
			MetricName:   metric,
			CurrentUsage: used,
			Limit:        limit,
		}
		if limit.IsPositive() {
			pct, _ := used.Div(limit).Mul(decimal.NewFromInt(100)).Float64()
			status.Percentage = pct
			status.IsExceeded = used.GreaterThan(limit)
			status.IsNearLimit = !status.IsExceeded && pct >= types.NearLimitThresholdPercent
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *usageService) CheckUsageLimits(ctx context.Context, subscriptionID string) []*usage.Alert {
	statuses, err := s.GetUsageLimits(ctx, subscriptionID)
	if err != nil {
		s.Logger.Errorw("usage limit check failed",
			"subscription_id", subscriptionID,
			"error", err,
		)
		return nil
	}

	now := time.Now().UTC()
	alerts := make([]*usage.Alert, 0)
	for _, status := range statuses {
		if !status.IsExceeded && !status.IsNearLimit {
			continue
		}

		alert := &usage.Alert{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_ALERT),
			ReferenceCode:  types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_USAGE_ALERT),
			SubscriptionID: subscriptionID,
			MetricName:     status.MetricName,
			Type:           types.UsageAlertTypeNearLimit,
			Severity:       types.UsageAlertSeverityMedium,
			CurrentUsage:   status.CurrentUsage,
			Limit:          status.Limit,
			Percentage:     status.Percentage,
			CreatedAt:      now,
		}
		if status.IsExceeded {
			alert.Type = types.UsageAlertTypeLimitExceeded
			alert.Severity = types.UsageAlertSeverityCritical
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

func (s *usageService) GetUsageAnalytics(ctx context.Context, subscriptionID string, startTime, endTime *time.Time) (*usage.Analytics, error) {
	if _, err := s.SubRepo.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}

	records, err := s.UsageRepo.List(ctx, &types.UsageFilter{
		SubscriptionID: subscriptionID,
		StartTime:      startTime,
		EndTime:        endTime,
	})
	if err != nil {
		return nil, err
	}

	total, byMetric, trends, top := aggregateRecords(records)
	return &usage.Analytics{
		SubscriptionID: subscriptionID,
		TotalUsage:     total,
		UsageByMetric:  byMetric,
		UsageTrends:    trends,
		TopMetrics:     top,
	}, nil
}

func (s *usageService) GetTenantUsageSummary(ctx context.Context, startTime, endTime *time.Time) (*usage.TenantSummary, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, err
	}

	subs, err := s.SubRepo.List(ctx, &types.SubscriptionFilter{})
	if err != nil {
		return nil, err
	}

	summary := &usage.TenantSummary{
		TenantID:          types.GetTenantID(ctx),
		SubscriptionCount: len(subs),
	}
	for _, sub := range subs {
		if sub.IsInTrialOrActive() {
			summary.ActiveSubscriptions++
		} else {
			summary.InactiveSubscriptions++
		}
	}

	// Fan out the per subscription usage reads, merge single threaded
	p := pool.NewWithResults[[]*usage.Record]().
		WithContext(ctx).
		WithMaxGoroutines(8)
	for _, sub := range subs {
		subID := sub.ID
		p.Go(func(ctx context.Context) ([]*usage.Record, error) {
			return s.UsageRepo.List(ctx, &types.UsageFilter{
				SubscriptionID: subID,
				StartTime:      startTime,
				EndTime:        endTime,
			})
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var records []*usage.Record
	for _, rs := range results {
		records = append(records, rs...)
	}

	summary.TotalUsage, summary.UsageByMetric, summary.UsageTrends, summary.TopMetrics = aggregateRecords(records)
	return summary, nil
}

// aggregateRecords folds usage records into the total, the per-metric sums,
// the per calendar day trend in ascending day order and the top 5 metrics by
// usage with their share of the total.
func aggregateRecords(records []*usage.Record) (decimal.Decimal, map[string]decimal.Decimal, []usage.TrendPoint, []usage.MetricShare) {
	total := decimal.Zero
	byMetric := make(map[string]decimal.Decimal)
	byDay := make(map[string]decimal.Decimal)
	for _, r := range records {
		total = total.Add(r.Quantity)
		byMetric[r.MetricName] = byMetric[r.MetricName].Add(r.Quantity)

		day := r.RecordedAt.UTC().Format(time.DateOnly)
		byDay[day] = byDay[day].Add(r.Quantity)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	trends := make([]usage.TrendPoint, 0, len(days))
	for _, day := range days {
		trends = append(trends, usage.TrendPoint{Date: day, Usage: byDay[day]})
	}

	top := make([]usage.MetricShare, 0, len(byMetric))
	for metric, qty := range byMetric {
		share := usage.MetricShare{MetricName: metric, Usage: qty}
		if total.IsPositive() {
			share.Percentage, _ = qty.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		}
		top = append(top, share)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Usage.Equal(top[j].Usage) {
			return top[i].MetricName < top[j].MetricName
		}
		return top[i].Usage.GreaterThan(top[j].Usage)
	})
	if len(top) > 5 {
		top = top[:5]
	}
	return total, byMetric, trends, top
}
