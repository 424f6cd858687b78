package usage

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/types"
)

// Key is the metering key that uniquely identifies one usage record.
// A second write with the same key updates the record in place.
type Key struct {
	SubscriptionID string
	MetricName     string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// Record is a single metered usage entry for a subscription, metric and period
type Record struct {
	// ID is the unique identifier for the usage record
	ID string `db:"id" json:"id"`

	// SubscriptionID is the subscription the usage belongs to
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	// MetricName is the metered metric, e.g. api_calls
	MetricName string `db:"metric_name" json:"metric_name"`

	// PeriodStart is the start of the usage period
	PeriodStart time.Time `db:"period_start" json:"period_start"`

	// PeriodEnd is the end of the usage period
	PeriodEnd time.Time `db:"period_end" json:"period_end"`

	// Quantity is the metered quantity; repeated writes for the same key
	// overwrite this value rather than adding to it
	Quantity decimal.Decimal `db:"quantity" json:"quantity"`

	// UnitPrice is the optional per-unit price of the metric
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`

	// TotalAmount is quantity times unit price
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`

	// RecordedAt is the time of the last write for this key
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`

	// IsBilled marks whether the record has been invoiced
	IsBilled bool `db:"is_billed" json:"is_billed"`

	// BilledAt is the time the record was invoiced
	BilledAt *time.Time `db:"billed_at" json:"billed_at"`

	Metadata types.Metadata `db:"metadata" json:"metadata"`

	types.BaseModel
}

// Key returns the metering key of the record
func (r *Record) Key() Key {
	return Key{
		SubscriptionID: r.SubscriptionID,
		MetricName:     r.MetricName,
		PeriodStart:    r.PeriodStart,
		PeriodEnd:      r.PeriodEnd,
	}
}

// LimitStatus is the computed usage position against one plan limit
type LimitStatus struct {
	MetricName   string          `json:"metric_name"`
	CurrentUsage decimal.Decimal `json:"current_usage"`
	Limit        decimal.Decimal `json:"limit"`
	Percentage   float64         `json:"percentage"`
	IsExceeded   bool            `json:"is_exceeded"`
	IsNearLimit  bool            `json:"is_near_limit"`
}

// Alert is a limit alert derived from LimitStatus, consumed by notifier
// collaborators. Emitting alerts never blocks or fails a usage write.
type Alert struct {
	ID             string                   `json:"id"`
	ReferenceCode  string                   `json:"reference_code"`
	SubscriptionID string                   `json:"subscription_id"`
	MetricName     string                   `json:"metric_name"`
	Type           types.UsageAlertType     `json:"type"`
	Severity       types.UsageAlertSeverity `json:"severity"`
	CurrentUsage   decimal.Decimal          `json:"current_usage"`
	Limit          decimal.Decimal          `json:"limit"`
	Percentage     float64                  `json:"percentage"`
	CreatedAt      time.Time                `json:"created_at"`
}

// Analytics is the aggregate view of usage over a time range
type Analytics struct {
	SubscriptionID string                     `json:"subscription_id,omitempty"`
	TotalUsage     decimal.Decimal            `json:"total_usage"`
	UsageByMetric  map[string]decimal.Decimal `json:"usage_by_metric"`
	// UsageTrends is the per calendar day usage in ascending day order
	UsageTrends []TrendPoint `json:"usage_trends"`
	// TopMetrics is the top 5 metrics by usage with their share of the total
	TopMetrics []MetricShare `json:"top_metrics"`
}

// TrendPoint is one day's aggregated usage
type TrendPoint struct {
	Date  string          `json:"date"`
	Usage decimal.Decimal `json:"usage"`
}

// MetricShare is one metric's usage and its percentage of the total
type MetricShare struct {
	MetricName string          `json:"metric_name"`
	Usage      decimal.Decimal `json:"usage"`
	Percentage float64         `json:"percentage"`
}

// TenantSummary is the tenant wide usage rollup, aggregated the same way as
// Analytics over an optional time range.
type TenantSummary struct {
	TenantID              string                     `json:"tenant_id"`
	TotalUsage            decimal.Decimal            `json:"total_usage"`
	UsageByMetric         map[string]decimal.Decimal `json:"usage_by_metric"`
	UsageTrends           []TrendPoint               `json:"usage_trends"`
	TopMetrics            []MetricShare              `json:"top_metrics"`
	SubscriptionCount     int                        `json:"subscription_count"`
	ActiveSubscriptions   int                        `json:"active_subscriptions"`
	InactiveSubscriptions int                        `json:"inactive_subscriptions"`
}
