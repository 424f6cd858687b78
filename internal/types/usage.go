package types

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/subflow/subflow/internal/errors"
)

// UsageAlertType is the kind of limit alert raised by the metering engine
type UsageAlertType string

const (
	UsageAlertTypeNearLimit     UsageAlertType = "near_limit"
	UsageAlertTypeLimitExceeded UsageAlertType = "limit_exceeded"
)

// UsageAlertSeverity is the severity of a limit alert
type UsageAlertSeverity string

const (
	UsageAlertSeverityMedium   UsageAlertSeverity = "medium"
	UsageAlertSeverityCritical UsageAlertSeverity = "critical"
)

// NearLimitThresholdPercent is the usage percentage at which a near_limit
// alert starts firing.
const NearLimitThresholdPercent = 80.0

func (t UsageAlertType) String() string {
	return string(t)
}

func (t UsageAlertType) Validate() error {
	allowed := []UsageAlertType{UsageAlertTypeNearLimit, UsageAlertTypeLimitExceeded}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid usage alert type").
			WithHint("Invalid usage alert type").
			WithReportableDetails(map[string]any{
				"alert_type":     t,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// UsageFilter represents filters for usage record queries
type UsageFilter struct {
	SubscriptionID string     `json:"subscription_id,omitempty" form:"subscription_id"`
	MetricName     string     `json:"metric_name,omitempty" form:"metric_name"`
	StartTime      *time.Time `json:"start_time,omitempty" form:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty" form:"end_time"`
}
