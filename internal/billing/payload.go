package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/types"
)

// SubscriptionPayload is the subscription object carried in provider webhook
// events. Only the fields the reconciler consumes are mapped; everything else
// in the raw payload is ignored.
type SubscriptionPayload struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CustomerID         string            `json:"customer"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              ItemList          `json:"items"`
}

// ItemList is the list envelope the provider wraps subscription items in
type ItemList struct {
	Data []ItemPayload `json:"data"`
}

// ItemPayload is one subscription line item with its price
type ItemPayload struct {
	Quantity int64        `json:"quantity"`
	Price    PricePayload `json:"price"`
}

// PricePayload is the price attached to a subscription item
type PricePayload struct {
	ID         string           `json:"id"`
	UnitAmount int64            `json:"unit_amount"`
	Currency   string           `json:"currency"`
	Product    string           `json:"product"`
	Recurring  RecurringPayload `json:"recurring"`
}

// RecurringPayload is the price's billing cadence
type RecurringPayload struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count"`
}

// LocalStatus maps the provider status onto the local subscription status
func (p *SubscriptionPayload) LocalStatus() types.SubscriptionStatus {
	return types.SubscriptionStatusFromExternal(p.Status)
}

// PeriodStart returns the period start as a time, nil when unset
func (p *SubscriptionPayload) PeriodStart() *time.Time {
	return unixToTime(p.CurrentPeriodStart)
}

// PeriodEnd returns the period end as a time, nil when unset
func (p *SubscriptionPayload) PeriodEnd() *time.Time {
	return unixToTime(p.CurrentPeriodEnd)
}

// TrialEndTime returns the trial end as a time, nil when unset
func (p *SubscriptionPayload) TrialEndTime() *time.Time {
	return unixToTime(p.TrialEnd)
}

// FirstItem returns the subscription's first line item, nil when the payload
// carries none.
func (p *SubscriptionPayload) FirstItem() *ItemPayload {
	if len(p.Items.Data) == 0 {
		return nil
	}
	return &p.Items.Data[0]
}

// UnitAmount returns the item's price in major currency units
func (i *ItemPayload) UnitAmount() decimal.Decimal {
	return decimal.NewFromInt(i.Price.UnitAmount).Div(decimal.NewFromInt(100))
}

// LocalBillingCycle maps the price's recurring cadence onto the local cycle
func (i *ItemPayload) LocalBillingCycle() types.BillingCycle {
	switch i.Price.Recurring.Interval {
	case "day":
		return types.BillingCycleDaily
	case "week":
		return types.BillingCycleWeekly
	case "month":
		switch i.Price.Recurring.IntervalCount {
		case 3:
			return types.BillingCycleQuarterly
		case 6:
			return types.BillingCycleSemiAnnual
		default:
			return types.BillingCycleMonthly
		}
	case "year":
		return types.BillingCycleAnnual
	default:
		return types.BillingCycleMonthly
	}
}

// InvoicePayload is the invoice object carried in provider webhook events
type InvoicePayload struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription"`
	CustomerID     string `json:"customer"`
	AmountDue      int64  `json:"amount_due"`
	Currency       string `json:"currency"`
}

func unixToTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
