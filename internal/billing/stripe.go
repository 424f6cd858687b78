package billing

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/logger"
	"github.com/subflow/subflow/internal/types"
)

// StripeProvider implements Provider against the Stripe API
type StripeProvider struct {
	client *stripe.Client
	logger *logger.Logger
}

// NewStripeProvider creates a Stripe backed billing provider
func NewStripeProvider(apiKey string, log *logger.Logger) *StripeProvider {
	return &StripeProvider{
		client: stripe.NewClient(apiKey, nil),
		logger: log,
	}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	params := &stripe.CustomerCreateParams{
		Email: stripe.String(in.Email),
		Name:  stripe.String(in.Name),
		Metadata: map[string]string{
			"user_id": in.UserID,
		},
	}

	customer, err := p.client.V1Customers.Create(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to create customer on billing provider").
			Mark(ierr.ErrIntegration)
	}

	p.logger.Infow("created external customer", "external_customer_id", customer.ID, "user_id", in.UserID)
	return customer.ID, nil
}

func (p *StripeProvider) CreateProduct(ctx context.Context, in ProductInput) (string, error) {
	params := &stripe.ProductCreateParams{
		Name: stripe.String(in.Name),
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}

	product, err := p.client.V1Products.Create(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to create product on billing provider").
			Mark(ierr.ErrIntegration)
	}

	p.logger.Infow("created external product", "external_product_id", product.ID, "name", in.Name)
	return product.ID, nil
}

func (p *StripeProvider) CreatePrice(ctx context.Context, in PriceInput) (string, error) {
	interval, intervalCount := recurringInterval(in.BillingCycle)
	params := &stripe.PriceCreateParams{
		Product:    stripe.String(in.ProductID),
		Currency:   stripe.String(in.Currency),
		UnitAmount: stripe.Int64(in.Amount.Mul(centsPerUnit).IntPart()),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(intervalCount),
		},
	}

	price, err := p.client.V1Prices.Create(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to create price on billing provider").
			Mark(ierr.ErrIntegration)
	}

	p.logger.Infow("created external price", "external_price_id", price.ID, "product_id", in.ProductID)
	return price.ID, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, in SubscriptionInput) (string, error) {
	quantity := in.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	if in.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
	}
	if len(in.Metadata) > 0 {
		params.Metadata = in.Metadata
	}

	sub, err := p.client.V1Subscriptions.Create(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to create subscription on billing provider").
			Mark(ierr.ErrIntegration)
	}

	p.logger.Infow("created external subscription",
		"external_subscription_id", sub.ID,
		"external_customer_id", in.CustomerID,
	)
	return sub.ID, nil
}

func (p *StripeProvider) UpdateSubscription(ctx context.Context, externalSubscriptionID string, in UpdateSubscriptionInput) error {
	params := &stripe.SubscriptionUpdateParams{}
	if in.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*in.CancelAtPeriodEnd)
	}
	if len(in.Metadata) > 0 {
		params.Metadata = in.Metadata
	}

	_, err := p.client.V1Subscriptions.Update(ctx, externalSubscriptionID, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription on billing provider").
			WithReportableDetails(map[string]any{
				"external_subscription_id": externalSubscriptionID,
			}).
			Mark(ierr.ErrIntegration)
	}
	return nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, externalSubscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		cancel := true
		return p.UpdateSubscription(ctx, externalSubscriptionID, UpdateSubscriptionInput{CancelAtPeriodEnd: &cancel})
	}

	_, err := p.client.V1Subscriptions.Cancel(ctx, externalSubscriptionID, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to cancel subscription on billing provider").
			WithReportableDetails(map[string]any{
				"external_subscription_id": externalSubscriptionID,
			}).
			Mark(ierr.ErrIntegration)
	}
	return nil
}

// centsPerUnit converts major currency units to the provider's minor units
var centsPerUnit = decimal.NewFromInt(100)

func recurringInterval(cycle types.BillingCycle) (string, int64) {
	switch cycle {
	case types.BillingCycleDaily:
		return "day", 1
	case types.BillingCycleWeekly:
		return "week", 1
	case types.BillingCycleMonthly:
		return "month", 1
	case types.BillingCycleQuarterly:
		return "month", 3
	case types.BillingCycleSemiAnnual:
		return "month", 6
	case types.BillingCycleAnnual:
		return "year", 1
	default:
		return "month", 1
	}
}
