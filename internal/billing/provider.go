package billing

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/types"
)

// CustomerInput describes the customer to create on the billing provider
type CustomerInput struct {
	UserID string
	Email  string
	Name   string
}

// ProductInput describes the product to create on the billing provider
type ProductInput struct {
	Name        string
	Description string
}

// PriceInput describes the recurring price to create on the billing provider
type PriceInput struct {
	ProductID    string
	Amount       decimal.Decimal
	Currency     string
	BillingCycle types.BillingCycle
}

// SubscriptionInput describes the external subscription to create
type SubscriptionInput struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	TrialDays  int
	Metadata   types.Metadata
}

// UpdateSubscriptionInput carries the mutable fields of an external subscription
type UpdateSubscriptionInput struct {
	CancelAtPeriodEnd *bool
	Metadata          types.Metadata
}

// Provider is the external billing resource collaborator. All methods return
// the provider's opaque resource id. Failures are reported to the caller,
// which decides whether they are fatal; the provider never retries internally.
type Provider interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (string, error)
	CreateProduct(ctx context.Context, in ProductInput) (string, error)
	CreatePrice(ctx context.Context, in PriceInput) (string, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (string, error)
	UpdateSubscription(ctx context.Context, externalSubscriptionID string, in UpdateSubscriptionInput) error
	CancelSubscription(ctx context.Context, externalSubscriptionID string, atPeriodEnd bool) error
}
