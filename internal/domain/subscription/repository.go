package subscription

import (
	"context"

	"github.com/subflow/subflow/internal/types"
)

// Repository is the persistence collaborator for subscriptions. Implementations
// must provide per-row atomicity on Update so concurrent webhook deliveries for
// the same external subscription cannot interleave into an inconsistent status.
type Repository interface {
	Create(ctx context.Context, subscription *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// GetByExternalID looks a subscription up by the billing provider's
	// subscription id, the idempotency key of the reconciliation protocol.
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)
	Update(ctx context.Context, subscription *Subscription) error
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	// CountActive counts subscriptions in active or trial status for the
	// given user within the tenant carried on the context.
	CountActive(ctx context.Context, userID string) (int, error)
}
