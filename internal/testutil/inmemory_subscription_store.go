package testutil

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"github.com/subflow/subflow/internal/domain/subscription"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// InMemorySubscriptionStore is an in-memory implementation of
// subscription.Repository for tests.
type InMemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subs: make(map[string]*subscription.Subscription),
	}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; ok {
		return ierr.NewError("subscription already exists").
			WithHintf("Subscription with ID %s already exists", sub.ID).
			Mark(ierr.ErrAlreadyExists)
	}

	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok || sub.TenantID != types.GetTenantID(ctx) {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Subscription with ID %s was not found", id).
			WithReportableDetails(map[string]any{
				"subscription_id": id,
			}).
			Mark(ierr.ErrNotFound)
	}

	copied := *sub
	return &copied, nil
}

func (s *InMemorySubscriptionStore) GetByExternalID(ctx context.Context, externalSubscriptionID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.ExternalSubscriptionID == externalSubscriptionID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, ierr.NewError("subscription not found").
		WithHintf("No subscription with external ID %s", externalSubscriptionID).
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return ierr.NewError("subscription not found").
			WithHintf("Subscription with ID %s was not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}

	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := types.GetTenantID(ctx)
	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || sub.Status == types.StatusDeleted {
			continue
		}
		if filter != nil {
			if filter.UserID != "" && sub.UserID != filter.UserID {
				continue
			}
			if filter.PlanID != "" && sub.PlanID != filter.PlanID {
				continue
			}
			if len(filter.SubscriptionStatus) > 0 && !lo.Contains(filter.SubscriptionStatus, sub.SubscriptionStatus) {
				continue
			}
			if filter.ActiveAt != nil {
				if sub.StartDate.After(*filter.ActiveAt) {
					continue
				}
				if sub.EndDate != nil && sub.EndDate.Before(*filter.ActiveAt) {
					continue
				}
			}
		}
		copied := *sub
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemorySubscriptionStore) CountActive(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := types.GetTenantID(ctx)
	count := 0
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || sub.Status == types.StatusDeleted {
			continue
		}
		if sub.UserID != userID {
			continue
		}
		if sub.SubscriptionStatus == types.SubscriptionStatusActive ||
			sub.SubscriptionStatus == types.SubscriptionStatusTrial {
			count++
		}
	}
	return count, nil
}

// Clear removes all subscriptions from the store
func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string]*subscription.Subscription)
}
