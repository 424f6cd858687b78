package testutil

import (
	"context"
	"sync"

	"github.com/subflow/subflow/internal/domain/usage"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// InMemoryUsageStore is an in-memory implementation of usage.Repository for
// tests. Records are keyed on the metering key so Upsert overwrites in place.
type InMemoryUsageStore struct {
	mu      sync.Mutex
	records map[usage.Key]*usage.Record
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		records: make(map[usage.Key]*usage.Record),
	}
}

func (s *InMemoryUsageStore) Upsert(ctx context.Context, record *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.Key()
	if existing, ok := s.records[key]; ok {
		existing.Quantity = record.Quantity
		existing.UnitPrice = record.UnitPrice
		existing.TotalAmount = record.TotalAmount
		existing.RecordedAt = record.RecordedAt
		existing.Metadata = record.Metadata
		existing.UpdatedAt = record.UpdatedAt
		existing.UpdatedBy = record.UpdatedBy
		return nil
	}

	copied := *record
	s.records[key] = &copied
	return nil
}

func (s *InMemoryUsageStore) GetByKey(ctx context.Context, key usage.Key) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, ierr.NewError("usage record not found").
			WithHint("No usage record for the given metering key").
			WithReportableDetails(map[string]any{
				"subscription_id": key.SubscriptionID,
				"metric_name":     key.MetricName,
			}).
			Mark(ierr.ErrNotFound)
	}

	copied := *record
	return &copied, nil
}

func (s *InMemoryUsageStore) List(ctx context.Context, filter *types.UsageFilter) ([]*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*usage.Record, 0)
	for _, record := range s.records {
		if filter != nil {
			if filter.SubscriptionID != "" && record.SubscriptionID != filter.SubscriptionID {
				continue
			}
			if filter.MetricName != "" && record.MetricName != filter.MetricName {
				continue
			}
			if filter.StartTime != nil && record.PeriodStart.Before(*filter.StartTime) {
				continue
			}
			if filter.EndTime != nil && record.PeriodEnd.After(*filter.EndTime) {
				continue
			}
		}
		copied := *record
		result = append(result, &copied)
	}
	return result, nil
}

// Clear removes all usage records from the store
func (s *InMemoryUsageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[usage.Key]*usage.Record)
}
