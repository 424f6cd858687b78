package testutil

import (
	"context"
	"sync"

	"github.com/subflow/subflow/internal/domain/plan"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// InMemoryPlanStore is an in-memory implementation of plan.Repository for tests
type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		plans: make(map[string]*plan.Plan),
	}
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID]; ok {
		return ierr.NewError("plan already exists").
			WithHintf("Plan with ID %s already exists", p.ID).
			Mark(ierr.ErrAlreadyExists)
	}

	copied := *p
	s.plans[p.ID] = &copied
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", id).
			WithReportableDetails(map[string]any{
				"plan_id": id,
			}).
			Mark(ierr.ErrNotFound)
	}

	copied := *p
	return &copied, nil
}

func (s *InMemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID]; !ok {
		return ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", p.ID).
			Mark(ierr.ErrNotFound)
	}

	copied := *p
	s.plans[p.ID] = &copied
	return nil
}

func (s *InMemoryPlanStore) List(ctx context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Status == types.StatusDeleted {
			continue
		}
		copied := *p
		result = append(result, &copied)
	}
	return result, nil
}

// Clear removes all plans from the store
func (s *InMemoryPlanStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*plan.Plan)
}
