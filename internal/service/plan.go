package service

import (
	"context"

	"github.com/subflow/subflow/internal/cache"
	"github.com/subflow/subflow/internal/domain/plan"
	"github.com/subflow/subflow/internal/types"
)

const planCacheKeyPrefix = "plan"

// PlanService manages the plan catalog. Reads go through the TTL cache since
// plans change rarely and are looked up on every subscription create.
type PlanService interface {
	CreatePlan(ctx context.Context, req *CreatePlanRequest) (*plan.Plan, error)
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	ListPlans(ctx context.Context) ([]*plan.Plan, error)
}

type planService struct {
	ServiceParams
}

func NewPlanService(params ServiceParams) PlanService {
	return &planService{ServiceParams: params}
}

func (s *planService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*plan.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cycle := req.BillingCycle
	if cycle == "" {
		cycle = types.BillingCycleMonthly
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	p := &plan.Plan{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Currency:     currency,
		BillingCycle: cycle,
		Limits:       req.Limits,
		Features:     req.Features,
		IsActive:     req.IsActive,
		IsPopular:    req.IsPopular,
		Metadata:     req.Metadata,
		BaseModel:    types.GetDefaultBaseModel(ctx),
	}

	if err := s.PlanRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.Logger.Infow("created plan", "plan_id", p.ID, "name", p.Name, "price", p.Price.String())
	return p, nil
}

func (s *planService) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	key := cache.GenerateKey(planCacheKeyPrefix, types.GetTenantID(ctx), id)
	if s.Cache != nil {
		if cached, found := s.Cache.Get(ctx, key); found {
			if p, ok := cached.(*plan.Plan); ok {
				return p, nil
			}
		}
	}

	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, key, p, cache.DefaultExpiration)
	}
	return p, nil
}

func (s *planService) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	return s.PlanRepo.List(ctx)
}
