package service

import (
	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/billing"
	"github.com/subflow/subflow/internal/cache"
	"github.com/subflow/subflow/internal/config"
	"github.com/subflow/subflow/internal/domain/plan"
	"github.com/subflow/subflow/internal/domain/pricing"
	"github.com/subflow/subflow/internal/domain/subscription"
	"github.com/subflow/subflow/internal/domain/usage"
	"github.com/subflow/subflow/internal/logger"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Repositories
	SubRepo   subscription.Repository
	PlanRepo  plan.Repository
	UsageRepo usage.Repository

	// External collaborators
	BillingProvider billing.Provider
	Cache           cache.Cache
}

// PricingConfig builds the pricing rule knobs from the loaded configuration,
// falling back to the stock defaults when no configuration is wired.
func (p ServiceParams) PricingConfig() *pricing.Config {
	if p.Config == nil {
		return pricing.DefaultConfig()
	}

	cfg := pricing.DefaultConfig()
	if p.Config.Pricing.AnnualDiscountPercent > 0 {
		cfg.AnnualDiscountPercent = decimal.NewFromFloat(p.Config.Pricing.AnnualDiscountPercent)
	}
	if p.Config.Pricing.MinimumCommitment > 0 {
		cfg.MinimumCommitment = decimal.NewFromFloat(p.Config.Pricing.MinimumCommitment)
	}
	if p.Config.Pricing.MaximumDiscountPercent > 0 {
		cfg.MaximumDiscountPercent = decimal.NewFromFloat(p.Config.Pricing.MaximumDiscountPercent)
	}
	return cfg
}
