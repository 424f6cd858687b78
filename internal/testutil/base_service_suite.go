package testutil

import (
	"context"

	"github.com/stretchr/testify/suite"
	"github.com/subflow/subflow/internal/cache"
	"github.com/subflow/subflow/internal/config"
	"github.com/subflow/subflow/internal/logger"
	"github.com/subflow/subflow/internal/types"
	"github.com/subflow/subflow/internal/validator"
)

// Stores bundles the in-memory repositories of a test run
type Stores struct {
	SubscriptionRepo *InMemorySubscriptionStore
	PlanRepo         *InMemoryPlanStore
	UsageRepo        *InMemoryUsageStore
}

// BaseServiceTestSuite provides the shared wiring for service level tests:
// a tenant scoped context, a logger, in-memory stores and a mock billing
// provider, all reset between tests.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx             context.Context
	logger          *logger.Logger
	config          *config.Configuration
	stores          Stores
	billingProvider *MockBillingProvider
	cache           cache.Cache
}

// SetupSuite initializes the process wide collaborators
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	s.config = &config.Configuration{
		Deployment: config.DeploymentConfig{Mode: types.RunModeDev},
		Logging:    config.LoggingConfig{Level: types.LogLevelError},
		Pricing: config.PricingConfig{
			AnnualDiscountPercent:  20,
			MinimumCommitment:      5,
			MaximumDiscountPercent: 50,
		},
	}

	log, err := logger.NewLogger(s.config)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.logger = log
}

// SetupTest prepares fresh state for each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
}

// TearDownTest cleans up after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.ClearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = context.Background()
	s.ctx = context.WithValue(s.ctx, types.CtxTenantID, types.DefaultTenantID)
	s.ctx = context.WithValue(s.ctx, types.CtxUserID, types.DefaultUserID)
	s.ctx = context.WithValue(s.ctx, types.CtxRequestID, types.GenerateUUID())
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		PlanRepo:         NewInMemoryPlanStore(),
		UsageRepo:        NewInMemoryUsageStore(),
	}
	s.billingProvider = NewMockBillingProvider()
	s.cache = cache.NewInMemoryCache(true)
}

// ClearStores resets all in-memory stores
func (s *BaseServiceTestSuite) ClearStores() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.PlanRepo.Clear()
	s.stores.UsageRepo.Clear()
	s.billingProvider.Clear()
}

// GetContext returns the test context with tenant and user populated
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetLogger returns the suite logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetConfig returns the suite configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns the in-memory repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetBillingProvider returns the mock billing provider
func (s *BaseServiceTestSuite) GetBillingProvider() *MockBillingProvider {
	return s.billingProvider
}

// GetCache returns the suite cache
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}
