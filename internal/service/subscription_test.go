package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/subflow/subflow/internal/config"
	"github.com/subflow/subflow/internal/domain/plan"
	"github.com/subflow/subflow/internal/domain/subscription"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/testutil"
	"github.com/subflow/subflow/internal/types"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
	params  ServiceParams
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	stores := s.GetStores()
	s.params = ServiceParams{
		Logger:          s.GetLogger(),
		Config:          s.GetConfig(),
		SubRepo:         stores.SubscriptionRepo,
		PlanRepo:        stores.PlanRepo,
		UsageRepo:       stores.UsageRepo,
		BillingProvider: s.GetBillingProvider(),
		Cache:           s.GetCache(),
	}
	s.service = NewSubscriptionService(s.params)
}

// seedSubscription inserts a subscription directly into the store, bypassing
// the service, so tests can start from arbitrary statuses.
func (s *SubscriptionServiceSuite) seedSubscription(status types.SubscriptionStatus) *subscription.Subscription {
	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             "user_" + types.GenerateUUID(),
		Name:               "Seeded subscription",
		SubscriptionStatus: status,
		IsActive:           status == types.SubscriptionStatusActive || status == types.SubscriptionStatusTrial,
		BillingCycle:       types.BillingCycleMonthly,
		Amount:             decimal.NewFromInt(50),
		Currency:           "usd",
		Quantity:           decimal.NewFromInt(1),
		UnitPrice:          decimal.NewFromInt(50),
		StartDate:          now,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &periodEnd,
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
	return sub
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	resp, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID:       "user_1",
		Name:         "Pro subscription",
		Amount:       decimal.NewFromInt(100),
		BillingCycle: types.BillingCycleMonthly,
	})
	s.NoError(err)
	s.NotNil(resp)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.True(resp.IsActive)
	s.True(resp.Amount.Equal(decimal.NewFromInt(100)))
	s.NotNil(resp.CurrentPeriodStart)
	s.NotNil(resp.CurrentPeriodEnd)
	s.True(resp.CurrentPeriodEnd.After(*resp.CurrentPeriodStart))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(resp.ID, stored.ID)
}

func (s *SubscriptionServiceSuite) TestCreateAppliesAnnualDiscount() {
	resp, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID:       "user_1",
		Name:         "Annual subscription",
		Amount:       decimal.NewFromInt(100),
		BillingCycle: types.BillingCycleAnnual,
	})
	s.NoError(err)
	s.True(resp.Amount.Equal(decimal.NewFromInt(80)), "got %s", resp.Amount)
}

func (s *SubscriptionServiceSuite) TestCreateTrialSubscription() {
	resp, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID:    "user_1",
		Name:      "Trial subscription",
		Amount:    decimal.NewFromInt(100),
		IsTrial:   true,
		TrialDays: 14,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrial, resp.SubscriptionStatus)
	s.True(resp.IsTrial)
	s.NotNil(resp.TrialEndDate)
	s.Equal(14, resp.TrialDays)
}

func (s *SubscriptionServiceSuite) TestCreateRejectsSecondActiveSubscription() {
	_, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID: "user_1",
		Name:   "First",
		Amount: decimal.NewFromInt(10),
	})
	s.NoError(err)

	_, err = s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID: "user_1",
		Name:   "Second",
		Amount: decimal.NewFromInt(10),
	})
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestCreateSnapshotsPlan() {
	p := &plan.Plan{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:         "Pro",
		Price:        decimal.NewFromInt(49),
		Currency:     "usd",
		BillingCycle: types.BillingCycleMonthly,
		Limits: map[string]decimal.Decimal{
			"api_calls": decimal.NewFromInt(10000),
		},
		Features:  map[string]bool{"sso": true},
		IsActive:  true,
		BaseModel: types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(s.GetContext(), p))

	resp, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID: "user_1",
		Name:   "Pro subscription",
		PlanID: p.ID,
	})
	s.NoError(err)
	s.Equal(p.ID, resp.PlanID)
	s.True(resp.Amount.Equal(p.Price))
	s.True(resp.Limits["api_calls"].Equal(decimal.NewFromInt(10000)))
	s.True(resp.Features["sso"])

	// Editing the plan afterwards must not change the snapshot
	p.Limits["api_calls"] = decimal.NewFromInt(1)
	s.NoError(s.GetStores().PlanRepo.Update(s.GetContext(), p))
	stored, err := s.service.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.True(stored.Limits["api_calls"].Equal(decimal.NewFromInt(10000)))
}

func (s *SubscriptionServiceSuite) TestCreateValidation() {
	_, err := s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		Name:   "Missing user",
		Amount: decimal.NewFromInt(10),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.service.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID:    "user_1",
		Name:      "Past start",
		Amount:    decimal.NewFromInt(10),
		StartDate: time.Now().UTC().AddDate(0, 0, -2),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

// billingEnabledService builds a service whose configuration has the billing
// provider integration switched on.
func (s *SubscriptionServiceSuite) billingEnabledService() SubscriptionService {
	cfg := &config.Configuration{
		Deployment: s.GetConfig().Deployment,
		Logging:    s.GetConfig().Logging,
		Pricing:    s.GetConfig().Pricing,
		Billing:    config.BillingConfig{Enabled: true},
	}
	params := s.params
	params.Config = cfg
	return NewSubscriptionService(params)
}

func (s *SubscriptionServiceSuite) TestCreateProvisionsExternalResources() {
	svc := s.billingEnabledService()

	resp, err := svc.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID:        "user_1",
		Name:          "Provisioned subscription",
		Amount:        decimal.NewFromInt(100),
		CustomerEmail: "user@example.com",
	})
	s.NoError(err)
	s.NotEmpty(resp.ExternalCustomerID)
	s.NotEmpty(resp.ExternalProductID)
	s.NotEmpty(resp.ExternalPriceID)
	s.NotEmpty(resp.ExternalSubscriptionID)
	s.Len(s.GetBillingProvider().SubscriptionCalls, 1)
}

func (s *SubscriptionServiceSuite) TestCreateFailsWhenExternalSubscriptionFails() {
	svc := s.billingEnabledService()

	s.GetBillingProvider().FailSubscription = true
	_, err := svc.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID: "user_1",
		Name:   "Doomed subscription",
		Amount: decimal.NewFromInt(100),
	})
	s.Error(err)
	s.True(ierr.IsIntegration(err))

	// Nothing was persisted
	count, err := s.GetStores().SubscriptionRepo.CountActive(s.GetContext(), "user_1")
	s.NoError(err)
	s.Zero(count)
}

func (s *SubscriptionServiceSuite) TestCreateDegradesWhenCustomerProvisioningFails() {
	svc := s.billingEnabledService()

	s.GetBillingProvider().FailCustomer = true
	resp, err := svc.Create(s.GetContext(), &CreateSubscriptionRequest{
		UserID: "user_1",
		Name:   "Unlinked subscription",
		Amount: decimal.NewFromInt(100),
	})
	s.NoError(err)
	s.Empty(resp.ExternalCustomerID)
	s.Empty(resp.ExternalSubscriptionID)
}

func (s *SubscriptionServiceSuite) TestUpdateSubscription() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	name := "Renamed"
	autoRenew := true
	resp, err := s.service.Update(s.GetContext(), sub.ID, &UpdateSubscriptionRequest{
		Name:      &name,
		AutoRenew: &autoRenew,
	})
	s.NoError(err)
	s.Equal("Renamed", resp.Name)
	s.True(resp.AutoRenew)
}

func (s *SubscriptionServiceSuite) TestUpdateRejectsInvalidTransition() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	completed := types.SubscriptionStatusCompleted
	_, err := s.service.Update(s.GetContext(), sub.ID, &UpdateSubscriptionRequest{
		Status: &completed,
	})
	s.Error(err)
	s.True(ierr.IsConflict(err))

	// Stored status is untouched
	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestUpdateRejectsNonUpdatableStatus() {
	sub := s.seedSubscription(types.SubscriptionStatusCancelled)

	name := "Renamed"
	_, err := s.service.Update(s.GetContext(), sub.ID, &UpdateSubscriptionRequest{Name: &name})
	s.Error(err)
	s.True(ierr.IsBusinessRule(err))
}

func (s *SubscriptionServiceSuite) TestCancelSubscription() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	resp, err := s.service.Cancel(s.GetContext(), sub.ID, "too expensive", false)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, resp.SubscriptionStatus)
	s.False(resp.IsActive)
	s.NotNil(resp.CancelledAt)
	s.NotNil(resp.EndDate)
	s.Equal("too expensive", resp.CancelReason)
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEnd() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	resp, err := s.service.Cancel(s.GetContext(), sub.ID, "downgrading", true)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, resp.SubscriptionStatus)
	s.True(resp.CancelAtPeriodEnd)
	s.NotNil(resp.CancelAt)
	s.True(resp.CancelAt.Equal(*sub.CurrentPeriodEnd))
	s.True(resp.EndDate.Equal(*sub.CurrentPeriodEnd))
}

func (s *SubscriptionServiceSuite) TestCancelEchoesToProvider() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)
	sub.ExternalSubscriptionID = "sub_ext_1"
	s.NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	_, err := s.service.Cancel(s.GetContext(), sub.ID, "user requested", false)
	s.NoError(err)
	_, called := s.GetBillingProvider().CancelCalls["sub_ext_1"]
	s.True(called)
}

func (s *SubscriptionServiceSuite) TestCancelSkipsProviderForExternalDeletes() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)
	sub.ExternalSubscriptionID = "sub_ext_2"
	s.NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	_, err := s.service.Cancel(s.GetContext(), sub.ID, "external_deleted", false)
	s.NoError(err)
	s.Empty(s.GetBillingProvider().CancelCalls)
}

func (s *SubscriptionServiceSuite) TestCancelFollowsTransitionTable() {
	// past_due -> canceled is allowed
	pastDue := s.seedSubscription(types.SubscriptionStatusPastDue)
	_, err := s.service.Cancel(s.GetContext(), pastDue.ID, "", false)
	s.NoError(err)

	// canceled -> canceled is not
	cancelled := s.seedSubscription(types.SubscriptionStatusCancelled)
	_, err = s.service.Cancel(s.GetContext(), cancelled.ID, "", false)
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestReactivateSubscription() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)
	_, err := s.service.Cancel(s.GetContext(), sub.ID, "mistake", false)
	s.NoError(err)

	resp, err := s.service.Reactivate(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.True(resp.IsActive)
	s.Nil(resp.CancelledAt)
	s.Nil(resp.CancelAt)
	s.Nil(resp.EndDate)
	s.Empty(resp.CancelReason)
	s.False(resp.CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestReactivateRequiresCancelledStatus() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)
	_, err := s.service.Reactivate(s.GetContext(), sub.ID)
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestSuspendSubscription() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	resp, err := s.service.Suspend(s.GetContext(), sub.ID, "payment review")
	s.NoError(err)
	s.Equal(types.SubscriptionStatusSuspended, resp.SubscriptionStatus)
	s.False(resp.IsActive)
	s.Equal("payment review", resp.Metadata["suspension_reason"])
}

func (s *SubscriptionServiceSuite) TestSuspendRejectsTrial() {
	sub := s.seedSubscription(types.SubscriptionStatusTrial)
	_, err := s.service.Suspend(s.GetContext(), sub.ID, "review")
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestDeleteSubscription() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	s.NoError(s.service.Delete(s.GetContext(), sub.ID))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotNil(stored.DeletedAt)
	s.False(stored.IsActive)
	s.Equal(types.StatusDeleted, stored.Status)
	// Lifecycle status is left as it was
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestDeleteRejectsTerminalStatus() {
	sub := s.seedSubscription(types.SubscriptionStatusCompleted)
	err := s.service.Delete(s.GetContext(), sub.ID)
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestApplyExternalUpdateBypassesTransitionTable() {
	sub := s.seedSubscription(types.SubscriptionStatusCancelled)

	// canceled -> past_due is not in the transition table, but the external
	// source of truth wins on the reconciliation path
	pastDue := types.SubscriptionStatusPastDue
	resp, err := s.service.ApplyExternalUpdate(s.GetContext(), sub.ID, &ExternalSubscriptionUpdate{
		Status: &pastDue,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, resp.SubscriptionStatus)
	s.False(resp.IsActive)
}

func (s *SubscriptionServiceSuite) TestApplyExternalUpdateSetsPeriods() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	resp, err := s.service.ApplyExternalUpdate(s.GetContext(), sub.ID, &ExternalSubscriptionUpdate{
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	})
	s.NoError(err)
	s.True(resp.CurrentPeriodStart.Equal(start))
	s.True(resp.CurrentPeriodEnd.Equal(end))
}

func (s *SubscriptionServiceSuite) TestCalculateProration() {
	sub := s.seedSubscription(types.SubscriptionStatusActive)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub.Amount = decimal.NewFromInt(31)
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	s.NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	effective := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	result, err := s.service.CalculateProration(s.GetContext(), sub.ID, decimal.NewFromInt(62), effective)
	s.NoError(err)
	s.Equal(31, result.TotalDays)
	s.Equal(16, result.DaysRemaining)
	s.True(result.ChargeAmount.Equal(decimal.NewFromInt(16)), "got %s", result.ChargeAmount)
}

func (s *SubscriptionServiceSuite) TestGetNotFound() {
	_, err := s.service.Get(s.GetContext(), "subs_missing")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}
