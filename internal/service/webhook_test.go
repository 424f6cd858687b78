package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"
	"github.com/subflow/subflow/internal/domain/subscription"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/testutil"
	"github.com/subflow/subflow/internal/types"
)

type stubTenantResolver struct {
	tenantID string
	userID   string
	err      error
}

func (r *stubTenantResolver) ResolveUser(ctx context.Context, externalCustomerID string) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	return r.tenantID, r.userID, nil
}

type WebhookServiceSuite struct {
	testutil.BaseServiceTestSuite
	service WebhookService
	params  ServiceParams
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
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
	s.service = NewWebhookService(s.params, nil)
}

func (s *WebhookServiceSuite) seedLinkedSubscription(status types.SubscriptionStatus, externalID string) *subscription.Subscription {
	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	sub := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:                 "user_" + types.GenerateUUID(),
		Name:                   "Linked subscription",
		SubscriptionStatus:     status,
		IsActive:               status == types.SubscriptionStatusActive || status == types.SubscriptionStatusTrial,
		BillingCycle:           types.BillingCycleMonthly,
		Amount:                 decimal.NewFromInt(50),
		Currency:               "usd",
		Quantity:               decimal.NewFromInt(1),
		UnitPrice:              decimal.NewFromInt(50),
		StartDate:              now,
		CurrentPeriodStart:     &now,
		CurrentPeriodEnd:       &periodEnd,
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     "cus_1",
		BaseModel:              types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
	return sub
}

func newEvent(eventType string, payload any) *stripe.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &stripe.Event{
		ID:   "evt_" + types.GenerateUUID(),
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func subscriptionEventBody(externalID, status string, periodStart, periodEnd int64) map[string]any {
	return map[string]any{
		"id":                   externalID,
		"status":               status,
		"customer":             "cus_1",
		"current_period_start": periodStart,
		"current_period_end":   periodEnd,
	}
}

func (s *WebhookServiceSuite) TestUnknownEventTypeIsIgnored() {
	event := newEvent("charge.refunded", map[string]any{"id": "ch_1"})
	s.NoError(s.service.HandleEvent(s.GetContext(), event))
}

func (s *WebhookServiceSuite) TestSubscriptionUpdated() {
	sub := s.seedLinkedSubscription(types.SubscriptionStatusActive, "sub_ext_1")

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	event := newEvent("subscription.updated",
		subscriptionEventBody("sub_ext_1", "past_due", start.Unix(), end.Unix()))

	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, stored.SubscriptionStatus)
	s.False(stored.IsActive)
	s.True(stored.CurrentPeriodStart.Equal(start))
	s.True(stored.CurrentPeriodEnd.Equal(end))

	// Redelivery converges on the same state
	s.NoError(s.service.HandleEvent(s.GetContext(), event))
	again, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(stored.SubscriptionStatus, again.SubscriptionStatus)
	s.True(again.CurrentPeriodStart.Equal(start))
}

func (s *WebhookServiceSuite) TestSubscriptionUpdatedUnknownIsSkipped() {
	event := newEvent("subscription.updated",
		subscriptionEventBody("sub_ext_unknown", "active", 0, 0))
	s.NoError(s.service.HandleEvent(s.GetContext(), event))
}

func (s *WebhookServiceSuite) TestSubscriptionDeleted() {
	sub := s.seedLinkedSubscription(types.SubscriptionStatusActive, "sub_ext_2")

	event := newEvent("subscription.deleted",
		subscriptionEventBody("sub_ext_2", "canceled", 0, 0))
	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, stored.SubscriptionStatus)
	s.Equal("external_deleted", stored.CancelReason)
	// The cancel is not echoed back to the provider
	s.Empty(s.GetBillingProvider().CancelCalls)

	// Redelivery is a no-op
	s.NoError(s.service.HandleEvent(s.GetContext(), event))
}

func (s *WebhookServiceSuite) TestTrialWillEnd() {
	sub := s.seedLinkedSubscription(types.SubscriptionStatusTrial, "sub_ext_3")

	trialEnd := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Second)
	body := subscriptionEventBody("sub_ext_3", "trialing", 0, 0)
	body["trial_end"] = trialEnd.Unix()
	event := newEvent("subscription.trial_will_end", body)

	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotNil(stored.TrialEndDate)
	s.True(stored.TrialEndDate.Equal(trialEnd))
}

func (s *WebhookServiceSuite) TestPaymentFailedMarksPastDue() {
	sub := s.seedLinkedSubscription(types.SubscriptionStatusActive, "sub_ext_4")

	event := newEvent("invoice.payment_failed", map[string]any{
		"id":           "in_1",
		"subscription": "sub_ext_4",
		"amount_due":   5000,
		"currency":     "usd",
	})
	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, stored.SubscriptionStatus)
}

func (s *WebhookServiceSuite) TestPaymentSucceededRecoversPastDueOnly() {
	pastDue := s.seedLinkedSubscription(types.SubscriptionStatusPastDue, "sub_ext_5")
	trial := s.seedLinkedSubscription(types.SubscriptionStatusTrial, "sub_ext_6")

	for _, externalID := range []string{"sub_ext_5", "sub_ext_6"} {
		event := newEvent("invoice.payment_succeeded", map[string]any{
			"id":           "in_" + externalID,
			"subscription": externalID,
		})
		s.NoError(s.service.HandleEvent(s.GetContext(), event))
	}

	recovered, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), pastDue.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, recovered.SubscriptionStatus)

	// A trial subscription is left alone
	untouched, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), trial.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrial, untouched.SubscriptionStatus)
}

func (s *WebhookServiceSuite) TestInvoiceUpcomingIsLoggedOnly() {
	event := newEvent("invoice.upcoming", map[string]any{
		"id":           "in_up_1",
		"subscription": "sub_ext_7",
		"amount_due":   1000,
	})
	s.NoError(s.service.HandleEvent(s.GetContext(), event))
}

func (s *WebhookServiceSuite) TestSubscriptionCreatedDuplicateIsSkipped() {
	s.seedLinkedSubscription(types.SubscriptionStatusActive, "sub_ext_8")

	event := newEvent("subscription.created",
		subscriptionEventBody("sub_ext_8", "active", 0, 0))
	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	subs, err := s.GetStores().SubscriptionRepo.List(s.GetContext(), &types.SubscriptionFilter{})
	s.NoError(err)
	s.Len(subs, 1)
}

func (s *WebhookServiceSuite) TestSubscriptionCreatedWithoutResolverIsSkipped() {
	event := newEvent("subscription.created",
		subscriptionEventBody("sub_ext_9", "active", 0, 0))
	s.NoError(s.service.HandleEvent(s.GetContext(), event))

	subs, err := s.GetStores().SubscriptionRepo.List(s.GetContext(), &types.SubscriptionFilter{})
	s.NoError(err)
	s.Empty(subs)
}

func (s *WebhookServiceSuite) TestSubscriptionCreatedWithResolver() {
	resolver := &stubTenantResolver{
		tenantID: types.DefaultTenantID,
		userID:   "user_imported",
	}
	service := NewWebhookService(s.params, resolver)

	now := time.Now().UTC()
	body := subscriptionEventBody("sub_ext_10", "active", now.Unix(), now.AddDate(0, 1, 0).Unix())
	body["items"] = map[string]any{
		"data": []map[string]any{
			{
				"quantity": 1,
				"price": map[string]any{
					"id":          "price_1",
					"unit_amount": 5000,
					"currency":    "usd",
					"product":     "prod_1",
					"recurring":   map[string]any{"interval": "month", "interval_count": 1},
				},
			},
		},
	}
	event := newEvent("subscription.created", body)
	s.NoError(service.HandleEvent(s.GetContext(), event))

	stored, err := s.GetStores().SubscriptionRepo.GetByExternalID(s.GetContext(), "sub_ext_10")
	s.NoError(err)
	s.Equal("user_imported", stored.UserID)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
	s.True(stored.Amount.Equal(decimal.NewFromInt(50)), "got %s", stored.Amount)
	s.Equal(types.BillingCycleMonthly, stored.BillingCycle)
	s.Equal("price_1", stored.ExternalPriceID)
	s.Equal("prod_1", stored.ExternalProductID)
}

func (s *WebhookServiceSuite) TestSubscriptionCreatedResolverFailureIsSkipped() {
	resolver := &stubTenantResolver{err: fmt.Errorf("unknown customer")}
	service := NewWebhookService(s.params, resolver)

	event := newEvent("subscription.created",
		subscriptionEventBody("sub_ext_11", "active", 0, 0))
	s.NoError(service.HandleEvent(s.GetContext(), event))

	subs, err := s.GetStores().SubscriptionRepo.List(s.GetContext(), &types.SubscriptionFilter{})
	s.NoError(err)
	s.Empty(subs)
}

func (s *WebhookServiceSuite) TestMalformedPayloadFailsValidation() {
	event := &stripe.Event{
		ID:   "evt_bad",
		Type: stripe.EventType("subscription.updated"),
		Data: &stripe.EventData{Raw: []byte(`{"id": 42`)},
	}
	err := s.service.HandleEvent(s.GetContext(), event)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}
