package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/subflow/subflow/internal/billing"
	"github.com/subflow/subflow/internal/domain/subscription"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// TenantResolver resolves the local tenant and user owning an external
// customer. The webhook reconciler needs it to materialize subscriptions that
// were created directly on the provider; without one those events are skipped.
type TenantResolver interface {
	ResolveUser(ctx context.Context, externalCustomerID string) (tenantID string, userID string, err error)
}

// WebhookService reconciles billing provider events into local subscription
// state. Handlers are idempotent: redelivering an event converges on the same
// state, and events for unknown subscriptions are logged and skipped rather
// than failed, so the provider does not retry them forever.
type WebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type webhookHandler func(ctx context.Context, event *stripe.Event) error

type webhookService struct {
	ServiceParams
	subscriptionService SubscriptionService
	tenantResolver      TenantResolver
	handlers            map[types.WebhookEventType]webhookHandler
}

// NewWebhookService builds the reconciler. resolver may be nil; in that case
// provider-originated subscription.created events are skipped.
func NewWebhookService(params ServiceParams, resolver TenantResolver) WebhookService {
	s := &webhookService{
		ServiceParams:       params,
		subscriptionService: NewSubscriptionService(params),
		tenantResolver:      resolver,
	}
	s.handlers = map[types.WebhookEventType]webhookHandler{
		types.WebhookEventTypeSubscriptionCreated:      s.handleSubscriptionCreated,
		types.WebhookEventTypeSubscriptionUpdated:      s.handleSubscriptionUpdated,
		types.WebhookEventTypeSubscriptionDeleted:      s.handleSubscriptionDeleted,
		types.WebhookEventTypeSubscriptionTrialWillEnd: s.handleTrialWillEnd,
		types.WebhookEventTypeInvoicePaymentSucceeded:  s.handlePaymentSucceeded,
		types.WebhookEventTypeInvoicePaymentFailed:     s.handlePaymentFailed,
		types.WebhookEventTypeInvoiceUpcoming:          s.handleInvoiceUpcoming,
	}
	return s
}

func (s *webhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	handler, ok := s.handlers[types.WebhookEventType(event.Type)]
	if !ok {
		s.Logger.Infow("unhandled webhook event type", "event_id", event.ID, "event_type", event.Type)
		return nil
	}

	s.Logger.Debugw("processing webhook event", "event_id", event.ID, "event_type", event.Type)
	return handler(ctx, event)
}

func (s *webhookService) handleSubscriptionCreated(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseSubscription(event)
	if err != nil {
		return err
	}

	// Redelivery or an echo of a locally provisioned subscription
	if existing, err := s.SubRepo.GetByExternalID(ctx, payload.ID); err == nil && existing != nil {
		s.Logger.Infow("subscription already exists, skipping created event",
			"event_id", event.ID,
			"external_subscription_id", payload.ID,
			"subscription_id", existing.ID,
		)
		return nil
	}

	if s.tenantResolver == nil {
		s.Logger.Warnw("no tenant resolver configured, skipping provider-originated subscription",
			"event_id", event.ID,
			"external_subscription_id", payload.ID,
			"external_customer_id", payload.CustomerID,
		)
		return nil
	}

	tenantID, userID, err := s.tenantResolver.ResolveUser(ctx, payload.CustomerID)
	if err != nil {
		s.Logger.Warnw("could not resolve tenant for external customer, skipping created event",
			"event_id", event.ID,
			"external_customer_id", payload.CustomerID,
			"error", err,
		)
		return nil
	}
	ctx = types.SetTenantID(ctx, tenantID)
	ctx = types.SetUserID(ctx, userID)

	req := &CreateSubscriptionRequest{
		UserID:                 userID,
		Name:                   fmt.Sprintf("Imported subscription %s", payload.ID),
		ExternalSubscriptionID: payload.ID,
		ExternalCustomerID:     payload.CustomerID,
		Metadata:               types.Metadata(payload.Metadata),
	}
	if item := payload.FirstItem(); item != nil {
		req.Amount = item.UnitAmount()
		req.UnitPrice = item.UnitAmount()
		req.Currency = item.Price.Currency
		req.BillingCycle = item.LocalBillingCycle()
		req.ExternalPriceID = item.Price.ID
		req.ExternalProductID = item.Price.Product
	}

	sub, err := s.subscriptionService.Create(ctx, req)
	if err != nil {
		return err
	}

	// The provider's status and period win over the locally derived ones
	_, err = s.applyPayload(ctx, sub, payload)
	return err
}

func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseSubscription(event)
	if err != nil {
		return err
	}

	sub, ok, err := s.lookup(ctx, event, payload.ID)
	if err != nil || !ok {
		return err
	}

	_, err = s.applyPayload(ctx, sub, payload)
	return err
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseSubscription(event)
	if err != nil {
		return err
	}

	sub, ok, err := s.lookup(ctx, event, payload.ID)
	if err != nil || !ok {
		return err
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
		s.Logger.Infow("subscription already cancelled, skipping deleted event",
			"event_id", event.ID, "subscription_id", sub.ID)
		return nil
	}

	ctx = s.tenantContext(ctx, sub)
	_, err = s.subscriptionService.Cancel(ctx, sub.ID, cancelReasonExternalDeleted, false)
	return err
}

func (s *webhookService) handleTrialWillEnd(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseSubscription(event)
	if err != nil {
		return err
	}

	sub, ok, err := s.lookup(ctx, event, payload.ID)
	if err != nil || !ok {
		return err
	}

	trialEnd := payload.TrialEndTime()
	if trialEnd == nil {
		return nil
	}

	ctx = s.tenantContext(ctx, sub)
	_, err = s.subscriptionService.ApplyExternalUpdate(ctx, sub.ID, &ExternalSubscriptionUpdate{
		TrialEndDate: trialEnd,
	})
	return err
}

func (s *webhookService) handlePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseInvoice(event)
	if err != nil {
		return err
	}
	if payload.SubscriptionID == "" {
		return nil
	}

	sub, ok, err := s.lookup(ctx, event, payload.SubscriptionID)
	if err != nil || !ok {
		return err
	}

	// A successful payment only recovers a past_due subscription
	if sub.SubscriptionStatus != types.SubscriptionStatusPastDue {
		return nil
	}

	ctx = s.tenantContext(ctx, sub)
	active := types.SubscriptionStatusActive
	_, err = s.subscriptionService.ApplyExternalUpdate(ctx, sub.ID, &ExternalSubscriptionUpdate{
		Status: &active,
	})
	if err == nil {
		s.Logger.Infow("subscription recovered after payment",
			"subscription_id", sub.ID, "invoice_id", payload.ID)
	}
	return err
}

func (s *webhookService) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseInvoice(event)
	if err != nil {
		return err
	}
	if payload.SubscriptionID == "" {
		return nil
	}

	sub, ok, err := s.lookup(ctx, event, payload.SubscriptionID)
	if err != nil || !ok {
		return err
	}

	ctx = s.tenantContext(ctx, sub)
	pastDue := types.SubscriptionStatusPastDue
	_, err = s.subscriptionService.ApplyExternalUpdate(ctx, sub.ID, &ExternalSubscriptionUpdate{
		Status: &pastDue,
	})
	if err == nil {
		s.Logger.Warnw("subscription marked past due after failed payment",
			"subscription_id", sub.ID, "invoice_id", payload.ID)
	}
	return err
}

func (s *webhookService) handleInvoiceUpcoming(ctx context.Context, event *stripe.Event) error {
	payload, err := s.parseInvoice(event)
	if err != nil {
		return err
	}

	s.Logger.Infow("upcoming invoice",
		"event_id", event.ID,
		"invoice_id", payload.ID,
		"external_subscription_id", payload.SubscriptionID,
		"amount_due", payload.AmountDue,
		"currency", payload.Currency,
	)
	return nil
}

// applyPayload maps a subscription payload onto a bypass update
func (s *webhookService) applyPayload(ctx context.Context, sub *subscription.Subscription, payload *billing.SubscriptionPayload) (*subscription.Subscription, error) {
	ctx = s.tenantContext(ctx, sub)

	status := payload.LocalStatus()
	cancelAtPeriodEnd := payload.CancelAtPeriodEnd
	update := &ExternalSubscriptionUpdate{
		Status:             &status,
		CurrentPeriodStart: payload.PeriodStart(),
		CurrentPeriodEnd:   payload.PeriodEnd(),
		TrialEndDate:       payload.TrialEndTime(),
		CancelAtPeriodEnd:  &cancelAtPeriodEnd,
	}
	if len(payload.Metadata) > 0 {
		update.Metadata = types.Metadata(payload.Metadata)
	}
	return s.subscriptionService.ApplyExternalUpdate(ctx, sub.ID, update)
}

// lookup resolves the event's external subscription id. Unknown subscriptions
// are logged and reported as not found without an error so the provider stops
// redelivering.
func (s *webhookService) lookup(ctx context.Context, event *stripe.Event, externalSubscriptionID string) (*subscription.Subscription, bool, error) {
	sub, err := s.SubRepo.GetByExternalID(ctx, externalSubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			s.Logger.Warnw("no local subscription for external id, skipping event",
				"event_id", event.ID,
				"event_type", event.Type,
				"external_subscription_id", externalSubscriptionID,
			)
			return nil, false, nil
		}
		return nil, false, err
	}
	return sub, true, nil
}

// tenantContext stamps the subscription's tenant and user onto the context so
// downstream writes attribute correctly. Webhook requests arrive without a
// tenant of their own.
func (s *webhookService) tenantContext(ctx context.Context, sub *subscription.Subscription) context.Context {
	ctx = types.SetTenantID(ctx, sub.TenantID)
	if sub.UserID != "" {
		ctx = types.SetUserID(ctx, sub.UserID)
	}
	return ctx
}

func (s *webhookService) parseSubscription(event *stripe.Event) (*billing.SubscriptionPayload, error) {
	var payload billing.SubscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Webhook event carried a malformed subscription payload").
			WithReportableDetails(map[string]any{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).
			Mark(ierr.ErrValidation)
	}
	return &payload, nil
}

func (s *webhookService) parseInvoice(event *stripe.Event) (*billing.InvoicePayload, error) {
	var payload billing.InvoicePayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Webhook event carried a malformed invoice payload").
			WithReportableDetails(map[string]any{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).
			Mark(ierr.ErrValidation)
	}
	return &payload, nil
}
