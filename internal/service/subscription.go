package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/subflow/subflow/internal/billing"
	"github.com/subflow/subflow/internal/domain/plan"
	"github.com/subflow/subflow/internal/domain/pricing"
	"github.com/subflow/subflow/internal/domain/subscription"
	ierr "github.com/subflow/subflow/internal/errors"
	"github.com/subflow/subflow/internal/types"
)

// SubscriptionService owns the subscription lifecycle. Every operation loads
// the subscription first, checks its preconditions against the transition
// table and only then mutates. Nothing is retried internally; callers retry.
type SubscriptionService interface {
	Create(ctx context.Context, req *CreateSubscriptionRequest) (*subscription.Subscription, error)
	Get(ctx context.Context, id string) (*subscription.Subscription, error)
	Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*subscription.Subscription, error)
	Cancel(ctx context.Context, id string, reason string, cancelAtPeriodEnd bool) (*subscription.Subscription, error)
	Reactivate(ctx context.Context, id string) (*subscription.Subscription, error)
	Suspend(ctx context.Context, id string, reason string) (*subscription.Subscription, error)
	Delete(ctx context.Context, id string) error

	// ApplyExternalUpdate is the bypass entry point used by the webhook
	// reconciler. It sets fields directly from the external source of truth
	// without re-running business validation.
	ApplyExternalUpdate(ctx context.Context, id string, update *ExternalSubscriptionUpdate) (*subscription.Subscription, error)

	// CalculateProration previews the prorated credit/charge of moving the
	// subscription to newAmount at effectiveDate. Advisory: returns an
	// all-zero result when the period dates are unset.
	CalculateProration(ctx context.Context, id string, newAmount decimal.Decimal, effectiveDate time.Time) (*pricing.ProrationResult, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{ServiceParams: params}
}

// cancelReasonExternalDeleted marks cancels that originate from the provider;
// those must not be echoed back to the provider.
const cancelReasonExternalDeleted = "external_deleted"

func (s *subscriptionService) Create(ctx context.Context, req *CreateSubscriptionRequest) (*subscription.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// At most one subscription per (tenant, user) may be active or in trial
	activeCount, err := s.SubRepo.CountActive(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if activeCount > 0 {
		return nil, ierr.NewError("user already has an active subscription").
			WithHint("Only one active or trial subscription is allowed per user").
			WithReportableDetails(map[string]any{
				"user_id": req.UserID,
			}).
			Mark(ierr.ErrConflict)
	}

	var referencedPlan *plan.Plan
	if req.PlanID != "" {
		referencedPlan, err = s.PlanRepo.Get(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
	}

	sub := s.buildSubscription(ctx, req, referencedPlan)

	pricingResult := pricing.ApplyPricingRules(sub.Amount, sub.BillingCycle, sub.Quantity, s.PricingConfig())
	if len(pricingResult.AppliedRules) > 0 {
		s.Logger.Infow("pricing rules applied",
			"user_id", req.UserID,
			"base_amount", sub.Amount.String(),
			"final_amount", pricingResult.FinalAmount.String(),
			"discount_applied", pricingResult.DiscountApplied.String(),
			"applied_rules", pricingResult.AppliedRules,
		)
	}
	sub.Amount = pricingResult.FinalAmount

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	// Provision resources on the billing provider before persisting so the
	// linkage lands with the row. Customer/product/price failures degrade
	// gracefully; a failed external subscription call is fatal.
	if err := s.provisionExternalResources(ctx, req, sub); err != nil {
		return nil, err
	}

	if err := s.SubRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("created subscription",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"status", sub.SubscriptionStatus,
		"external_subscription_id", sub.ExternalSubscriptionID,
	)
	return sub, nil
}

func (s *subscriptionService) buildSubscription(ctx context.Context, req *CreateSubscriptionRequest, referencedPlan *plan.Plan) *subscription.Subscription {
	now := time.Now().UTC()

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = now
	}

	cycle := req.BillingCycle
	if cycle == "" {
		if referencedPlan != nil {
			cycle = referencedPlan.BillingCycle
		} else {
			cycle = types.BillingCycleMonthly
		}
	}

	amount := req.Amount
	if amount.IsZero() && referencedPlan != nil {
		amount = referencedPlan.Price
	}

	quantity := req.Quantity
	if quantity.LessThanOrEqual(decimal.Zero) {
		quantity = decimal.NewFromInt(1)
	}

	unitPrice := req.UnitPrice
	if unitPrice.IsZero() {
		unitPrice = amount
	}

	currency := req.Currency
	if currency == "" {
		if referencedPlan != nil && referencedPlan.Currency != "" {
			currency = referencedPlan.Currency
		} else {
			currency = "usd"
		}
	}

	status := types.SubscriptionStatusActive
	var trialEnd *time.Time
	if req.IsTrial {
		status = types.SubscriptionStatusTrial
		if req.TrialDays > 0 {
			trialEnd = types.ToNillableTime(startDate.AddDate(0, 0, req.TrialDays))
		}
	}

	periodStart := startDate
	periodEnd := cycle.NextPeriodEnd(periodStart)

	sub := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:                 req.UserID,
		Name:                   req.Name,
		SubscriptionStatus:     status,
		IsActive:               true,
		BillingCycle:           cycle,
		Amount:                 amount,
		Currency:               currency,
		Quantity:               quantity,
		UnitPrice:              unitPrice,
		StartDate:              startDate,
		CurrentPeriodStart:     &periodStart,
		CurrentPeriodEnd:       &periodEnd,
		IsTrial:                req.IsTrial,
		TrialDays:              req.TrialDays,
		TrialEndDate:           trialEnd,
		AutoRenew:              req.AutoRenew,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		ExternalCustomerID:     req.ExternalCustomerID,
		ExternalPriceID:        req.ExternalPriceID,
		ExternalProductID:      req.ExternalProductID,
		Metadata:               req.Metadata,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	sub.SnapshotPlan(referencedPlan)
	return sub
}

// provisionExternalResources creates the provider side customer, product,
// price and subscription when no linkage was supplied. Failures before the
// subscription step leave the linkage absent and let local creation proceed.
func (s *subscriptionService) provisionExternalResources(ctx context.Context, req *CreateSubscriptionRequest, sub *subscription.Subscription) error {
	if s.BillingProvider == nil || sub.ExternalSubscriptionID != "" {
		return nil
	}
	if s.Config != nil && !s.Config.Billing.Enabled {
		return nil
	}

	if sub.ExternalCustomerID == "" {
		customerID, err := s.BillingProvider.CreateCustomer(ctx, billing.CustomerInput{
			UserID: sub.UserID,
			Email:  req.CustomerEmail,
			Name:   sub.Name,
		})
		if err != nil {
			s.Logger.Warnw("external customer creation failed, proceeding without linkage",
				"user_id", sub.UserID, "error", err)
			return nil
		}
		sub.ExternalCustomerID = customerID
	}

	if sub.ExternalProductID == "" {
		productID, err := s.BillingProvider.CreateProduct(ctx, billing.ProductInput{
			Name: sub.Name,
		})
		if err != nil {
			s.Logger.Warnw("external product creation failed, proceeding without linkage",
				"subscription_name", sub.Name, "error", err)
			return nil
		}
		sub.ExternalProductID = productID
	}

	if sub.ExternalPriceID == "" {
		priceID, err := s.BillingProvider.CreatePrice(ctx, billing.PriceInput{
			ProductID:    sub.ExternalProductID,
			Amount:       sub.UnitPrice,
			Currency:     sub.Currency,
			BillingCycle: sub.BillingCycle,
		})
		if err != nil {
			s.Logger.Warnw("external price creation failed, proceeding without linkage",
				"external_product_id", sub.ExternalProductID, "error", err)
			return nil
		}
		sub.ExternalPriceID = priceID
	}

	externalSubID, err := s.BillingProvider.CreateSubscription(ctx, billing.SubscriptionInput{
		CustomerID: sub.ExternalCustomerID,
		PriceID:    sub.ExternalPriceID,
		Quantity:   sub.Quantity.IntPart(),
		TrialDays:  sub.TrialDays,
		Metadata:   sub.Metadata,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription on billing provider").
			Mark(ierr.ErrIntegration)
	}
	sub.ExternalSubscriptionID = externalSubID
	return nil
}

func (s *subscriptionService) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.SubRepo.Get(ctx, id)
}

func (s *subscriptionService) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*subscription.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !lo.Contains(types.UpdatableSubscriptionStatuses, sub.SubscriptionStatus) {
		return nil, ierr.NewError("subscription is not updatable").
			WithHint("Subscription can only be updated while active, in trial or pending").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrBusinessRule)
	}

	if req.Status != nil && *req.Status != sub.SubscriptionStatus {
		if err := s.validateTransition(sub, *req.Status); err != nil {
			return nil, err
		}
		sub.SubscriptionStatus = *req.Status
		sub.IsActive = sub.IsInTrialOrActive()
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Amount != nil {
		sub.Amount = *req.Amount
	}
	if req.Quantity != nil {
		sub.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		sub.UnitPrice = *req.UnitPrice
	}
	if req.BillingCycle != nil {
		sub.BillingCycle = *req.BillingCycle
	}
	if req.AutoRenew != nil {
		sub.AutoRenew = *req.AutoRenew
	}
	if req.TrialEndDate != nil {
		sub.TrialEndDate = req.TrialEndDate
	}
	if req.GracePeriodDays != nil {
		sub.GracePeriodDays = *req.GracePeriodDays
	}
	if req.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *req.CancelAtPeriodEnd
	}
	if req.Metadata != nil {
		sub.Metadata = sub.Metadata.Merge(req.Metadata)
	}

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, id string, reason string, cancelAtPeriodEnd bool) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.validateTransition(sub, types.SubscriptionStatusCancelled); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.IsActive = false
	sub.CancelledAt = &now
	sub.CancelReason = reason
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd

	if cancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
		// Record the scheduled cutover; the cutover itself is executed by a
		// scheduled job collaborator.
		sub.CancelAt = sub.CurrentPeriodEnd
		sub.EndDate = sub.CurrentPeriodEnd
	} else {
		sub.EndDate = &now
	}

	// Echo the cancel to the provider unless the cancel originated there
	if s.BillingProvider != nil && sub.ExternalSubscriptionID != "" && reason != cancelReasonExternalDeleted {
		if err := s.BillingProvider.CancelSubscription(ctx, sub.ExternalSubscriptionID, cancelAtPeriodEnd); err != nil {
			s.Logger.Warnw("external subscription cancel failed",
				"subscription_id", sub.ID,
				"external_subscription_id", sub.ExternalSubscriptionID,
				"error", err,
			)
		}
	}

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("cancelled subscription",
		"subscription_id", sub.ID,
		"reason", reason,
		"cancel_at_period_end", cancelAtPeriodEnd,
	)
	return sub, nil
}

func (s *subscriptionService) Reactivate(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.SubscriptionStatus != types.SubscriptionStatusCancelled {
		return nil, ierr.NewError("only cancelled subscriptions can be reactivated").
			WithHintf("Cannot reactivate a subscription in status %s", sub.SubscriptionStatus).
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"source_status":   sub.SubscriptionStatus,
				"target_status":   types.SubscriptionStatusActive,
			}).
			Mark(ierr.ErrConflict)
	}

	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.IsActive = true
	sub.CancelledAt = nil
	sub.CancelAt = nil
	sub.CancelReason = ""
	sub.CancelAtPeriodEnd = false
	sub.EndDate = nil

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("reactivated subscription", "subscription_id", sub.ID)
	return sub, nil
}

func (s *subscriptionService) Suspend(ctx context.Context, id string, reason string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.validateTransition(sub, types.SubscriptionStatusSuspended); err != nil {
		return nil, err
	}

	sub.SubscriptionStatus = types.SubscriptionStatusSuspended
	sub.IsActive = false
	sub.Metadata = sub.Metadata.Merge(types.Metadata{"suspension_reason": reason})

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("suspended subscription", "subscription_id", sub.ID, "reason", reason)
	return sub, nil
}

func (s *subscriptionService) Delete(ctx context.Context, id string) error {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return err
	}

	if sub.SubscriptionStatus.IsTerminal() {
		return ierr.NewError("subscription is in a terminal state").
			WithHintf("Cannot delete a subscription in status %s", sub.SubscriptionStatus).
			Mark(ierr.ErrConflict)
	}

	// Soft delete only; status is left unchanged
	now := time.Now().UTC()
	sub.DeletedAt = &now
	sub.IsActive = false
	sub.BaseModel.Status = types.StatusDeleted

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("soft deleted subscription", "subscription_id", sub.ID)
	return nil
}

func (s *subscriptionService) ApplyExternalUpdate(ctx context.Context, id string, update *ExternalSubscriptionUpdate) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Direct field assignment: the external system is the source of truth
	// for these fields, so local validation rules must not block them.
	if update.Status != nil {
		sub.SubscriptionStatus = *update.Status
		sub.IsActive = sub.IsInTrialOrActive()
		sub.IsTrial = *update.Status == types.SubscriptionStatusTrial
		if *update.Status == types.SubscriptionStatusCancelled && sub.CancelledAt == nil {
			now := time.Now().UTC()
			sub.CancelledAt = &now
		}
	}
	if update.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = update.CurrentPeriodStart
	}
	if update.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = update.CurrentPeriodEnd
	}
	if update.TrialEndDate != nil {
		sub.TrialEndDate = update.TrialEndDate
	}
	if update.AutoRenew != nil {
		sub.AutoRenew = *update.AutoRenew
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if update.CancelReason != nil {
		sub.CancelReason = *update.CancelReason
	}
	if update.Metadata != nil {
		sub.Metadata = sub.Metadata.Merge(update.Metadata)
	}

	s.touch(ctx, sub)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) CalculateProration(ctx context.Context, id string, newAmount decimal.Decimal, effectiveDate time.Time) (*pricing.ProrationResult, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := pricing.CalculateProration(sub.Amount, newAmount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, effectiveDate)
	return &result, nil
}

// validateTransition enforces the transition table, failing with a conflict
// that names the attempted source and target.
func (s *subscriptionService) validateTransition(sub *subscription.Subscription, target types.SubscriptionStatus) error {
	if !sub.SubscriptionStatus.CanTransitionTo(target) {
		return ierr.NewError("invalid subscription status transition").
			WithHintf("Cannot transition subscription from %s to %s", sub.SubscriptionStatus, target).
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"source_status":   sub.SubscriptionStatus,
				"target_status":   target,
			}).
			Mark(ierr.ErrConflict)
	}
	return nil
}

func (s *subscriptionService) touch(ctx context.Context, sub *subscription.Subscription) {
	sub.UpdatedAt = time.Now().UTC()
	sub.UpdatedBy = types.GetUserID(ctx)
}
