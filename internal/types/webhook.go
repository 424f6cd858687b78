package types

// WebhookEventType is the external billing provider's event type tag
type WebhookEventType string

const (
	WebhookEventTypeSubscriptionCreated      WebhookEventType = "subscription.created"
	WebhookEventTypeSubscriptionUpdated      WebhookEventType = "subscription.updated"
	WebhookEventTypeSubscriptionDeleted      WebhookEventType = "subscription.deleted"
	WebhookEventTypeSubscriptionTrialWillEnd WebhookEventType = "subscription.trial_will_end"
	WebhookEventTypeInvoicePaymentSucceeded  WebhookEventType = "invoice.payment_succeeded"
	WebhookEventTypeInvoicePaymentFailed     WebhookEventType = "invoice.payment_failed"
	WebhookEventTypeInvoiceUpcoming          WebhookEventType = "invoice.upcoming"
)

func (t WebhookEventType) String() string {
	return string(t)
}
