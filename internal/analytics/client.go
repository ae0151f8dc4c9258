// Package analytics forwards billing events to a best-effort sink.
package analytics

import "context"

// Event names emitted by the reconciler.
const (
	EventPaymentLinkCreated          = "payment_link_created"
	EventBillingPortalOpened         = "billing_portal_opened"
	EventSubscriptionCancelRequested = "subscription_cancel_requested"
	EventSubscriptionActivated       = "subscription_activated"
	EventSubscriptionUpdated         = "subscription_updated"
	EventSubscriptionCanceled        = "subscription_canceled"
	EventPaymentSucceeded            = "payment_succeeded"
	EventPaymentFailed               = "payment_failed"
)

// Client captures analytics events. Callers must treat errors as non-fatal.
type Client interface {
	Capture(ctx context.Context, distinctID string, event string, properties map[string]any) error
	Close() error
}

// NoopClient drops every event.
type NoopClient struct{}

func (NoopClient) Capture(context.Context, string, string, map[string]any) error { return nil }
func (NoopClient) Close() error                                                 { return nil }
