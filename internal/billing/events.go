package billing

import (
	"fmt"
	"time"

	"dropaccess/internal/model"
)

// EventKind names the provider-neutral webhook event types.
type EventKind string

const (
	KindSubscriptionCreated  EventKind = "subscription.created"
	KindSubscriptionUpdated  EventKind = "subscription.updated"
	KindSubscriptionCanceled EventKind = "subscription.canceled"
	KindPaymentSucceeded     EventKind = "payment.succeeded"
	KindPaymentFailed        EventKind = "payment.failed"
	KindUnknown              EventKind = "unknown"
)

// Event is a verified webhook delivery. The concrete type is one of
// SubscriptionCreated, SubscriptionUpdated, SubscriptionCanceled,
// PaymentSucceeded, PaymentFailed or UnknownEvent.
type Event interface {
	EventID() string
	Kind() EventKind
	// ProviderType is the provider's own event type string.
	ProviderType() string
	OccurredAt() time.Time
	Validate() error
}

// Envelope carries the fields every delivery has.
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e Envelope) EventID() string       { return e.ID }
func (e Envelope) ProviderType() string  { return e.Type }
func (e Envelope) OccurredAt() time.Time { return e.Created }

type SubscriptionPayload struct {
	CustomerID        string
	SubscriptionID    string
	UserID            string
	Plan              model.Tier
	PriceID           string
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

func (p SubscriptionPayload) validate() error {
	if p.CustomerID == "" {
		return fmt.Errorf("%w: missing customer id", ErrMalformedEvent)
	}
	if p.SubscriptionID == "" {
		return fmt.Errorf("%w: missing subscription id", ErrMalformedEvent)
	}
	if p.Status == "" {
		return fmt.Errorf("%w: missing subscription status", ErrMalformedEvent)
	}
	return nil
}

type PaymentPayload struct {
	CustomerID     string
	SubscriptionID string
	PaymentID      string
	AmountCents    int64
	Currency       string
}

func (p PaymentPayload) validate() error {
	if p.CustomerID == "" {
		return fmt.Errorf("%w: missing customer id", ErrMalformedEvent)
	}
	if p.PaymentID == "" {
		return fmt.Errorf("%w: missing payment id", ErrMalformedEvent)
	}
	if p.AmountCents < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrMalformedEvent, p.AmountCents)
	}
	return nil
}

type SubscriptionCreated struct {
	Envelope
	SubscriptionPayload
}

func (SubscriptionCreated) Kind() EventKind { return KindSubscriptionCreated }

func (e SubscriptionCreated) Validate() error {
	if err := e.SubscriptionPayload.validate(); err != nil {
		return err
	}
	if e.Plan == "" {
		return fmt.Errorf("%w: cannot resolve plan for price %q", ErrMalformedEvent, e.PriceID)
	}
	return nil
}

type SubscriptionUpdated struct {
	Envelope
	SubscriptionPayload
}

func (SubscriptionUpdated) Kind() EventKind  { return KindSubscriptionUpdated }
func (e SubscriptionUpdated) Validate() error { return e.SubscriptionPayload.validate() }

type SubscriptionCanceled struct {
	Envelope
	SubscriptionPayload
}

func (SubscriptionCanceled) Kind() EventKind  { return KindSubscriptionCanceled }
func (e SubscriptionCanceled) Validate() error { return e.SubscriptionPayload.validate() }

type PaymentSucceeded struct {
	Envelope
	PaymentPayload
}

func (PaymentSucceeded) Kind() EventKind  { return KindPaymentSucceeded }
func (e PaymentSucceeded) Validate() error { return e.PaymentPayload.validate() }

type PaymentFailed struct {
	Envelope
	PaymentPayload
	AttemptCount int64
}

func (PaymentFailed) Kind() EventKind  { return KindPaymentFailed }
func (e PaymentFailed) Validate() error { return e.PaymentPayload.validate() }

// UnknownEvent is any provider event type the reconciler does not act on.
type UnknownEvent struct {
	Envelope
}

func (UnknownEvent) Kind() EventKind { return KindUnknown }
func (UnknownEvent) Validate() error { return nil }
