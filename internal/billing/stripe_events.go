package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types the reconciler understands.
const (
	stripeSubscriptionCreated = "customer.subscription.created"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
	stripeInvoiceSucceeded    = "invoice.payment_succeeded"
	stripeInvoicePaid         = "invoice.paid"
	stripeInvoiceFailed       = "invoice.payment_failed"
)

// ParseWebhook authenticates a delivery and decodes it into a typed Event.
// When the signature is valid but the payload is not, the returned error
// wraps ErrMalformedEvent and the event, if one could be decoded, is
// returned alongside it.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, ErrInvalidSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev, err := p.decodeEvent(&evt)
	if err != nil {
		return ev, err
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (p *StripeProvider) decodeEvent(evt *stripe.Event) (Event, error) {
	env := Envelope{ID: evt.ID, Type: string(evt.Type), Created: time.Unix(evt.Created, 0).UTC()}
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch env.Type {
	case stripeSubscriptionCreated, stripeSubscriptionUpdated, stripeSubscriptionDeleted:
		if len(raw) == 0 {
			return UnknownEvent{Envelope: env}, fmt.Errorf("%w: missing data object", ErrMalformedEvent)
		}
		var obj stripeSubscriptionObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return UnknownEvent{Envelope: env}, fmt.Errorf("%w: decode subscription: %v", ErrMalformedEvent, err)
		}
		payload := p.subscriptionPayload(obj)
		switch env.Type {
		case stripeSubscriptionCreated:
			return SubscriptionCreated{Envelope: env, SubscriptionPayload: payload}, nil
		case stripeSubscriptionUpdated:
			return SubscriptionUpdated{Envelope: env, SubscriptionPayload: payload}, nil
		default:
			return SubscriptionCanceled{Envelope: env, SubscriptionPayload: payload}, nil
		}

	case stripeInvoiceSucceeded, stripeInvoicePaid, stripeInvoiceFailed:
		if len(raw) == 0 {
			return UnknownEvent{Envelope: env}, fmt.Errorf("%w: missing data object", ErrMalformedEvent)
		}
		var inv stripeInvoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return UnknownEvent{Envelope: env}, fmt.Errorf("%w: decode invoice: %v", ErrMalformedEvent, err)
		}
		payload := PaymentPayload{
			CustomerID:     inv.Customer.ID,
			SubscriptionID: inv.subscriptionID(),
			Currency:       inv.Currency,
		}
		if env.Type == stripeInvoiceFailed {
			payload.AmountCents = inv.AmountDue
			if inv.ID != "" {
				// each failed attempt is its own ledger row
				payload.PaymentID = fmt.Sprintf("%s:attempt-%d", inv.ID, inv.AttemptCount)
			}
			return PaymentFailed{Envelope: env, PaymentPayload: payload, AttemptCount: inv.AttemptCount}, nil
		}
		payload.AmountCents = inv.AmountPaid
		payload.PaymentID = inv.ID
		return PaymentSucceeded{Envelope: env, PaymentPayload: payload}, nil
	}

	return UnknownEvent{Envelope: env}, nil
}

func (p *StripeProvider) subscriptionPayload(obj stripeSubscriptionObject) SubscriptionPayload {
	out := SubscriptionPayload{
		CustomerID:        obj.Customer.ID,
		SubscriptionID:    obj.ID,
		UserID:            obj.Metadata["user_id"],
		Status:            obj.Status,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
	}
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		out.PriceID = item.Price.ID
		out.PeriodStart = unixTime(item.CurrentPeriodStart)
		out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	out.Plan = p.planFor(obj.Metadata, out.PriceID)
	return out
}

// stripeRef decodes a field Stripe sends either as an ID string or as an
// expanded object.
type stripeRef struct {
	ID string
}

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type stripeSubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          stripeRef         `json:"customer"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoiceObject struct {
	ID           string    `json:"id"`
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	AmountDue    int64     `json:"amount_due"`
	AmountPaid   int64     `json:"amount_paid"`
	Currency     string    `json:"currency"`
	AttemptCount int64     `json:"attempt_count"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionID finds the owning subscription across the invoice shapes of
// older and newer API versions.
func (inv stripeInvoiceObject) subscriptionID() string {
	if inv.Subscription.ID != "" {
		return inv.Subscription.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription.ID != "" {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	for _, line := range inv.Lines.Data {
		if line.Subscription.ID != "" {
			return line.Subscription.ID
		}
	}
	return ""
}
