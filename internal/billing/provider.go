// Package billing wraps the payment provider behind a small interface and
// turns its webhook deliveries into typed events.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropaccess/internal/model"
)

var (
	// ErrInvalidSignature is returned by ParseWebhook when the delivery cannot
	// be authenticated. Nothing in the payload is decoded in that case.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned for authenticated deliveries whose payload
	// is missing identifiers or cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Provider is the subset of the billing provider the reconciler talks to.
type Provider interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

type Customer struct {
	ID    string
	Email string
	// UserID is the user_id metadata stamped at creation, if any.
	UserID string
}

type CreateCustomerParams struct {
	UserID string
	Email  string
}

type CreateSubscriptionParams struct {
	CustomerID string
	UserID     string
	Plan       model.Tier
	PriceID    string
}

// Subscription is the provider's authoritative view of a subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	Plan              model.Tier
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	// PaymentLink and AmountCents are only set on freshly created subscriptions.
	PaymentLink string
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

// ProviderError is a failed provider call. Msg carries the provider's own
// message so it can be surfaced to callers.
type ProviderError struct {
	Op         string
	StatusCode int
	Code       string
	Msg        string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500 ||
		errors.Is(e.Err, context.DeadlineExceeded)
}
