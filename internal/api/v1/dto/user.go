package dto

import "time"

// UserBillingResponseDTO is the caller's billing projection.
type UserBillingResponseDTO struct {
	UserID             string                   `json:"user_id"`
	Email              string                   `json:"email"`
	IsPaid             bool                     `json:"is_paid"`
	SubscriptionStatus string                   `json:"subscription_status"`
	SubscriptionTier   string                   `json:"subscription_tier"`
	SubscriptionEndsAt *time.Time               `json:"subscription_ends_at,omitempty"`
	HasBillingAccount  bool                     `json:"has_billing_account"`
	Subscription       *SubscriptionResponseDTO `json:"subscription,omitempty"`
	RecentPayments     []PaymentResponseDTO     `json:"recent_payments"`
}

// PaymentResponseDTO is one ledger entry, newest first in listings.
type PaymentResponseDTO struct {
	ID               string    `json:"id"`
	BillingPaymentID string    `json:"billing_payment_id"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	TransactionType  string    `json:"transaction_type"`
	CreatedAt        time.Time `json:"created_at"`
}
