package model

import "time"

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type TransactionType string

const (
	TransactionSubscription TransactionType = "subscription"
	TransactionOneTime      TransactionType = "one_time"
	TransactionRefund       TransactionType = "refund"
)

// PaymentTransaction is an append-only ledger row, one per billing payment ID.
type PaymentTransaction struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	SubscriptionID   *string         `db:"subscription_id" json:"subscription_id,omitempty"`
	BillingPaymentID string          `db:"billing_payment_id" json:"billing_payment_id"`
	AmountCents      int64           `db:"amount_cents" json:"amount_cents"`
	Currency         string          `db:"currency" json:"currency"`
	Status           PaymentStatus   `db:"status" json:"status"`
	TransactionType  TransactionType `db:"transaction_type" json:"transaction_type"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
