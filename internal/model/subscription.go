package model

import "time"

// Subscription mirrors one billing-provider subscription object.
// Rows are never deleted; cancellation is a status change.
type Subscription struct {
	ID                    string     `db:"id" json:"id"`
	UserID                string     `db:"user_id" json:"user_id"`
	Plan                  Tier       `db:"plan" json:"plan"`
	Status                string     `db:"status" json:"status"`
	BillingCustomerID     string     `db:"billing_customer_id" json:"billing_customer_id"`
	BillingSubscriptionID string     `db:"billing_subscription_id" json:"billing_subscription_id"`
	CurrentPeriodStart    *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd     bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	ProviderUpdatedAt     time.Time  `db:"provider_updated_at" json:"-"`
	ProviderEventRank     int        `db:"provider_event_rank" json:"-"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Provider subscription statuses the reconciler distinguishes.
const (
	ProviderStatusActive            = "active"
	ProviderStatusTrialing          = "trialing"
	ProviderStatusPastDue           = "past_due"
	ProviderStatusUnpaid            = "unpaid"
	ProviderStatusCanceled          = "canceled"
	ProviderStatusIncomplete        = "incomplete"
	ProviderStatusIncompleteExpired = "incomplete_expired"
	ProviderStatusPaused            = "paused"
)

// Event ranks order writes carrying the same provider timestamp. Provider
// events are stamped in whole seconds, so a created event can tie with the
// update that follows it.
const (
	RankPaymentLink = iota
	RankSubscriptionCreated
	RankSubscriptionUpdated
	RankSubscriptionDeleted
)

// GrantsAccess reports whether a provider status keeps the subscription live.
func GrantsAccess(status string) bool {
	return status == ProviderStatusActive || status == ProviderStatusTrialing
}
