package model

import "time"

// SubscriptionStatus is the collapsed billing state kept on a user profile.
type SubscriptionStatus string

const (
	StatusFree     SubscriptionStatus = "free"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Tier is the plan a user is entitled to.
type Tier string

const (
	TierFree       Tier = "free"
	TierIndividual Tier = "individual"
	TierBusiness   Tier = "business"
)

// ParseTier accepts the paid tiers a user can subscribe to.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(s); t {
	case TierIndividual, TierBusiness:
		return t, true
	}
	return "", false
}

// User represents a user profile together with its billing projection
type User struct {
	UserID             string             `db:"user_id" json:"user_id"`
	Email              string             `db:"email" json:"email"`
	BillingCustomerID  *string            `db:"billing_customer_id" json:"billing_customer_id,omitempty"`
	IsPaid             bool               `db:"is_paid" json:"is_paid"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	SubscriptionTier   Tier               `db:"subscription_tier" json:"subscription_tier"`
	SubscriptionEndsAt *time.Time         `db:"subscription_ends_at" json:"subscription_ends_at,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// HasBillingAccount reports whether a billing customer has been linked.
func (u *User) HasBillingAccount() bool {
	return u.BillingCustomerID != nil && *u.BillingCustomerID != ""
}

// BillingProjection is the set of user columns owned by the reconciler.
// IsPaid is not settable; it is derived from Status.
type BillingProjection struct {
	Status SubscriptionStatus
	Tier   Tier
	EndsAt *time.Time
}

// IsPaid reports whether the projection grants paid access.
func (p BillingProjection) IsPaid() bool {
	return p.Status == StatusActive
}

// FreeProjection demotes a user to the free tier with the given status.
func FreeProjection(status SubscriptionStatus) BillingProjection {
	return BillingProjection{Status: status, Tier: TierFree}
}
