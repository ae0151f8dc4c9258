package dto

import "time"

// PaymentLinkRequestDTO is the body of POST /v1/subscriptions/payment-link.
// UserID defaults to the authenticated subject when omitted.
type PaymentLinkRequestDTO struct {
	Plan      string `json:"plan" validate:"required"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail" validate:"required,email"`
}

type PaymentLinkResponseDTO struct {
	PaymentLink    string `json:"payment_link"`
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency,omitempty"`
}

type PortalRequestDTO struct {
	UserID    string `json:"userId"`
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

type PortalResponseDTO struct {
	PortalURL string `json:"portal_url"`
}

type CancelSubscriptionRequestDTO struct {
	UserID            string `json:"userId"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// SubscriptionResponseDTO is one stored provider subscription.
type SubscriptionResponseDTO struct {
	ID                    string     `json:"id"`
	Plan                  string     `json:"plan"`
	Status                string     `json:"status"`
	BillingSubscriptionID string     `json:"billing_subscription_id"`
	CurrentPeriodStart    *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type WebhookAckDTO struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
