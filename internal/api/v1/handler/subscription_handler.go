package handler

import (
	"errors"
	"io"
	"net/http"

	"dropaccess/internal/api/v1/dto"
	"dropaccess/internal/model"
	"dropaccess/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	billing  service.BillingService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(billing service.BillingService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		billing:  billing,
		validate: v,
		logger:   logger.With().Str("handler", "SubscriptionHandler").Logger(),
	}
}

// RegisterRoutes registers the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/subscriptions/payment-link", authMiddleware(http.HandlerFunc(h.PaymentLink)))
	mux.Handle("/subscriptions/portal", authMiddleware(http.HandlerFunc(h.Portal)))
	mux.Handle("/subscriptions/cancel", authMiddleware(http.HandlerFunc(h.Cancel)))
	mux.Handle("/subscriptions/me", authMiddleware(http.HandlerFunc(h.Me)))
}

// PaymentLink godoc
// @Summary Create a payment link for a plan
// @Description Opens an incomplete subscription and returns the hosted invoice to pay. Access is granted once payment is confirmed.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body dto.PaymentLinkRequestDTO true "Payment link request"
// @Success 200 {object} dto.PaymentLinkResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO "invalid request"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {object} dto.ErrorResponseDTO "userId is not the caller"
// @Failure 404 {object} dto.ErrorResponseDTO "user not found"
// @Failure 409 {object} dto.ErrorResponseDTO "already subscribed"
// @Failure 502 {object} dto.ErrorResponseDTO "billing provider error"
// @Failure 500 {object} dto.ErrorResponseDTO "internal server error"
// @Router /subscriptions/payment-link [post]
func (h *SubscriptionHandler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PaymentLinkRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request payload", err.Error(), h.logger)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation failed", err.Error(), h.logger)
		return
	}
	userID, status, err := resolveUserID(r, req.UserID)
	if err != nil {
		writeErrorMessage(w, status, http.StatusText(status), err.Error(), h.logger)
		return
	}

	link, err := h.billing.RequestPaymentLink(r.Context(), service.PaymentLinkRequest{
		Plan:      req.Plan,
		UserID:    userID,
		UserEmail: req.UserEmail,
	})
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.PaymentLinkResponseDTO{
		PaymentLink:    link.URL,
		SubscriptionID: link.SubscriptionID,
		Plan:           string(link.Plan),
		Amount:         link.AmountCents,
		Currency:       link.Currency,
	}, h.logger)
}

// Portal godoc
// @Summary Create a billing portal session
// @Description Returns a provider-hosted portal URL where the user manages payment methods and invoices.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body dto.PortalRequestDTO false "Portal request"
// @Success 200 {object} dto.PortalResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO "invalid request"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {object} dto.ErrorResponseDTO "userId is not the caller"
// @Failure 404 {object} dto.ErrorResponseDTO "no billing account"
// @Failure 502 {object} dto.ErrorResponseDTO "billing provider error"
// @Router /subscriptions/portal [post]
func (h *SubscriptionHandler) Portal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PortalRequestDTO
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request payload", err.Error(), h.logger)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation failed", err.Error(), h.logger)
		return
	}
	userID, status, err := resolveUserID(r, req.UserID)
	if err != nil {
		writeErrorMessage(w, status, http.StatusText(status), err.Error(), h.logger)
		return
	}

	url, err := h.billing.RequestBillingPortal(r.Context(), userID, req.ReturnURL)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.PortalResponseDTO{PortalURL: url}, h.logger)
}

// Cancel godoc
// @Summary Cancel the active subscription
// @Description Cancels immediately, or at the end of the current period when cancel_at_period_end is set.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body dto.CancelSubscriptionRequestDTO false "Cancel request"
// @Success 200 {object} dto.SubscriptionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {object} dto.ErrorResponseDTO "userId is not the caller"
// @Failure 404 {object} dto.ErrorResponseDTO "no active subscription"
// @Failure 502 {object} dto.ErrorResponseDTO "billing provider error"
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.CancelSubscriptionRequestDTO
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request payload", err.Error(), h.logger)
		return
	}
	userID, status, err := resolveUserID(r, req.UserID)
	if err != nil {
		writeErrorMessage(w, status, http.StatusText(status), err.Error(), h.logger)
		return
	}

	sub, err := h.billing.CancelSubscription(r.Context(), userID, req.CancelAtPeriodEnd)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(sub), h.logger)
}

// Me godoc
// @Summary Get the caller's billing state
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.UserBillingResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {object} dto.ErrorResponseDTO "user not found"
// @Router /subscriptions/me [get]
func (h *SubscriptionHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, status, err := resolveUserID(r, "")
	if err != nil {
		writeErrorMessage(w, status, http.StatusText(status), err.Error(), h.logger)
		return
	}

	view, err := h.billing.GetSubscription(r.Context(), userID)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	u := view.User
	resp := dto.UserBillingResponseDTO{
		UserID:             u.UserID,
		Email:              u.Email,
		IsPaid:             u.IsPaid,
		SubscriptionStatus: string(u.SubscriptionStatus),
		SubscriptionTier:   string(u.SubscriptionTier),
		SubscriptionEndsAt: u.SubscriptionEndsAt,
		HasBillingAccount:  u.HasBillingAccount(),
		RecentPayments:     make([]dto.PaymentResponseDTO, 0, len(view.RecentPayments)),
	}
	if view.Subscription != nil {
		resp.Subscription = toSubscriptionDTO(view.Subscription)
	}
	for _, p := range view.RecentPayments {
		resp.RecentPayments = append(resp.RecentPayments, dto.PaymentResponseDTO{
			ID:               p.ID,
			BillingPaymentID: p.BillingPaymentID,
			AmountCents:      p.AmountCents,
			Currency:         p.Currency,
			Status:           string(p.Status),
			TransactionType:  string(p.TransactionType),
			CreatedAt:        p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func toSubscriptionDTO(s *model.Subscription) *dto.SubscriptionResponseDTO {
	return &dto.SubscriptionResponseDTO{
		ID:                    s.ID,
		Plan:                  string(s.Plan),
		Status:                s.Status,
		BillingSubscriptionID: s.BillingSubscriptionID,
		CurrentPeriodStart:    s.CurrentPeriodStart,
		CurrentPeriodEnd:      s.CurrentPeriodEnd,
		CancelAtPeriodEnd:     s.CancelAtPeriodEnd,
		UpdatedAt:             s.UpdatedAt,
	}
}
