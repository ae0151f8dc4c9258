package handler

import (
	"errors"
	"io"
	"net/http"

	"dropaccess/internal/api/v1/dto"
	"dropaccess/internal/service"

	"github.com/rs/zerolog"
)

const signatureHeader = "Stripe-Signature"

// WebhookHandler receives billing provider webhook deliveries.
type WebhookHandler struct {
	webhooks     service.WebhookService
	maxBodyBytes int64
	logger       zerolog.Logger
}

func NewWebhookHandler(webhooks service.WebhookService, maxBodyBytes int64, logger zerolog.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		webhooks:     webhooks,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With().Str("handler", "WebhookHandler").Logger(),
	}
}

// RegisterRoutes mounts the webhook route. It is authenticated by the
// payload signature, not by a user token.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/billing", h.Receive)
}

// Receive godoc
// @Summary Receive a billing provider webhook
// @Description Verifies the Stripe-Signature header and applies the event. Non-2xx answers make the provider retry.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} dto.WebhookAckDTO
// @Failure 400 {object} dto.ErrorResponseDTO "malformed event"
// @Failure 401 {object} dto.ErrorResponseDTO "invalid signature"
// @Failure 413 {object} dto.ErrorResponseDTO "payload too large"
// @Failure 500 {object} dto.ErrorResponseDTO "internal server error"
// @Router /webhooks/billing [post]
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "payload too large", "", h.logger)
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "failed to read payload", err.Error(), h.logger)
		return
	}

	outcome, err := h.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		if service.KindOf(err) == service.KindAuthentication {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid signature", "", h.logger)
			return
		}
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.WebhookAckDTO{Received: true, Status: string(outcome)}, h.logger)
}
