package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"dropaccess/internal/api/v1/dto"
	"dropaccess/internal/middleware"
	"dropaccess/internal/service"

	"github.com/rs/zerolog"
)

var errForbidden = errors.New("userId does not match the authenticated user")

var kindStatus = map[service.Kind]int{
	service.KindValidation:     http.StatusBadRequest,
	service.KindNotFound:       http.StatusNotFound,
	service.KindConflict:       http.StatusConflict,
	service.KindAuthentication: http.StatusUnauthorized,
	service.KindUpstream:       http.StatusBadGateway,
	service.KindInternal:       http.StatusInternalServerError,
}

var kindMessage = map[service.Kind]string{
	service.KindValidation:     "invalid request",
	service.KindNotFound:       "not found",
	service.KindConflict:       "conflict",
	service.KindAuthentication: "unauthorized",
	service.KindUpstream:       "billing provider error",
	service.KindInternal:       "internal server error",
}

func writeJSON(w http.ResponseWriter, status int, v any, logger zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg, details string, logger zerolog.Logger) {
	writeJSON(w, status, dto.ErrorResponseDTO{Error: msg, Details: details}, logger)
}

// writeError answers with the status for err's kind. Internal errors keep
// their details out of the response.
func writeError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	kind := service.KindOf(err)
	status := kindStatus[kind]
	details := err.Error()
	if kind == service.KindInternal {
		logger.Error().Err(err).Msg("request failed")
		details = ""
	}
	writeErrorMessage(w, status, kindMessage[kind], details, logger)
}

// resolveUserID returns the user a request acts for. An omitted userId means
// the caller; any other user is forbidden.
func resolveUserID(r *http.Request, requested string) (string, int, error) {
	subject, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return "", http.StatusUnauthorized, service.ErrUnauthorized
	}
	if requested == "" || requested == subject {
		return subject, 0, nil
	}
	return "", http.StatusForbidden, errForbidden
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
