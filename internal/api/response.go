package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, status int, code, message string) {
	logger.Warn().Str("code", code).Int("status", status).Msg(message)
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// statusForKind maps a business-visible error Kind to an HTTP status,
// matching the error-handling design's surface-per-kind table.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindNotAuthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateKeyCollision:
		return http.StatusConflict
	case apperr.KindInsufficientBalance, apperr.KindNotCancellable, apperr.KindNotRetryable, apperr.KindAlreadyResolved:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError inspects err for a *apperr.ServiceError and writes the
// matching status; anything else is a 500.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if se, ok := err.(*apperr.ServiceError); ok {
		writeError(w, logger, statusForKind(se.Kind), string(se.Kind), se.Message)
		return
	}
	if err == apperr.ErrNotFound {
		writeError(w, logger, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, logger, http.StatusInternalServerError, "internal_error", err.Error())
}
