package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// PasswordRejectedResponse carries the policy verdict for a refused password
type PasswordRejectedResponse struct {
	Error      string                           `json:"error"`
	Message    string                           `json:"message"`
	Validation *models.PasswordValidationResult `json:"validation"`
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var locked *models.LockedOutError
	if errors.As(err, &locked) {
		pkghttp.WriteLocked(w, "Too many failed sign-in attempts. Try again later.", locked.RetryAfter)
		return
	}

	var se *models.SecurityError
	if errors.As(err, &se) {
		pkghttp.WriteError(w, statusForKind(se.Kind), strings.ToLower(se.Code), se.Message)
		return
	}

	logger.Error("request failed", slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}

func statusForKind(kind error) int {
	switch {
	case errors.Is(kind, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(kind, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(kind, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(kind, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(kind, models.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writePasswordRejected reports a policy failure with its full verdict.
// Compromised passwords get 409, every other policy failure 422.
func writePasswordRejected(w http.ResponseWriter, err error, result *models.PasswordValidationResult) {
	se := models.ErrPasswordRejected
	errors.As(err, &se)

	status := http.StatusUnprocessableEntity
	if errors.Is(se.Kind, models.ErrConflict) {
		status = http.StatusConflict
	}

	pkghttp.WriteJSON(w, status, PasswordRejectedResponse{
		Error:      strings.ToLower(se.Code),
		Message:    se.Message,
		Validation: result,
	})
}
