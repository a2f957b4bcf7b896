package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// PasswordServiceInterface defines the password endpoints' dependencies
type PasswordServiceInterface interface {
	ChangePassword(ctx context.Context, p *models.Principal, currentPassword, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error)
	CheckPassword(ctx context.Context, password string, pc models.PasswordContext) (*models.PasswordValidationResult, error)
}

// PasswordHandler handles password strength checks and changes
type PasswordHandler struct {
	service  PasswordServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewPasswordHandler creates a new PasswordHandler
func NewPasswordHandler(service PasswordServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// CheckPasswordRequest asks for a policy verdict. The optional fields feed
// the strength estimator during sign-up.
type CheckPasswordRequest struct {
	Password  string `json:"password" validate:"required,max=1024"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	FirstName string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// CheckPassword evaluates a candidate without storing anything
// @Router /password/check [post]
func (h *PasswordHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	var req CheckPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pc := models.PasswordContext{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	result, err := h.service.CheckPassword(r.Context(), req.Password, pc)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ChangePassword replaces the signed-in customer's password
// @Router /password/change [post]
func (h *PasswordHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := services.ClientMeta{IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig)}
	result, err := h.service.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, meta)
	if err != nil {
		if result != nil {
			writePasswordRejected(w, err, result)
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password changed. Other devices have been signed out."})
}
