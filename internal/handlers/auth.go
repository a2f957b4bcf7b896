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

// The same body is returned whether or not anything was sent
const acceptedMessage = "If the address is eligible, a code has been sent to it."

// AuthServiceInterface defines the account flows reachable before sign-in
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, meta services.ClientMeta) (*services.LoginResult, error)
	Logout(ctx context.Context, p *models.Principal) error
	ForgotPassword(ctx context.Context, email string, meta services.ClientMeta) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error)
	SendEmailVerification(ctx context.Context, email string, meta services.ClientMeta) error
	ConfirmEmail(ctx context.Context, email, code string) error
	RequestUnlock(ctx context.Context, email string, meta services.ClientMeta) error
	ConfirmUnlock(ctx context.Context, email, code string, meta services.ClientMeta) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// EmailRequest carries only an address; used by every code request endpoint
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// CodeRequest carries an address and the six digit code sent to it
type CodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles customer sign-in
// @Summary Customer login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, clientMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout ends the session that made the request
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), p); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword starts a password reset
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.requestCode(w, r, h.service.ForgotPassword)
}

// SendEmailVerification sends a verification code to an unverified address
// @Router /auth/email/send-code [post]
func (h *AuthHandler) SendEmailVerification(w http.ResponseWriter, r *http.Request) {
	h.requestCode(w, r, h.service.SendEmailVerification)
}

// RequestUnlock sends an unlock code to a locked account
// @Router /auth/unlock/request [post]
func (h *AuthHandler) RequestUnlock(w http.ResponseWriter, r *http.Request) {
	h.requestCode(w, r, h.service.RequestUnlock)
}

// requestCode answers 202 with the same body for every well-formed request
func (h *AuthHandler) requestCode(w http.ResponseWriter, r *http.Request, issue func(context.Context, string, services.ClientMeta) error) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := issue(r.Context(), req.Email, clientMeta(r, h.ipConfig)); err != nil {
		h.logger.Error("code request failed", slog.Any("error", err))
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: acceptedMessage})
}

// VerifyResetCode checks a reset code without spending it
// @Router /auth/password/verify-code [post]
func (h *AuthHandler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyResetCode(r.Context(), req.Email, req.Code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ResetPassword sets a new password using a reset code
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword, clientMeta(r, h.ipConfig))
	if err != nil {
		if result != nil {
			writePasswordRejected(w, err, result)
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset. Sign in with your new password."})
}

// ConfirmEmail marks the address verified
// @Router /auth/email/confirm [post]
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmEmail(r.Context(), req.Email, req.Code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email address verified."})
}

// ConfirmUnlock lifts a lockout
// @Router /auth/unlock/confirm [post]
func (h *AuthHandler) ConfirmUnlock(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmUnlock(r.Context(), req.Email, req.Code, clientMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account unlocked."})
}

func clientMeta(r *http.Request, ipConfig *pkghttp.IPConfig) services.ClientMeta {
	client := pkghttp.ExtractClient(r, ipConfig)
	meta := services.ClientMeta{
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	if geo := pkghttp.ExtractGeo(r, ipConfig); geo != nil {
		meta.Geo = &models.GeoHint{City: geo.City, Country: geo.Country}
	}
	return meta
}
