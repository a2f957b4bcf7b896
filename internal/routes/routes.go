package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
)

// Dependencies bundles what the route table needs
type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	SessionHandler  *handlers.SessionHandler
	PasswordHandler *handlers.PasswordHandler
	TokenManager    *auth.TokenManager
	Sessions        auth.SessionValidator
	PublicLimit     middleware.RateLimitConfig
	CustomerLimit   middleware.RateLimitConfig
	Logger          *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.PublicLimit))

		r.Post("/auth/login", deps.AuthHandler.Login)

		r.Post("/auth/password/forgot", deps.AuthHandler.ForgotPassword)
		r.Post("/auth/password/verify-code", deps.AuthHandler.VerifyResetCode)
		r.Post("/auth/password/reset", deps.AuthHandler.ResetPassword)

		r.Post("/auth/email/send-code", deps.AuthHandler.SendEmailVerification)
		r.Post("/auth/email/confirm", deps.AuthHandler.ConfirmEmail)

		r.Post("/auth/unlock/request", deps.AuthHandler.RequestUnlock)
		r.Post("/auth/unlock/confirm", deps.AuthHandler.ConfirmUnlock)

		r.Post("/password/check", deps.PasswordHandler.CheckPassword)
	})

	// Protected routes - a live session is required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionAuth(deps.TokenManager, deps.Sessions, deps.Logger))
		r.Use(middleware.RateLimitByCustomer(deps.CustomerLimit))

		r.Post("/auth/logout", deps.AuthHandler.Logout)

		r.Get("/sessions", deps.SessionHandler.ListSessions)
		r.Delete("/sessions/{id}", deps.SessionHandler.RevokeSession)
		r.Post("/sessions/revoke-others", deps.SessionHandler.RevokeOtherSessions)
		r.Post("/sessions/revoke-all", deps.SessionHandler.RevokeAllSessions)

		r.Post("/password/change", deps.PasswordHandler.ChangePassword)
	})
}
