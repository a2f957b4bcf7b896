package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// SessionServiceInterface defines session management for the signed-in customer
type SessionServiceInterface interface {
	ListSessions(ctx context.Context, p *models.Principal) ([]*models.Session, error)
	RevokeSession(ctx context.Context, p *models.Principal, sessionID string) error
	RevokeOtherSessions(ctx context.Context, p *models.Principal) (int64, error)
	RevokeAllSessions(ctx context.Context, p *models.Principal) (int64, error)
}

// SessionHandler handles the customer's device list
type SessionHandler struct {
	service SessionServiceInterface
	logger  *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: service, logger: logger}
}

// SessionListResponse wraps the active sessions
type SessionListResponse struct {
	Sessions []*models.Session `json:"sessions"`
}

// RevokedResponse reports how many sessions were ended
type RevokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// ListSessions returns the caller's active sessions
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions})
}

// RevokeSession ends one of the caller's sessions
// @Router /sessions/{id} [delete]
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteBadRequest(w, "validation failed: id: must be a valid id")
		return
	}

	if err := h.service.RevokeSession(r.Context(), p, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeOtherSessions signs out every other device
// @Router /sessions/revoke-others [post]
func (h *SessionHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	h.revokeMany(w, r, h.service.RevokeOtherSessions)
}

// RevokeAllSessions signs out every device including this one
// @Router /sessions/revoke-all [post]
func (h *SessionHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	h.revokeMany(w, r, h.service.RevokeAllSessions)
}

func (h *SessionHandler) revokeMany(w http.ResponseWriter, r *http.Request, revoke func(context.Context, *models.Principal) (int64, error)) {
	p := auth.GetPrincipal(r)
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	n, err := revoke(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: n})
}
