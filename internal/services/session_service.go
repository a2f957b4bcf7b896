package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/device"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// SessionRepository defines the persistence operations for sessions
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	SetTokenHash(ctx context.Context, id, tokenHash string) error
	GetActive(ctx context.Context, id string) (*models.Session, error)
	TouchActivity(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, reason string) (int64, error)
	RevokeForCustomer(ctx context.Context, customerID, exceptID, reason string) (int64, error)
	ListActive(ctx context.Context, customerID string) ([]*models.Session, error)
	DeleteStale(ctx context.Context, revokedBefore, idleBefore, createdBefore time.Time) (int64, error)
}

// SessionConfig holds hashing cost and retention windows for sessions
type SessionConfig struct {
	TokenHashCost    int
	RevokedRetention time.Duration
	IdleTimeout      time.Duration
	MaxAge           time.Duration
	TouchTimeout     time.Duration
}

// SessionService tracks server-side login sessions
type SessionService struct {
	repo    SessionRepository
	config  SessionConfig
	audit   *logger.AuditLogger
	logger  *slog.Logger
	touches sync.WaitGroup
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, config SessionConfig, logger *slog.Logger) *SessionService {
	if config.TokenHashCost == 0 {
		config.TokenHashCost = auth.TokenBcryptCost
	}
	if config.TouchTimeout == 0 {
		config.TouchTimeout = 2 * time.Second
	}
	return &SessionService{
		repo:   repo,
		config: config,
		audit:  newAuditLogger(logger),
		logger: logger,
	}
}

// CreateSession records a new login and returns the session id. The token
// hash is attached separately once the credential has been minted.
func (s *SessionService) CreateSession(ctx context.Context, in models.NewSessionInput) (string, error) {
	info := device.Parse(in.UserAgent)

	session := &models.Session{
		CustomerID:     in.CustomerID,
		DeviceName:     info.Name,
		DeviceType:     models.DeviceType(info.Type),
		DeviceBrowser:  optionalString(info.Browser),
		BrowserVersion: optionalString(info.BrowserVersion),
		OSName:         optionalString(info.OSName),
		OSVersion:      optionalString(info.OSVersion),
		IPAddress:      optionalString(in.IPAddress),
	}
	if in.Geo != nil {
		session.IPCity = optionalString(in.Geo.City)
		session.IPCountry = optionalString(in.Geo.Country)
	}

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		s.logger.Error("failed to create session",
			slog.String("customer_id", in.CustomerID),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.audit.LogSessionEvent("session_created", in.CustomerID, created.ID, map[string]string{
		"device": info.Summary(),
	})
	return created.ID, nil
}

// SetTokenHash binds the credential to the session. A session accepts
// exactly one binding.
func (s *SessionService) SetTokenHash(ctx context.Context, id, rawToken string) error {
	hash, err := auth.HashToken(rawToken, s.config.TokenHashCost)
	if err != nil {
		return err
	}

	err = s.repo.SetTokenHash(ctx, id, hash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound):
		return models.ErrSessionNotFound
	case errors.Is(err, models.ErrConflict):
		return models.ErrTokenHashAlreadySet
	}
	return fmt.Errorf("failed to set session token hash: %w", err)
}

// TokenMatches reports whether rawToken is the credential bound to session
func (s *SessionService) TokenMatches(session *models.Session, rawToken string) bool {
	if session == nil || session.TokenHash == nil {
		return false
	}
	return auth.TokenMatches(*session.TokenHash, rawToken)
}

// ValidateSession returns the session while it is active
func (s *SessionService) ValidateSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.GetActive(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// TouchActivity bumps last_activity_at in the background. Failures are
// logged and never reach the request.
func (s *SessionService) TouchActivity(id string) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.TouchTimeout)
		defer cancel()

		if err := s.repo.TouchActivity(ctx, id); err != nil {
			s.logger.Warn("failed to touch session activity",
				slog.String("session_id", id),
				slog.Any("error", err))
		}
	}()
}

// WaitForTouches blocks until in-flight activity updates finish
func (s *SessionService) WaitForTouches() {
	s.touches.Wait()
}

// RevokeSession deactivates one session. Revoking an inactive or unknown
// session is a no-op.
func (s *SessionService) RevokeSession(ctx context.Context, id, reason string) error {
	n, err := s.repo.Revoke(ctx, id, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if n > 0 {
		s.audit.LogSessionEvent("session_revoked", "", id, map[string]string{"reason": reason})
	}
	return nil
}

// RevokeOtherSessions revokes every active session of the customer except current
func (s *SessionService) RevokeOtherSessions(ctx context.Context, customerID, currentSessionID string) (int64, error) {
	return s.revokeForCustomer(ctx, customerID, currentSessionID, models.RevokeReasonOtherSessions)
}

// RevokeAllSessions revokes every active session of the customer
func (s *SessionService) RevokeAllSessions(ctx context.Context, customerID string) (int64, error) {
	return s.revokeForCustomer(ctx, customerID, "", models.RevokeReasonAllSessions)
}

// RevokeAllSessionsWithReason is RevokeAllSessions with a caller supplied reason
func (s *SessionService) RevokeAllSessionsWithReason(ctx context.Context, customerID, reason string) (int64, error) {
	return s.revokeForCustomer(ctx, customerID, "", reason)
}

func (s *SessionService) revokeForCustomer(ctx context.Context, customerID, exceptID, reason string) (int64, error) {
	n, err := s.repo.RevokeForCustomer(ctx, customerID, exceptID, reason)
	if err != nil {
		s.logger.Error("failed to revoke customer sessions",
			slog.String("customer_id", customerID),
			slog.Any("error", err))
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.audit.LogSessionEvent("sessions_revoked", customerID, exceptID, map[string]string{
		"reason": reason,
		"count":  strconv.FormatInt(n, 10),
	})
	return n, nil
}

// ListSessions returns the customer's active sessions, most recently used
// first, with the caller's own session flagged
func (s *SessionService) ListSessions(ctx context.Context, customerID, currentSessionID string) ([]*models.Session, error) {
	sessions, err := s.repo.ListActive(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, session := range sessions {
		session.IsCurrent = session.ID == currentSessionID
	}
	return sessions, nil
}

// Cleanup deletes sessions past their retention windows
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now()
	return s.repo.DeleteStale(ctx,
		now.Add(-s.config.RevokedRetention),
		now.Add(-s.config.IdleTimeout),
		now.Add(-s.config.MaxAge),
	)
}
