package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/logger"
)

const notificationTimeout = 30 * time.Second

// CustomerRepository is the view of the customer table the account flows need
type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// ClientMeta describes the client behind a request
type ClientMeta struct {
	IPAddress string
	UserAgent string
	Geo       *models.GeoHint
}

// AccountConfig holds policy switches for the account flows
type AccountConfig struct {
	RequireVerifiedEmail bool
}

// LoginResult is returned on successful authentication
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	CustomerID  string    `json:"customer_id"`
}

// AccountService sequences the security primitives for each account flow.
// Flows reachable without a session never reveal whether an email is
// registered.
type AccountService struct {
	customers CustomerRepository
	codes     *VerificationCodeService
	sessions  *SessionService
	passwords *PasswordPolicyService
	attempts  *LoginAttemptService
	notifier  Notifier
	tokens    *auth.TokenManager
	timing    *auth.TimingDelay
	config    AccountConfig
	audit     *logger.AuditLogger
	logger    *slog.Logger

	notifications sync.WaitGroup
}

// NewAccountService creates a new AccountService
func NewAccountService(
	customers CustomerRepository,
	codes *VerificationCodeService,
	sessions *SessionService,
	passwords *PasswordPolicyService,
	attempts *LoginAttemptService,
	notifier Notifier,
	tokens *auth.TokenManager,
	timing *auth.TimingDelay,
	config AccountConfig,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		customers: customers,
		codes:     codes,
		sessions:  sessions,
		passwords: passwords,
		attempts:  attempts,
		notifier:  notifier,
		tokens:    tokens,
		timing:    timing,
		config:    config,
		audit:     newAuditLogger(logger),
		logger:    logger,
	}
}

// Login checks lockout and credentials, then opens a session bound to a
// freshly minted token
func (s *AccountService) Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	start := time.Now()
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	status, err := s.attempts.Check(ctx, email, meta.IPAddress)
	if err != nil {
		return nil, err
	}
	if status.IsLocked {
		if _, err := s.attempts.RecordAttempt(ctx, models.LoginAttemptInput{
			Email:     email,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Locked:    true,
		}); err != nil {
			s.logger.Warn("failed to record locked login attempt", slog.Any("error", err))
		}
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login_failed",
			Email:         email,
			IPAddress:     meta.IPAddress,
			FailureReason: models.FailureAccountLocked,
		})
		s.timing.WaitFrom(start, false)
		return nil, &models.LockedOutError{Until: *status.LockoutEndTime, RetryAfter: status.RemainingTime}
	}

	customer, err := s.customers.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get customer by email", slog.Any("error", err))
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	if customer == nil || !customer.CanSignIn() {
		// Same bcrypt work as a real comparison
		_ = pkgauth.ComparePassword(pkgauth.DummyHash, password)
		reason := models.FailureUnknownAccount
		var customerID *string
		if customer != nil {
			reason = models.FailureAccountDisabled
			customerID = &customer.ID
		}
		return nil, s.loginFailed(ctx, start, email, reason, customerID, meta)
	}

	if err := pkgauth.ComparePassword(customer.PasswordHash, password); err != nil {
		return nil, s.loginFailed(ctx, start, email, models.FailureInvalidCredentials, &customer.ID, meta)
	}

	// The password was right, so the streak resets even when the login is
	// refused for an unverified address
	if _, err := s.attempts.RecordAttempt(ctx, models.LoginAttemptInput{
		Email:      email,
		Success:    true,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		CustomerID: &customer.ID,
	}); err != nil {
		return nil, err
	}

	if s.config.RequireVerifiedEmail && !customer.EmailVerified {
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login_failed",
			CustomerID:    customer.ID,
			IPAddress:     meta.IPAddress,
			FailureReason: models.FailureEmailNotVerified,
		})
		return nil, models.ErrEmailNotVerified
	}

	sessionID, err := s.sessions.CreateSession(ctx, models.NewSessionInput{
		CustomerID: customer.ID,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		Geo:        meta.Geo,
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(customer.ID, customer.Email, sessionID)
	if err != nil {
		s.abandonSession(ctx, sessionID)
		return nil, err
	}

	if err := s.sessions.SetTokenHash(ctx, sessionID, token); err != nil {
		s.abandonSession(ctx, sessionID)
		return nil, err
	}

	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType:  "login_success",
		CustomerID: customer.ID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Success:    true,
	})

	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		SessionID:   sessionID,
		CustomerID:  customer.ID,
	}, nil
}

func (s *AccountService) loginFailed(ctx context.Context, start time.Time, email, reason string, customerID *string, meta ClientMeta) error {
	recorded, err := s.attempts.RecordAttempt(ctx, models.LoginAttemptInput{
		Email:         email,
		Success:       false,
		FailureReason: reason,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CustomerID:    customerID,
	})
	if err != nil {
		return err
	}

	event := logger.AuditEvent{
		EventType:     "login_failed",
		Email:         email,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		FailureReason: reason,
	}
	if customerID != nil {
		event.CustomerID = *customerID
	}
	s.audit.LogAuthAttempt(event)
	s.timing.WaitFrom(start, false)

	if recorded.TriggeredLockout {
		status, err := s.attempts.Check(ctx, email, meta.IPAddress)
		if err == nil && status.IsLocked {
			return &models.LockedOutError{Until: *status.LockoutEndTime, RetryAfter: status.RemainingTime}
		}
	}
	return models.ErrInvalidCredentials
}

func (s *AccountService) abandonSession(ctx context.Context, sessionID string) {
	if err := s.sessions.RevokeSession(ctx, sessionID, models.RevokeReasonCredentialError); err != nil {
		s.logger.Error("failed to revoke half-built session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

// Logout ends the caller's session
func (s *AccountService) Logout(ctx context.Context, p *models.Principal) error {
	return s.sessions.RevokeSession(ctx, p.SessionID, models.RevokeReasonLogout)
}

// RevokeSession ends one of the caller's sessions. Sessions of other
// customers look exactly like missing ones.
func (s *AccountService) RevokeSession(ctx context.Context, p *models.Principal, sessionID string) error {
	session, err := s.sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CustomerID != p.CustomerID {
		return models.ErrSessionNotFound
	}
	return s.sessions.RevokeSession(ctx, sessionID, models.RevokeReasonUserRevoked)
}

// ForgotPassword sends a reset code when the email belongs to a customer who
// can sign in. It always succeeds and always takes about the same time.
func (s *AccountService) ForgotPassword(ctx context.Context, email string, meta ClientMeta) error {
	start := time.Now()
	defer s.timing.Pad(ctx, start)

	s.issueIfEligible(ctx, normalizeEmail(email), models.PurposePasswordReset, meta, func(c *models.Customer) bool {
		return c.CanSignIn()
	})
	return nil
}

// VerifyResetCode checks a reset code without consuming it
func (s *AccountService) VerifyResetCode(ctx context.Context, email, code string) error {
	_, err := s.codes.ValidateCode(ctx, email, code, models.PurposePasswordReset)
	return err
}

// ResetPassword stores a new password for the owner of a valid reset code
// and signs out every session
func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string, meta ClientMeta) (*models.PasswordValidationResult, error) {
	email = normalizeEmail(email)

	if _, err := s.codes.ValidateCode(ctx, email, code, models.PurposePasswordReset); err != nil {
		return nil, err
	}

	customer, err := s.customers.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	result, err := s.passwords.Validate(ctx, newPassword, passwordContext(customer))
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return result, err
	}

	// Consuming first makes the code single-use even under concurrent resets
	if err := s.codes.ConsumeCode(ctx, email, code, models.PurposePasswordReset); err != nil {
		return nil, err
	}

	if err := s.storePassword(ctx, customer, newPassword, meta.IPAddress, models.PasswordChangeReset); err != nil {
		return nil, err
	}

	if _, err := s.sessions.RevokeAllSessionsWithReason(ctx, customer.ID, models.RevokeReasonPasswordReset); err != nil {
		s.logger.Error("failed to revoke sessions after password reset",
			slog.String("customer_id", customer.ID),
			slog.Any("error", err))
	}

	// Proving control of the mailbox also lifts a lockout
	if err := s.attempts.ClearLockout(ctx, email, meta.IPAddress); err != nil {
		s.logger.Warn("failed to clear lockout after password reset", slog.Any("error", err))
	}

	s.notify(ctx, func(ctx context.Context) error {
		return s.notifier.SendPasswordChanged(ctx, customer.Email)
	})
	return result, nil
}

// ChangePassword replaces the caller's password and signs out their other sessions
func (s *AccountService) ChangePassword(ctx context.Context, p *models.Principal, currentPassword, newPassword string, meta ClientMeta) (*models.PasswordValidationResult, error) {
	customer, err := s.customers.GetByID(ctx, p.CustomerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	if customer.PasswordHash == "" || pkgauth.ComparePassword(customer.PasswordHash, currentPassword) != nil {
		s.audit.LogPasswordChange(customer.ID, meta.IPAddress, models.PasswordChangeUser, false)
		return nil, models.ErrInvalidCredentials
	}

	result, err := s.passwords.Validate(ctx, newPassword, passwordContext(customer))
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return result, err
	}

	if err := s.storePassword(ctx, customer, newPassword, meta.IPAddress, models.PasswordChangeUser); err != nil {
		return nil, err
	}

	if _, err := s.sessions.revokeForCustomer(ctx, customer.ID, p.SessionID, models.RevokeReasonPasswordChanged); err != nil {
		s.logger.Error("failed to revoke other sessions after password change",
			slog.String("customer_id", customer.ID),
			slog.Any("error", err))
	}

	s.notify(ctx, func(ctx context.Context) error {
		return s.notifier.SendPasswordChanged(ctx, customer.Email)
	})
	return result, nil
}

func (s *AccountService) storePassword(ctx context.Context, customer *models.Customer, password, ipAddress, reason string) error {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	if err := s.customers.UpdatePasswordHash(ctx, customer.ID, hash); err != nil {
		s.logger.Error("failed to update password hash",
			slog.String("customer_id", customer.ID),
			slog.Any("error", err))
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.passwords.RecordPasswordChange(ctx, customer.ID, hash, ipAddress, reason); err != nil {
		s.logger.Error("failed to record password history",
			slog.String("customer_id", customer.ID),
			slog.Any("error", err))
	}

	s.audit.LogPasswordChange(customer.ID, ipAddress, reason, true)
	return nil
}

// SendEmailVerification sends a verification code to an unverified
// registered address. It always succeeds.
func (s *AccountService) SendEmailVerification(ctx context.Context, email string, meta ClientMeta) error {
	start := time.Now()
	defer s.timing.Pad(ctx, start)

	s.issueIfEligible(ctx, normalizeEmail(email), models.PurposeEmailVerification, meta, func(c *models.Customer) bool {
		return !c.IsGuest && !c.EmailVerified
	})
	return nil
}

// ConfirmEmail marks the address verified when the code matches
func (s *AccountService) ConfirmEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	if _, err := s.codes.ValidateCode(ctx, email, code, models.PurposeEmailVerification); err != nil {
		return err
	}

	customer, err := s.customers.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load customer: %w", err)
	}

	if err := s.customers.MarkEmailVerified(ctx, customer.ID); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// RequestUnlock sends an unlock code when the account is currently locked.
// It always succeeds.
func (s *AccountService) RequestUnlock(ctx context.Context, email string, meta ClientMeta) error {
	start := time.Now()
	defer s.timing.Pad(ctx, start)

	email = normalizeEmail(email)
	status, err := s.attempts.Check(ctx, email, meta.IPAddress)
	if err != nil {
		s.logger.Error("failed to check lockout for unlock request", slog.Any("error", err))
		return nil
	}
	if !status.IsLocked {
		return nil
	}

	s.issueIfEligible(ctx, email, models.PurposeAccountUnlock, meta, func(c *models.Customer) bool {
		return c.CanSignIn()
	})
	return nil
}

// ConfirmUnlock lifts the lockout when the unlock code matches
func (s *AccountService) ConfirmUnlock(ctx context.Context, email, code string, meta ClientMeta) error {
	if _, err := s.codes.ValidateCode(ctx, email, code, models.PurposeAccountUnlock); err != nil {
		return err
	}
	return s.attempts.ClearLockout(ctx, email, meta.IPAddress)
}

// CheckPassword evaluates a candidate password without storing anything
func (s *AccountService) CheckPassword(ctx context.Context, password string, pc models.PasswordContext) (*models.PasswordValidationResult, error) {
	return s.passwords.Validate(ctx, password, pc)
}

// ListSessions returns the caller's active sessions
func (s *AccountService) ListSessions(ctx context.Context, p *models.Principal) ([]*models.Session, error) {
	return s.sessions.ListSessions(ctx, p.CustomerID, p.SessionID)
}

// RevokeOtherSessions signs out every session but the caller's
func (s *AccountService) RevokeOtherSessions(ctx context.Context, p *models.Principal) (int64, error) {
	return s.sessions.RevokeOtherSessions(ctx, p.CustomerID, p.SessionID)
}

// RevokeAllSessions signs out every session including the caller's
func (s *AccountService) RevokeAllSessions(ctx context.Context, p *models.Principal) (int64, error) {
	return s.sessions.RevokeAllSessions(ctx, p.CustomerID)
}

// issueIfEligible issues a code and notifies when the address belongs to a
// customer accepted by eligible. Every outcome is silent to the caller.
func (s *AccountService) issueIfEligible(ctx context.Context, email string, purpose models.CodePurpose, meta ClientMeta, eligible func(*models.Customer) bool) {
	if email == "" {
		return
	}

	customer, err := s.customers.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up customer for code request",
				slog.String("purpose", string(purpose)),
				slog.Any("error", err))
		}
		return
	}
	if !eligible(customer) {
		return
	}

	code, err := s.codes.IssueCode(ctx, email, purpose, meta.IPAddress)
	if err != nil {
		if !models.IsExpected(err) {
			s.logger.Error("failed to issue code",
				slog.String("purpose", string(purpose)),
				slog.Any("error", err))
		}
		return
	}

	expiresAt := time.Now().Add(s.codes.config.TTL)
	s.notify(ctx, func(ctx context.Context) error {
		return s.notifier.SendCode(ctx, customer.Email, purpose, code, expiresAt)
	})
}

// notify runs send in the background. Delivery failures are logged only.
func (s *AccountService) notify(ctx context.Context, send func(ctx context.Context) error) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			s.logger.Error("failed to send notification", slog.Any("error", err))
		}
	}()
}

// WaitForNotifications blocks until queued notifications finish
func (s *AccountService) WaitForNotifications() {
	s.notifications.Wait()
}

func passwordContext(c *models.Customer) models.PasswordContext {
	return models.PasswordContext{
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		CustomerID: c.ID,
	}
}
