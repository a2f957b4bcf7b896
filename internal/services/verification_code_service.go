package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/logger"
)

const codeLength = 6

var codeSpace = big.NewInt(1_000_000)

// VerificationCodeRepository defines the persistence operations for one-time codes
type VerificationCodeRepository interface {
	ReplaceActive(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error)
	FindActive(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error)
	RecordAttempt(ctx context.Context, id, submitted string, consume bool) (*models.CodeAttemptResult, error)
	ConsumeMatching(ctx context.Context, email string, purpose models.CodePurpose, submitted string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// VerificationCodeConfig holds lifetime and attempt limits for codes
type VerificationCodeConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	Retention      time.Duration
}

// VerificationCodeService issues and checks six digit codes scoped to an
// email address and a purpose
type VerificationCodeService struct {
	repo   VerificationCodeRepository
	config VerificationCodeConfig
	audit  *logger.AuditLogger
	logger *slog.Logger
}

// NewVerificationCodeService creates a new VerificationCodeService
func NewVerificationCodeService(repo VerificationCodeRepository, config VerificationCodeConfig, logger *slog.Logger) *VerificationCodeService {
	return &VerificationCodeService{
		repo:   repo,
		config: config,
		audit:  newAuditLogger(logger),
		logger: logger,
	}
}

// GenerateCode returns a uniformly random zero-padded six digit string
func (s *VerificationCodeService) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CreateCode replaces any unused code for (email, purpose) with a fresh one
// and returns its plaintext digits
func (s *VerificationCodeService) CreateCode(ctx context.Context, email string, purpose models.CodePurpose, ipAddress string) (string, error) {
	if !purpose.Valid() {
		return "", models.ErrInvalidPurpose
	}
	email = normalizeEmail(email)

	digits, err := s.GenerateCode()
	if err != nil {
		return "", err
	}

	code := &models.VerificationCode{
		Email:       email,
		Code:        digits,
		Purpose:     purpose,
		MaxAttempts: s.config.MaxAttempts,
		ExpiresAt:   time.Now().Add(s.config.TTL),
		IPAddress:   optionalString(ipAddress),
	}

	if _, err := s.repo.ReplaceActive(ctx, code); err != nil {
		s.logger.Error("failed to store verification code",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("purpose", string(purpose)),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to create verification code: %w", err)
	}

	s.audit.LogCodeEvent("code_issued", email, string(purpose), ipAddress, true, "")
	return digits, nil
}

// IssueCode is CreateCode with a resend cooldown per (email, purpose)
func (s *VerificationCodeService) IssueCode(ctx context.Context, email string, purpose models.CodePurpose, ipAddress string) (string, error) {
	if !purpose.Valid() {
		return "", models.ErrInvalidPurpose
	}
	email = normalizeEmail(email)

	if s.config.ResendCooldown > 0 {
		active, err := s.repo.FindActive(ctx, email, purpose)
		switch {
		case err == nil:
			if time.Since(active.CreatedAt) < s.config.ResendCooldown {
				s.audit.LogCodeEvent("code_throttled", email, string(purpose), ipAddress, false, "resend_cooldown")
				return "", models.ErrCodeRequestThrottled
			}
		case !errors.Is(err, models.ErrNotFound):
			return "", fmt.Errorf("failed to check active code: %w", err)
		}
	}

	return s.CreateCode(ctx, email, purpose, ipAddress)
}

// ValidateCode spends one attempt against the active code for (email,
// purpose). Matching codes are consumed, except password reset codes which
// stay live until ConsumeCode.
func (s *VerificationCodeService) ValidateCode(ctx context.Context, email, submitted string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	if !purpose.Valid() {
		return nil, models.ErrInvalidPurpose
	}
	if !validCodeFormat(submitted) {
		return nil, models.ErrInvalidCodeFormat
	}
	email = normalizeEmail(email)

	code, err := s.findActive(ctx, email, purpose)
	if err != nil {
		return nil, err
	}
	if code.AttemptsExhausted() {
		s.audit.LogCodeEvent("code_rejected", email, string(purpose), "", false, "max_attempts")
		return nil, models.ErrMaxAttemptsExceeded
	}

	res, err := s.repo.RecordAttempt(ctx, code.ID, submitted, purpose.ConsumedOnValidation())
	if errors.Is(err, models.ErrNotFound) {
		// Lost a race with another guess, a replacement or expiry
		return nil, s.raceOutcome(ctx, email, purpose)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record code attempt: %w", err)
	}

	if !res.Matched {
		if res.Attempts >= res.MaxAttempts {
			s.audit.LogCodeEvent("code_rejected", email, string(purpose), "", false, "max_attempts")
			return nil, models.ErrMaxAttemptsExceeded
		}
		s.audit.LogCodeEvent("code_rejected", email, string(purpose), "", false, "mismatch")
		return nil, models.ErrInvalidCode
	}

	code.Attempts = res.Attempts
	if purpose.ConsumedOnValidation() {
		now := time.Now()
		code.IsUsed = true
		code.UsedAt = &now
	}

	s.audit.LogCodeEvent("code_validated", email, string(purpose), "", true, "")
	return code, nil
}

// ConsumeCode marks a matching active code used
func (s *VerificationCodeService) ConsumeCode(ctx context.Context, email, submitted string, purpose models.CodePurpose) error {
	if !purpose.Valid() {
		return models.ErrInvalidPurpose
	}
	if !validCodeFormat(submitted) {
		return models.ErrInvalidCodeFormat
	}
	email = normalizeEmail(email)

	err := s.repo.ConsumeMatching(ctx, email, purpose, submitted)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	return nil
}

// Cleanup deletes codes that expired or were used more than the retention
// period ago
func (s *VerificationCodeService) Cleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now().Add(-s.config.Retention))
}

func (s *VerificationCodeService) findActive(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	code, err := s.repo.FindActive(ctx, email, purpose)
	if errors.Is(err, models.ErrNotFound) {
		s.audit.LogCodeEvent("code_rejected", email, string(purpose), "", false, "not_found")
		return nil, models.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification code: %w", err)
	}
	return code, nil
}

func (s *VerificationCodeService) raceOutcome(ctx context.Context, email string, purpose models.CodePurpose) error {
	code, err := s.findActive(ctx, email, purpose)
	if err != nil {
		return err
	}
	if code.AttemptsExhausted() {
		return models.ErrMaxAttemptsExceeded
	}
	return models.ErrCodeNotFound
}

func validCodeFormat(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newAuditLogger(l *slog.Logger) *logger.AuditLogger {
	return logger.NewAuditLogger(l.With(slog.String("component", "audit")))
}
