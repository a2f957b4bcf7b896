package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
)

// PasswordHistoryRepository defines the persistence operations for past password hashes
type PasswordHistoryRepository interface {
	Append(ctx context.Context, entry *models.PasswordHistoryEntry) error
	Recent(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error)
	PruneBeyond(ctx context.Context, keep int) (int64, error)
}

// PasswordPolicyConfig holds the thresholds every candidate password is checked against
type PasswordPolicyConfig struct {
	MinLength    int
	MaxLength    int
	MinScore     int
	HistoryDepth int
}

// PasswordPolicyService checks candidate passwords for length, strength,
// breach exposure and reuse
type PasswordPolicyService struct {
	history PasswordHistoryRepository
	breach  *BreachChecker // nil disables the breach check
	config  PasswordPolicyConfig
	logger  *slog.Logger
}

// NewPasswordPolicyService creates a new PasswordPolicyService
func NewPasswordPolicyService(history PasswordHistoryRepository, breach *BreachChecker, config PasswordPolicyConfig, logger *slog.Logger) *PasswordPolicyService {
	return &PasswordPolicyService{
		history: history,
		breach:  breach,
		config:  config,
		logger:  logger,
	}
}

// Validate runs every policy check in order and collects the failures. The
// only error returned is a storage failure while loading password history.
func (s *PasswordPolicyService) Validate(ctx context.Context, password string, pc models.PasswordContext) (*models.PasswordValidationResult, error) {
	result := &models.PasswordValidationResult{
		Errors:      []string{},
		Suggestions: []string{},
	}

	length := utf8.RuneCountInString(password)
	if length < s.config.MinLength {
		result.Errors = append(result.Errors, fmt.Sprintf("Password must be at least %d characters", s.config.MinLength))
	}
	if length > s.config.MaxLength {
		// zxcvbn cost grows faster than linearly with length
		result.Errors = append(result.Errors, fmt.Sprintf("Password must be at most %d characters", s.config.MaxLength))
	} else {
		strength := zxcvbn.PasswordStrength(password, userInputs(pc))
		result.Score = strength.Score
		result.CrackTimeEstimate = strength.CrackTimeDisplay
		result.Warning, result.Suggestions = strengthFeedback(strength.Score, strength.MatchSequence)
		if strength.Score < s.config.MinScore {
			result.Errors = append(result.Errors, "Password is too weak")
		}
	}

	if s.breach != nil {
		count, err := s.breach.Count(ctx, password)
		if err != nil {
			s.logger.Warn("breach check skipped", slog.Any("error", err))
			result.BreachCheckSkipped = true
		} else if count > 0 {
			result.IsBreached = true
			result.BreachCount = count
			result.Errors = append(result.Errors, "This password has appeared in a data breach")
		}
	}

	if pc.CustomerID != "" && s.config.HistoryDepth > 0 {
		reused, err := s.isReused(ctx, pc.CustomerID, password)
		if err != nil {
			return nil, err
		}
		if reused {
			result.IsReused = true
			result.Errors = append(result.Errors, fmt.Sprintf("Password must not match any of your last %d passwords", s.config.HistoryDepth))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}

func (s *PasswordPolicyService) isReused(ctx context.Context, customerID, password string) (bool, error) {
	entries, err := s.history.Recent(ctx, customerID, s.config.HistoryDepth)
	if err != nil {
		s.logger.Error("failed to load password history",
			slog.String("customer_id", customerID),
			slog.Any("error", err))
		return false, fmt.Errorf("failed to load password history: %w", err)
	}
	for _, entry := range entries {
		if auth.ComparePassword(entry.PasswordHash, password) == nil {
			return true, nil
		}
	}
	return false, nil
}

// RecordPasswordChange appends the new hash to the customer's history
func (s *PasswordPolicyService) RecordPasswordChange(ctx context.Context, customerID, passwordHash, ipAddress, reason string) error {
	entry := &models.PasswordHistoryEntry{
		CustomerID:   customerID,
		PasswordHash: passwordHash,
		ChangedByIP:  optionalString(ipAddress),
		ChangeReason: optionalString(reason),
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record password change: %w", err)
	}
	return nil
}

// PruneHistory keeps only the newest HistoryDepth entries per customer
func (s *PasswordPolicyService) PruneHistory(ctx context.Context) (int64, error) {
	if s.config.HistoryDepth <= 0 {
		return 0, nil
	}
	return s.history.PruneBeyond(ctx, s.config.HistoryDepth)
}

// CleanupBreachCache drops expired breach ranges
func (s *PasswordPolicyService) CleanupBreachCache(ctx context.Context) (int64, error) {
	if s.breach == nil {
		return 0, nil
	}
	return s.breach.Cleanup(ctx)
}

func userInputs(pc models.PasswordContext) []string {
	inputs := make([]string, 0, 4)
	if email := normalizeEmail(pc.Email); email != "" {
		inputs = append(inputs, email)
		if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}
	for _, name := range []string{pc.FirstName, pc.LastName} {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			inputs = append(inputs, name)
		}
	}
	return inputs
}
