package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/device"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// LoginAttemptRepository defines the persistence operations for the attempt log
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt, key models.TrackingKey, streak func(prev *models.LoginAttempt) (int, bool)) (*models.LoginAttempt, error)
	CountFailuresSinceSuccess(ctx context.Context, key models.TrackingKey) (int, error)
	Latest(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error)
	LatestLockout(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptConfig holds lockout thresholds and backoff
type LoginAttemptConfig struct {
	Threshold   int
	Duration    time.Duration
	TrackBy     models.TrackingKeyKind
	Multiplier  float64       // e.g. 1.5x for each further lockout in a streak
	MaxDuration time.Duration // cap on a single lockout
	Retention   time.Duration
}

// LoginAttemptService records login outcomes and derives lockouts from them
type LoginAttemptService struct {
	repo   LoginAttemptRepository
	config LoginAttemptConfig
	audit  *logger.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewLoginAttemptService creates a new LoginAttemptService
func NewLoginAttemptService(repo LoginAttemptRepository, config LoginAttemptConfig, logger *slog.Logger) *LoginAttemptService {
	if config.TrackBy == "" {
		config.TrackBy = models.TrackByEmail
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &LoginAttemptService{
		repo:   repo,
		config: config,
		audit:  newAuditLogger(logger),
		logger: logger,
		now:    time.Now,
	}
}

// RecordAttempt appends an attempt to the log. Every Threshold-th
// consecutive failure for the tracking key triggers a lockout. Attempts
// refused by a lockout are appended with the streak carried over unchanged.
func (s *LoginAttemptService) RecordAttempt(ctx context.Context, in models.LoginAttemptInput) (*models.LoginAttempt, error) {
	email := normalizeEmail(in.Email)
	if in.Locked {
		in.Success = false
		in.FailureReason = models.FailureAccountLocked
	}

	attempt := &models.LoginAttempt{
		CustomerID:    in.CustomerID,
		Email:         email,
		Success:       in.Success,
		FailureReason: optionalString(in.FailureReason),
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
		DeviceSummary: device.Parse(in.UserAgent).Summary(),
		Kind:          models.AttemptLogin,
	}
	if in.Success {
		attempt.FailureReason = nil
	}

	streak := s.nextStreak(in.Success)
	if in.Locked {
		streak = carryStreak
	}

	recorded, err := s.repo.Record(ctx, attempt, s.keyFor(email, in.IPAddress), streak)
	if err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}

	if recorded.TriggeredLockout {
		until := recorded.AttemptedAt.Add(s.lockoutDuration(recorded.ConsecutiveFailures))
		s.audit.LogLockout("lockout_triggered", email, in.IPAddress, &until)
	}
	return recorded, nil
}

// LockoutStatus derives the lockout state of an email address. Lockouts are
// only imposed on the configured tracking key, so when streaks are tracked by
// IP the result carries this email's own failure count and is never locked.
func (s *LoginAttemptService) LockoutStatus(ctx context.Context, email string) (*models.LockoutStatus, error) {
	return s.statusFor(ctx, models.TrackingKey{Kind: models.TrackByEmail, Value: normalizeEmail(email)})
}

// LockoutStatusByIP derives the lockout state of a client address. As with
// LockoutStatus, an address is only ever locked when streaks are tracked by IP.
func (s *LoginAttemptService) LockoutStatusByIP(ctx context.Context, ipAddress string) (*models.LockoutStatus, error) {
	return s.statusFor(ctx, models.TrackingKey{Kind: models.TrackByIP, Value: ipAddress})
}

func (s *LoginAttemptService) statusFor(ctx context.Context, key models.TrackingKey) (*models.LockoutStatus, error) {
	if key.Kind == s.config.TrackBy {
		return s.status(ctx, key)
	}

	// Stored streaks belong to the other key
	n, err := s.repo.CountFailuresSinceSuccess(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	return &models.LockoutStatus{ConsecutiveFailures: n}, nil
}

// Check returns the status for whichever key the tracking policy uses
func (s *LoginAttemptService) Check(ctx context.Context, email, ipAddress string) (*models.LockoutStatus, error) {
	return s.status(ctx, s.keyFor(normalizeEmail(email), ipAddress))
}

// ClearLockout resets the streak for the key by appending an unlock row
func (s *LoginAttemptService) ClearLockout(ctx context.Context, email, ipAddress string) error {
	email = normalizeEmail(email)
	attempt := &models.LoginAttempt{
		Email:         email,
		Success:       true,
		IPAddress:     ipAddress,
		DeviceSummary: device.UnknownName,
		Kind:          models.AttemptUnlock,
	}

	if _, err := s.repo.Record(ctx, attempt, s.keyFor(email, ipAddress), s.nextStreak(true)); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}

	s.audit.LogLockout("lockout_cleared", email, ipAddress, nil)
	return nil
}

// Cleanup deletes attempts older than the retention period
func (s *LoginAttemptService) Cleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteBefore(ctx, s.now().Add(-s.config.Retention))
}

func (s *LoginAttemptService) status(ctx context.Context, key models.TrackingKey) (*models.LockoutStatus, error) {
	status := &models.LockoutStatus{}

	latest, err := s.repo.Latest(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest attempt: %w", err)
	}
	if latest == nil || latest.Success {
		return status, nil
	}

	status.ConsecutiveFailures = latest.ConsecutiveFailures
	if latest.ConsecutiveFailures < s.config.Threshold {
		return status, nil
	}

	trigger, err := s.repo.LatestLockout(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest lockout: %w", err)
	}
	if trigger == nil {
		return status, nil
	}

	end := trigger.AttemptedAt.Add(s.lockoutDuration(trigger.ConsecutiveFailures))
	now := s.now()
	if now.Before(end) {
		status.IsLocked = true
		status.LockoutEndTime = &end
		status.RemainingTime = end.Sub(now)
	}
	return status, nil
}

// nextStreak builds the callback the repository runs against the key's
// previous attempt
func (s *LoginAttemptService) nextStreak(success bool) func(prev *models.LoginAttempt) (int, bool) {
	return func(prev *models.LoginAttempt) (int, bool) {
		if success {
			return 0, false
		}
		n := 1
		if prev != nil && !prev.Success {
			n = prev.ConsecutiveFailures + 1
		}
		return n, n%s.config.Threshold == 0
	}
}

// carryStreak keeps the previous streak for attempts made while locked out
func carryStreak(prev *models.LoginAttempt) (int, bool) {
	if prev == nil || prev.Success {
		return 0, false
	}
	return prev.ConsecutiveFailures, false
}

// lockoutDuration uses progressive backoff: base, base*m, base*m^2, ...
// capped at MaxDuration. failures is the streak length at the trigger.
func (s *LoginAttemptService) lockoutDuration(failures int) time.Duration {
	cycle := failures / s.config.Threshold
	if cycle < 1 {
		cycle = 1
	}

	d := time.Duration(float64(s.config.Duration) * math.Pow(s.config.Multiplier, float64(cycle-1)))
	if s.config.MaxDuration > 0 && (d > s.config.MaxDuration || d < 0) {
		d = s.config.MaxDuration
	}
	return d
}

func (s *LoginAttemptService) keyFor(email, ipAddress string) models.TrackingKey {
	if s.config.TrackBy == models.TrackByIP {
		return models.TrackingKey{Kind: models.TrackByIP, Value: ipAddress}
	}
	return models.TrackingKey{Kind: models.TrackByEmail, Value: email}
}
