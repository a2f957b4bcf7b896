package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var loginAttemptColumns = []string{
	"id", "customer_id", "email", "success", "failure_reason", "ip_address", "user_agent",
	"device_summary", "kind", "triggered_lockout", "consecutive_failures", "attempted_at",
}

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func keyColumn(kind models.TrackingKeyKind) (string, error) {
	switch kind {
	case models.TrackByEmail:
		return "email", nil
	case models.TrackByIP:
		return "ip_address", nil
	}
	return "", fmt.Errorf("unknown tracking key kind %q", kind)
}

func scanLoginAttemptRow(scanner rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	var kind string

	err := scanner.Scan(
		&a.ID, &a.CustomerID, &a.Email, &a.Success, &a.FailureReason, &a.IPAddress, &a.UserAgent,
		&a.DeviceSummary, &kind, &a.TriggeredLockout, &a.ConsecutiveFailures, &a.AttemptedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = models.AttemptKind(kind)
	return &a, nil
}

func latestQuery(key models.TrackingKey, lockoutsOnly bool) (string, []interface{}, error) {
	col, err := keyColumn(key.Kind)
	if err != nil {
		return "", nil, err
	}

	builder := psql.Select(loginAttemptColumns...).
		From("login_attempts").
		Where(sq.Eq{col: key.Value}).
		OrderBy("attempted_at DESC", "id DESC").
		Limit(1)
	if lockoutsOnly {
		builder = builder.Where(sq.Eq{"triggered_lockout": true})
	}

	return builder.ToSql()
}

// Record appends attempt. The key's previous attempt (nil when there is
// none) is handed to streak, which derives the new row's streak snapshot.
// Read and insert happen under one advisory lock so concurrent failures for
// the same key get distinct streak values.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt, key models.TrackingKey, streak func(prev *models.LoginAttempt) (int, bool)) (*models.LoginAttempt, error) {
	prevQuery, prevArgs, err := latestQuery(key, false)
	if err != nil {
		return nil, err
	}

	var recorded *models.LoginAttempt
	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.LockKey(ctx, tx, "login_attempts:"+string(key.Kind)+":"+key.Value); err != nil {
			return err
		}

		prev, err := scanLoginAttemptRow(tx.QueryRow(ctx, prevQuery, prevArgs...))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to read previous attempt: %w", err)
			}
			prev = nil
		}

		attempt.ConsecutiveFailures, attempt.TriggeredLockout = streak(prev)

		insert, args, err := psql.Insert("login_attempts").
			Columns("customer_id", "email", "success", "failure_reason", "ip_address", "user_agent",
				"device_summary", "kind", "triggered_lockout", "consecutive_failures").
			Values(attempt.CustomerID, attempt.Email, attempt.Success, attempt.FailureReason, attempt.IPAddress,
				attempt.UserAgent, attempt.DeviceSummary, string(attempt.Kind), attempt.TriggeredLockout,
				attempt.ConsecutiveFailures).
			Suffix("RETURNING " + strings.Join(loginAttemptColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}

		recorded, err = scanLoginAttemptRow(tx.QueryRow(ctx, insert, args...))
		if err != nil {
			return fmt.Errorf("failed to insert login attempt: %w", database.MapPostgresError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return recorded, nil
}

// Latest returns the most recent attempt for key, or nil if none exists
func (r *LoginAttemptRepository) Latest(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error) {
	return r.latest(ctx, key, false)
}

// LatestLockout returns the most recent attempt for key that triggered a
// lockout, or nil if none exists
func (r *LoginAttemptRepository) LatestLockout(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error) {
	return r.latest(ctx, key, true)
}

func (r *LoginAttemptRepository) latest(ctx context.Context, key models.TrackingKey, lockoutsOnly bool) (*models.LoginAttempt, error) {
	query, args, err := latestQuery(key, lockoutsOnly)
	if err != nil {
		return nil, err
	}

	attempt, err := scanLoginAttemptRow(r.db.Pool.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// CountFailuresSinceSuccess counts failed attempts for key after its most
// recent success. Attempts refused by a lockout are not counted.
func (r *LoginAttemptRepository) CountFailuresSinceSuccess(ctx context.Context, key models.TrackingKey) (int, error) {
	col, err := keyColumn(key.Kind)
	if err != nil {
		return 0, err
	}

	lastSuccess := psql.Select("MAX(attempted_at)").
		From("login_attempts").
		Where(sq.Eq{col: key.Value, "success": true})

	query, args, err := psql.Select("COUNT(*)").
		From("login_attempts").
		Where(sq.Eq{col: key.Value, "success": false}).
		Where(sq.Expr("failure_reason IS DISTINCT FROM ?", models.FailureAccountLocked)).
		Where(sq.Expr("attempted_at > COALESCE((?), '-infinity'::timestamptz)", lastSuccess)).
		ToSql()
	if err != nil {
		return 0, err
	}

	var n int
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return n, nil
}

// DeleteBefore removes attempts older than cutoff
func (r *LoginAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("login_attempts").Where(sq.Lt{"attempted_at": cutoff}).ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
