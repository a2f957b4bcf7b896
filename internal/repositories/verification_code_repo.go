package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

const verificationCodeColumns = `id, email, code, type, attempts, max_attempts, expires_at, is_used, used_at, ip_address, created_at`

// VerificationCodeRepository handles database operations for verification codes
type VerificationCodeRepository struct {
	db *database.DB
}

func NewVerificationCodeRepository(db *database.DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{db: db}
}

func scanVerificationCodeRow(scanner rowScanner) (*models.VerificationCode, error) {
	var c models.VerificationCode
	var purpose string

	err := scanner.Scan(
		&c.ID, &c.Email, &c.Code, &purpose, &c.Attempts, &c.MaxAttempts,
		&c.ExpiresAt, &c.IsUsed, &c.UsedAt, &c.IPAddress, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	c.Purpose = models.CodePurpose(purpose)
	return &c, nil
}

// ReplaceActive retires every unused code for (email, purpose) and inserts
// code in the same transaction. The advisory lock serialises concurrent
// replacements for the pair so at most one unused code survives.
func (r *VerificationCodeRepository) ReplaceActive(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error) {
	var created *models.VerificationCode

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.LockKey(ctx, tx, "verification_code:"+code.Email+":"+string(code.Purpose)); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE verification_codes
			SET is_used = TRUE, used_at = NOW()
			WHERE email = $1 AND type = $2 AND is_used = FALSE
		`, code.Email, string(code.Purpose))
		if err != nil {
			return fmt.Errorf("failed to invalidate previous codes: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO verification_codes (email, code, type, max_attempts, expires_at, ip_address)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+verificationCodeColumns,
			code.Email, code.Code, string(code.Purpose), code.MaxAttempts, code.ExpiresAt, code.IPAddress,
		)
		created, err = scanVerificationCodeRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// FindActive returns the newest unused, unexpired code for (email, purpose).
// Codes that have run out of attempts are still returned.
func (r *VerificationCodeRepository) FindActive(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	query := `
		SELECT ` + verificationCodeColumns + `
		FROM verification_codes
		WHERE email = $1 AND type = $2 AND is_used = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanVerificationCodeRow(r.db.Pool.QueryRow(ctx, query, email, string(purpose)))
}

// RecordAttempt compares submitted against the stored digits and applies the
// outcome in a single conditional UPDATE: a mismatch increments attempts, a
// match marks the code used when consume is set. Rows that are used,
// expired or out of attempts are not touched and yield ErrNotFound.
func (r *VerificationCodeRepository) RecordAttempt(ctx context.Context, id, submitted string, consume bool) (*models.CodeAttemptResult, error) {
	query := `
		UPDATE verification_codes
		SET attempts = CASE WHEN code = $2 THEN attempts ELSE attempts + 1 END,
		    is_used  = CASE WHEN code = $2 AND $3::boolean THEN TRUE ELSE is_used END,
		    used_at  = CASE WHEN code = $2 AND $3::boolean THEN NOW() ELSE used_at END
		WHERE id = $1 AND is_used = FALSE AND attempts < max_attempts AND expires_at > NOW()
		RETURNING code = $2, attempts, max_attempts
	`

	var res models.CodeAttemptResult
	err := r.db.Pool.QueryRow(ctx, query, id, submitted, consume).Scan(&res.Matched, &res.Attempts, &res.MaxAttempts)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &res, nil
}

// ConsumeMatching marks the active code for (email, purpose) used if its
// digits equal submitted and it still has attempts left.
func (r *VerificationCodeRepository) ConsumeMatching(ctx context.Context, email string, purpose models.CodePurpose, submitted string) error {
	query := `
		UPDATE verification_codes
		SET is_used = TRUE, used_at = NOW()
		WHERE email = $1 AND type = $2 AND code = $3
		  AND is_used = FALSE AND attempts < max_attempts AND expires_at > NOW()
	`

	tag, err := r.db.Pool.Exec(ctx, query, email, string(purpose), submitted)
	if err != nil {
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes codes that expired, or were used, before cutoff
func (r *VerificationCodeRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM verification_codes
		WHERE expires_at < $1 OR (is_used = TRUE AND used_at < $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
