package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const sessionColumns = `id, customer_id, device_name, device_type, device_browser, browser_version,
	os_name, os_version, ip_address, ip_city, ip_country, token_hash,
	login_at, last_activity_at, is_active, revoked_at, revoke_reason`

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (customer_id, device_name, device_type, device_browser, browser_version,
			os_name, os_version, ip_address, ip_city, ip_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + sessionColumns

	var created models.Session
	err := pgxscan.Get(ctx, r.db.Pool, &created, query,
		s.CustomerID, s.DeviceName, string(s.DeviceType), s.DeviceBrowser, s.BrowserVersion,
		s.OSName, s.OSVersion, s.IPAddress, s.IPCity, s.IPCountry,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &created, nil
}

// SetTokenHash attaches the credential hash to an active session that has
// none yet. Returns ErrNotFound for missing or revoked sessions and
// ErrConflict when a hash is already attached.
func (r *SessionRepository) SetTokenHash(ctx context.Context, id, tokenHash string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions SET token_hash = $2
		WHERE id = $1 AND token_hash IS NULL AND is_active = TRUE
	`, id, tokenHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var hasHash bool
	err = r.db.Pool.QueryRow(ctx, `
		SELECT token_hash IS NOT NULL FROM sessions WHERE id = $1 AND is_active = TRUE
	`, id).Scan(&hasHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if hasHash {
		return models.ErrConflict
	}
	return models.ErrNotFound
}

// GetActive returns the session only while it is active
func (r *SessionRepository) GetActive(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND is_active = TRUE`

	var s models.Session
	if err := pgxscan.Get(ctx, r.db.Pool, &s, query, id); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SessionRepository) TouchActivity(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	return database.MapPostgresError(err)
}

// Revoke deactivates one session. Already revoked or unknown sessions are
// left untouched and report zero rows.
func (r *SessionRepository) Revoke(ctx context.Context, id, reason string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, revoked_at = NOW(), revoke_reason = $2
		WHERE id = $1 AND is_active = TRUE
	`, id, reason)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped == models.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to revoke session: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevokeForCustomer deactivates every active session of a customer except
// exceptID when it is non-empty.
func (r *SessionRepository) RevokeForCustomer(ctx context.Context, customerID, exceptID, reason string) (int64, error) {
	builder := psql.Update("sessions").
		Set("is_active", false).
		Set("revoked_at", sq.Expr("NOW()")).
		Set("revoke_reason", reason).
		Where(sq.Eq{"customer_id": customerID, "is_active": true})
	if exceptID != "" {
		builder = builder.Where(sq.NotEq{"id": exceptID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build revoke query: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// ListActive returns a customer's active sessions, most recently used first
func (r *SessionRepository) ListActive(ctx context.Context, customerID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE customer_id = $1 AND is_active = TRUE
		ORDER BY last_activity_at DESC
	`

	sessions := make([]*models.Session, 0)
	if err := pgxscan.Select(ctx, r.db.Pool, &sessions, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", database.MapPostgresError(err))
	}
	return sessions, nil
}

// DeleteStale removes sessions revoked before revokedBefore, idle since
// idleBefore, or created before createdBefore, whatever their state.
func (r *SessionRepository) DeleteStale(ctx context.Context, revokedBefore, idleBefore, createdBefore time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE (revoked_at IS NOT NULL AND revoked_at < $1)
		   OR last_activity_at < $2
		   OR login_at < $3
	`, revokedBefore, idleBefore, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
