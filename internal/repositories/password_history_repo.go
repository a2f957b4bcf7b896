package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/georgysavva/scany/v2/pgxscan"
)

// PasswordHistoryRepository stores past password hashes per customer
type PasswordHistoryRepository struct {
	db *database.DB
}

func NewPasswordHistoryRepository(db *database.DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

func (r *PasswordHistoryRepository) Append(ctx context.Context, entry *models.PasswordHistoryEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO password_history (customer_id, password_hash, changed_by_ip, change_reason)
		VALUES ($1, $2, $3, $4)
	`, entry.CustomerID, entry.PasswordHash, entry.ChangedByIP, entry.ChangeReason)
	if err != nil {
		return fmt.Errorf("failed to append password history: %w", database.MapPostgresError(err))
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (r *PasswordHistoryRepository) Recent(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	query := `
		SELECT id, customer_id, password_hash, changed_at, changed_by_ip, change_reason
		FROM password_history
		WHERE customer_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`

	entries := make([]*models.PasswordHistoryEntry, 0, limit)
	if err := pgxscan.Select(ctx, r.db.Pool, &entries, query, customerID, limit); err != nil {
		return nil, fmt.Errorf("failed to load password history: %w", database.MapPostgresError(err))
	}
	return entries, nil
}

// PruneBeyond deletes every entry older than each customer's newest keep entries
func (r *PasswordHistoryRepository) PruneBeyond(ctx context.Context, keep int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM password_history
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY customer_id ORDER BY changed_at DESC) AS rn
				FROM password_history
			) ranked
			WHERE ranked.rn > $1
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune password history: %w", err)
	}
	return tag.RowsAffected(), nil
}
