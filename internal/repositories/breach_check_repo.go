package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// BreachCheckRepository caches k-anonymity ranges in the breach_checks table
type BreachCheckRepository struct {
	db *database.DB
}

func NewBreachCheckRepository(db *database.DB) *BreachCheckRepository {
	return &BreachCheckRepository{db: db}
}

// Get returns the unexpired range for prefix or ErrNotFound
func (r *BreachCheckRepository) Get(ctx context.Context, prefix string) (*models.BreachRange, error) {
	var rng models.BreachRange
	var raw []byte

	err := r.db.Pool.QueryRow(ctx, `
		SELECT password_hash_prefix, suffix_counts, checked_at, expires_at
		FROM breach_checks
		WHERE password_hash_prefix = $1 AND expires_at > NOW()
	`, prefix).Scan(&rng.Prefix, &raw, &rng.CheckedAt, &rng.ExpiresAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(raw, &rng.SuffixCounts); err != nil {
		return nil, fmt.Errorf("failed to decode cached range %s: %w", prefix, err)
	}
	return &rng, nil
}

// Put upserts a range, replacing any previous copy of the bucket
func (r *BreachCheckRepository) Put(ctx context.Context, rng *models.BreachRange) error {
	raw, err := json.Marshal(rng.SuffixCounts)
	if err != nil {
		return fmt.Errorf("failed to encode range %s: %w", rng.Prefix, err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO breach_checks (password_hash_prefix, suffix_counts, is_breached, breach_count, checked_at, expires_at)
		VALUES ($1, $2::jsonb, $3, $4, $5, $6)
		ON CONFLICT (password_hash_prefix) DO UPDATE
		SET suffix_counts = EXCLUDED.suffix_counts,
		    is_breached   = EXCLUDED.is_breached,
		    breach_count  = EXCLUDED.breach_count,
		    checked_at    = EXCLUDED.checked_at,
		    expires_at    = EXCLUDED.expires_at
	`, rng.Prefix, string(raw), rng.IsBreached(), rng.TotalCount(), rng.CheckedAt, rng.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to cache range %s: %w", rng.Prefix, err)
	}
	return nil
}

// DeleteExpired removes ranges past their expiry
func (r *BreachCheckRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM breach_checks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired breach ranges: %w", err)
	}
	return tag.RowsAffected(), nil
}
