package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customerColumns = `id, email, password_hash, first_name, last_name, email_verified, is_active, is_guest, created_at, updated_at`

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(db *database.DB) *CustomerRepository {
	return &CustomerRepository{pool: db.Pool}
}

// scanCustomerRow handles the nullable password hash of guest customers
func scanCustomerRow(scanner rowScanner) (*models.Customer, error) {
	var c models.Customer
	var passwordHash *string

	err := scanner.Scan(
		&c.ID, &c.Email, &passwordHash, &c.FirstName, &c.LastName,
		&c.EmailVerified, &c.IsActive, &c.IsGuest, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		c.PasswordHash = *passwordHash
	}
	return &c, nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	return scanCustomerRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail matches case-insensitively. A registered customer wins over
// guest checkouts that reused the same address.
func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE LOWER(email) = LOWER($1)
		ORDER BY is_guest ASC, created_at ASC
		LIMIT 1
	`
	return scanCustomerRow(r.pool.QueryRow(ctx, query, email))
}

func (r *CustomerRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE customers SET password_hash = $1, updated_at = NOW() WHERE id = $2
	`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *CustomerRepository) MarkEmailVerified(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE customers SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
