package credit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository reads and maintains customer credit accounts. Ledger-driven
// increments happen inside the payments transaction; this repository covers
// the standalone paths.
type Repository interface {
	GetByCustomer(ctx context.Context, customerID int64) (*Account, error)
	Increment(ctx context.Context, customerID int64, delta decimal.Decimal) (*Account, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const accountColumns = `id, customer_id, balance, created_at, updated_at`

func (r *repository) GetByCustomer(ctx context.Context, customerID int64) (*Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM customer_credit_accounts
WHERE customer_id = $1`, customerID).
		Scan(&a.ID, &a.CustomerID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) Increment(ctx context.Context, customerID int64, delta decimal.Decimal) (*Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `INSERT INTO customer_credit_accounts (customer_id, balance)
VALUES ($1, $2)
ON CONFLICT (customer_id)
DO UPDATE SET balance = customer_credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
RETURNING `+accountColumns, customerID, delta).
		Scan(&a.ID, &a.CustomerID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
