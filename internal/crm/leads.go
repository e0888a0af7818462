// Package crm exposes the lead/customer lookup collaborator. Lead CRUD and
// assignment live in another system; this core only reads ownership metadata.
package crm

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Lead carries the customer metadata consumed by the financial core.
type Lead struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Phone                *string `json:"phone,omitempty"`
	Email                *string `json:"email,omitempty"`
	Address              *string `json:"address,omitempty"`
	OwnerDepartmentEmail *string `json:"owner_department_email,omitempty"`
}

// Directory resolves leads by id.
type Directory interface {
	GetLead(ctx context.Context, id int64) (*Lead, error)
}

// Repository provides PostgreSQL backed lead lookup.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetLead returns the lead or shared.ErrNotFound.
func (r *Repository) GetLead(ctx context.Context, id int64) (*Lead, error) {
	var l Lead
	err := r.pool.QueryRow(ctx, `SELECT id, name, phone, email, address, owner_department_email
FROM leads WHERE id = $1`, id).Scan(&l.ID, &l.Name, &l.Phone, &l.Email, &l.Address, &l.OwnerDepartmentEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}
