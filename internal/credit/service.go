package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service exposes credit account reads and manual adjustments.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetByCustomer returns the customer's credit account. Customers without an
// account simply have a zero balance; callers see that rather than a 404.
func (s *Service) GetByCustomer(ctx context.Context, customerID int64) (*Account, error) {
	account, err := s.repo.GetByCustomer(ctx, customerID)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return &Account{CustomerID: customerID, Balance: decimal.Zero}, nil
	}
	return nil, err
}

// Adjust adds delta to the customer's balance, creating the account on first
// touch. Negative deltas must not drive the balance below zero.
func (s *Service) Adjust(ctx context.Context, customerID int64, delta decimal.Decimal) (*Account, error) {
	if delta.IsNegative() {
		current, err := s.GetByCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if current.Balance.Add(delta).IsNegative() {
			return nil, fmt.Errorf("%w: adjustment would make balance negative", shared.ErrValidation)
		}
	}
	return s.repo.Increment(ctx, customerID, delta)
}
