package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// paidPredicate is the single approval predicate every "paid" computation in
// the system shares: only approved, non-refund rows count toward achieved
// totals. Downstream reporting must not recompute "paid" any other way.
const paidPredicate = `approval_status = 'APPROVED' AND is_refund = FALSE`

// Repository defines data access for the installment ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	// GetQuotationForUpdate locks the quotation row so the outstanding-balance
	// computation serializes against concurrent installments; only meaningful
	// inside WithTx.
	GetQuotationForUpdate(ctx context.Context, quotationID int64) (*QuotationRef, error)
	SumPaid(ctx context.Context, quotationID int64) (decimal.Decimal, error)
	CountByQuotation(ctx context.Context, quotationID int64) (int, error)
	CountByLead(ctx context.Context, leadID int64) (int, error)
	Insert(ctx context.Context, inst Installment) (int64, error)
	// IncrementCredit atomically upsert-increments the customer credit balance
	// in the same transaction as the installment insert.
	IncrementCredit(ctx context.Context, customerID int64, delta decimal.Decimal) error
	MarkQuotationCompleted(ctx context.Context, quotationID int64) error
	Get(ctx context.Context, id int64) (*Installment, error)
	ListByQuotation(ctx context.Context, quotationID int64) ([]Installment, error)
	UpdateApprovalStatus(ctx context.Context, id int64, status ApprovalStatus, actor string, notes *string) error
	// UpdateAmounts rewrites the applied/overpaid split of a row whose
	// approval flip changed its contribution to the paid total.
	UpdateAmounts(ctx context.Context, id int64, applied, overpaid, paid, remaining decimal.Decimal) error
	Summary(ctx context.Context, quotationID int64) (*Summary, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) GetQuotationForUpdate(ctx context.Context, quotationID int64) (*QuotationRef, error) {
	var q QuotationRef
	err := r.db.QueryRow(ctx, `SELECT id, doc_number, customer_id, total_amount, status
FROM quotations WHERE id = $1 FOR UPDATE`, quotationID).
		Scan(&q.ID, &q.DocNumber, &q.CustomerID, &q.TotalAmount, &q.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

func (r *repository) SumPaid(ctx context.Context, quotationID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(applied_amount), 0)
FROM payment_installments WHERE quotation_id = $1 AND `+paidPredicate, quotationID).Scan(&sum)
	return sum, err
}

func (r *repository) CountByQuotation(ctx context.Context, quotationID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_installments WHERE quotation_id = $1`, quotationID).Scan(&n)
	return n, err
}

func (r *repository) CountByLead(ctx context.Context, leadID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_installments WHERE lead_id = $1`, leadID).Scan(&n)
	return n, err
}

func (r *repository) Insert(ctx context.Context, inst Installment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO payment_installments
(quotation_id, lead_id, proforma_invoice_id, installment_number, installment_amount,
 applied_amount, overpaid_amount, paid_amount, remaining_amount, payment_method,
 payment_date, payment_reference, approval_status, is_refund, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id`,
		inst.QuotationID, inst.LeadID, inst.ProformaInvoiceID, inst.InstallmentNumber,
		inst.Amount, inst.AppliedAmount, inst.OverpaidAmount, inst.PaidAmount,
		inst.RemainingAmount, inst.Method, inst.PaidAt, inst.Reference,
		inst.ApprovalStatus, inst.IsRefund, inst.Notes, inst.CreatedBy).Scan(&id)
	return id, err
}

func (r *repository) IncrementCredit(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO customer_credit_accounts (customer_id, balance)
VALUES ($1, $2)
ON CONFLICT (customer_id)
DO UPDATE SET balance = customer_credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()`,
		customerID, delta)
	return err
}

func (r *repository) MarkQuotationCompleted(ctx context.Context, quotationID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE quotations SET status = 'COMPLETED', updated_at = NOW()
WHERE id = $1 AND status <> 'COMPLETED'`, quotationID)
	return err
}

const installmentColumns = `id, quotation_id, lead_id, proforma_invoice_id, installment_number,
installment_amount, applied_amount, overpaid_amount, paid_amount, remaining_amount,
payment_method, payment_date, payment_reference, approval_status, approval_notes,
approved_by, is_refund, notes, created_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Installment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+installmentColumns+` FROM payment_installments WHERE id = $1`, id)
	return scanInstallment(row)
}

func (r *repository) ListByQuotation(ctx context.Context, quotationID int64) ([]Installment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+installmentColumns+` FROM payment_installments
WHERE quotation_id = $1 ORDER BY installment_number ASC, id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var installments []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, *inst)
	}
	return installments, rows.Err()
}

func (r *repository) UpdateApprovalStatus(ctx context.Context, id int64, status ApprovalStatus, actor string, notes *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE payment_installments
SET approval_status = $2, approved_by = $3, approval_notes = $4, updated_at = NOW()
WHERE id = $1`, id, status, actor, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateAmounts(ctx context.Context, id int64, applied, overpaid, paid, remaining decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `UPDATE payment_installments
SET applied_amount = $2, overpaid_amount = $3, paid_amount = $4, remaining_amount = $5, updated_at = NOW()
WHERE id = $1`, id, applied, overpaid, paid, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Summary(ctx context.Context, quotationID int64) (*Summary, error) {
	s := Summary{QuotationID: quotationID}
	var status string
	err := r.db.QueryRow(ctx, `SELECT q.total_amount, q.status,
COALESCE((SELECT SUM(applied_amount) FROM payment_installments WHERE quotation_id = q.id AND `+paidPredicate+`), 0),
COALESCE((SELECT SUM(overpaid_amount) FROM payment_installments WHERE quotation_id = q.id AND `+paidPredicate+`), 0),
COALESCE((SELECT COUNT(*) FROM payment_installments WHERE quotation_id = q.id), 0)
FROM quotations q WHERE q.id = $1`, quotationID).
		Scan(&s.TotalAmount, &status, &s.PaidAmount, &s.OverpaidAmount, &s.InstallmentCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	s.RemainingAmount = s.TotalAmount.Sub(s.PaidAmount)
	if s.RemainingAmount.IsNegative() {
		s.RemainingAmount = decimal.Zero
	}
	s.Completed = status == "COMPLETED"
	return &s, nil
}

func scanInstallment(row pgx.Row) (*Installment, error) {
	var inst Installment
	err := row.Scan(&inst.ID, &inst.QuotationID, &inst.LeadID, &inst.ProformaInvoiceID,
		&inst.InstallmentNumber, &inst.Amount, &inst.AppliedAmount, &inst.OverpaidAmount,
		&inst.PaidAmount, &inst.RemainingAmount, &inst.Method, &inst.PaidAt, &inst.Reference,
		&inst.ApprovalStatus, &inst.ApprovalNotes, &inst.ApprovedBy, &inst.IsRefund,
		&inst.Notes, &inst.CreatedBy, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}
