package proformas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository defines data access for proforma invoices.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*ProformaInvoice, error)
	// GetForUpdate locks the PI row; only meaningful inside WithTx.
	GetForUpdate(ctx context.Context, id int64) (*ProformaInvoice, error)
	GetActiveByQuotation(ctx context.Context, quotationID int64) (*ProformaInvoice, error)
	// ExistsOpen reports whether any PI for the quotation is neither rejected
	// nor superseded.
	ExistsOpen(ctx context.Context, quotationID int64) (bool, error)
	ListByQuotation(ctx context.Context, quotationID int64) ([]ProformaInvoice, error)
	Create(ctx context.Context, pi ProformaInvoice) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status PIStatus, actor string) error
	MarkSuperseded(ctx context.Context, id int64) error
	UpdateDetails(ctx context.Context, id int64, req UpdatePIRequest) error
	NextPINumber(ctx context.Context, at time.Time) (string, error)
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

const piColumns = `id, pi_number, quotation_id, parent_pi_id, revision_no, status, subtotal,
tax_amount, total_amount, amendment_detail, shipping_mode, delivery_address, delivery_terms,
notes, created_by, approved_by, approved_at, superseded_at, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*ProformaInvoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+piColumns+` FROM proforma_invoices WHERE id = $1`, id)
	return scanPI(row)
}

func (r *repository) GetForUpdate(ctx context.Context, id int64) (*ProformaInvoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+piColumns+` FROM proforma_invoices WHERE id = $1 FOR UPDATE`, id)
	return scanPI(row)
}

func (r *repository) GetActiveByQuotation(ctx context.Context, quotationID int64) (*ProformaInvoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+piColumns+` FROM proforma_invoices
WHERE quotation_id = $1 AND status = $2`, quotationID, PIStatusApproved)
	return scanPI(row)
}

func (r *repository) ExistsOpen(ctx context.Context, quotationID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM proforma_invoices WHERE quotation_id = $1 AND status NOT IN ($2, $3))`,
		quotationID, PIStatusRejected, PIStatusSuperseded).Scan(&exists)
	return exists, err
}

func (r *repository) ListByQuotation(ctx context.Context, quotationID int64) ([]ProformaInvoice, error) {
	rows, err := r.db.Query(ctx, `SELECT `+piColumns+` FROM proforma_invoices
WHERE quotation_id = $1 ORDER BY created_at ASC, id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pis []ProformaInvoice
	for rows.Next() {
		pi, err := scanPI(rows)
		if err != nil {
			return nil, err
		}
		pis = append(pis, *pi)
	}
	return pis, rows.Err()
}

// Create inserts the PI. For revisions the revision number is assigned inside
// the statement from the current sibling maximum; callers serialize siblings
// by locking the parent row first.
func (r *repository) Create(ctx context.Context, pi ProformaInvoice) (int64, error) {
	var amendment any
	if pi.Amendment != nil {
		raw, err := json.Marshal(pi.Amendment)
		if err != nil {
			return 0, err
		}
		amendment = raw
	}

	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO proforma_invoices
(pi_number, quotation_id, parent_pi_id, revision_no, status, subtotal, tax_amount, total_amount,
 amendment_detail, shipping_mode, delivery_address, delivery_terms, notes, created_by)
VALUES ($1, $2, $3,
        CASE WHEN $3::bigint IS NULL THEN 0
             ELSE COALESCE((SELECT MAX(revision_no) FROM proforma_invoices WHERE parent_pi_id = $3), 0) + 1
        END,
        $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		pi.PINumber, pi.QuotationID, pi.ParentPIID, pi.Status, pi.Subtotal, pi.TaxAmount,
		pi.TotalAmount, amendment, pi.ShippingMode, pi.DeliveryAddr, pi.DeliveryTerm,
		pi.Notes, pi.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: pi number %s", shared.ErrConflict, pi.PINumber)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status PIStatus, actor string) error {
	var query string
	args := []any{id, status}
	if status == PIStatusApproved {
		query = `UPDATE proforma_invoices SET status = $2, approved_by = $3, approved_at = NOW(), updated_at = NOW() WHERE id = $1`
		args = append(args, actor)
	} else {
		query = `UPDATE proforma_invoices SET status = $2, updated_at = NOW() WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		// The one-active-PI partial unique index catches concurrent root
		// approvals that both passed the active check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: quotation already has an active proforma invoice", shared.ErrConflict)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) MarkSuperseded(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE proforma_invoices
SET status = $2, superseded_at = NOW(), updated_at = NOW() WHERE id = $1`, id, PIStatusSuperseded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateDetails(ctx context.Context, id int64, req UpdatePIRequest) error {
	tag, err := r.db.Exec(ctx, `UPDATE proforma_invoices
SET shipping_mode = COALESCE($2, shipping_mode),
    delivery_address = COALESCE($3, delivery_address),
    delivery_terms = COALESCE($4, delivery_terms),
    notes = COALESCE($5, notes),
    updated_at = NOW()
WHERE id = $1`, id, req.ShippingMode, req.DeliveryAddr, req.DeliveryTerm, req.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NextPINumber reserves the next month-scoped PI number, format
// PI-<YYYY>-<MM>-<NNNN>.
func (r *repository) NextPINumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	period := at.Format("200601")
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, "PI", period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PI-%s-%s-%04d", at.Format("2006"), at.Format("01"), seq), nil
}

func scanPI(row pgx.Row) (*ProformaInvoice, error) {
	var pi ProformaInvoice
	var amendment []byte
	err := row.Scan(&pi.ID, &pi.PINumber, &pi.QuotationID, &pi.ParentPIID, &pi.RevisionNo,
		&pi.Status, &pi.Subtotal, &pi.TaxAmount, &pi.TotalAmount, &amendment,
		&pi.ShippingMode, &pi.DeliveryAddr, &pi.DeliveryTerm, &pi.Notes, &pi.CreatedBy,
		&pi.ApprovedBy, &pi.ApprovedAt, &pi.SupersededAt, &pi.CreatedAt, &pi.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if len(amendment) > 0 {
		var a Amendment
		if err := json.Unmarshal(amendment, &a); err != nil {
			return nil, fmt.Errorf("decode amendment: %w", err)
		}
		pi.Amendment = &a
	}
	return &pi, nil
}
