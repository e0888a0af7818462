package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository defines data access for quotations.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Quotation, error)
	List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	Create(ctx context.Context, q Quotation) (int64, error)
	InsertLine(ctx context.Context, line QuotationLine) (int64, error)
	DeleteLines(ctx context.Context, quotationID int64) error
	UpdateTotals(ctx context.Context, id int64, subtotal, taxAmount, discountAmount, totalAmount decimal.Decimal, notes *string) error
	UpdateStatus(ctx context.Context, id int64, status QuotationStatus, actor string, reason *string) error
	NextDocNumber(ctx context.Context, at time.Time) (string, error)
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

const quotationColumns = `id, doc_number, customer_id, salesperson_id, status, subtotal, tax_amount,
discount_amount, total_amount, notes, created_by, approved_by, approved_at,
rejected_by, rejected_at, rejection_reason, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	q, err := scanQuotation(row)
	if err != nil {
		return nil, err
	}

	lines, err := r.getLines(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Lines = lines
	return q, nil
}

func (r *repository) getLines(ctx context.Context, quotationID int64) ([]QuotationLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, quotation_id, description, quantity, unit_price, tax_rate,
taxable_amount, tax_amount, line_total, line_order
FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []QuotationLine
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.TaxRate, &l.TaxableAmount, &l.TaxAmount, &l.LineTotal, &l.LineOrder); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argPos := 1

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM quotations "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM quotations %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		quotationColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var quotations []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotations
(doc_number, customer_id, salesperson_id, status, subtotal, tax_amount, discount_amount, total_amount, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		q.DocNumber, q.CustomerID, q.SalespersonID, q.Status, q.Subtotal, q.TaxAmount,
		q.DiscountAmount, q.TotalAmount, q.Notes, q.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: doc number %s", shared.ErrConflict, q.DocNumber)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertLine(ctx context.Context, line QuotationLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotation_lines
(quotation_id, description, quantity, unit_price, tax_rate, taxable_amount, tax_amount, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		line.QuotationID, line.Description, line.Quantity, line.UnitPrice, line.TaxRate,
		line.TaxableAmount, line.TaxAmount, line.LineTotal, line.LineOrder).Scan(&id)
	return id, err
}

func (r *repository) DeleteLines(ctx context.Context, quotationID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID)
	return err
}

func (r *repository) UpdateTotals(ctx context.Context, id int64, subtotal, taxAmount, discountAmount, totalAmount decimal.Decimal, notes *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations
SET subtotal = $2, tax_amount = $3, discount_amount = $4, total_amount = $5,
    notes = COALESCE($6, notes), updated_at = NOW()
WHERE id = $1`, id, subtotal, taxAmount, discountAmount, totalAmount, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status QuotationStatus, actor string, reason *string) error {
	var query string
	args := []any{id, status, actor}
	switch status {
	case QuotationStatusApproved:
		query = `UPDATE quotations SET status = $2, approved_by = $3, approved_at = NOW(), updated_at = NOW() WHERE id = $1`
	case QuotationStatusRejected:
		query = `UPDATE quotations SET status = $2, rejected_by = $3, rejected_at = NOW(), rejection_reason = $4, updated_at = NOW() WHERE id = $1`
		args = append(args, reason)
	default:
		query = `UPDATE quotations SET status = $2, updated_at = NOW() WHERE id = $1`
		args = args[:2]
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NextDocNumber reserves the next month-scoped quotation number, format
// QT<YYYY><MM><NNN>. The counter row makes concurrent reservations collide-free.
func (r *repository) NextDocNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	period := at.Format("200601")
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, "QT", period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("QT%s%03d", period, seq), nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.DocNumber, &q.CustomerID, &q.SalespersonID, &q.Status,
		&q.Subtotal, &q.TaxAmount, &q.DiscountAmount, &q.TotalAmount, &q.Notes,
		&q.CreatedBy, &q.ApprovedBy, &q.ApprovedAt, &q.RejectedBy, &q.RejectedAt,
		&q.RejectionReason, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}
