package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/crm"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ApprovalSink records state transitions on the approval trail.
type ApprovalSink interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditSink records audit entries.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const approvalModule = "QUOTATION"

// Service handles quotation business logic.
type Service struct {
	repo      Repository
	leads     crm.Directory
	approvals ApprovalSink
	audit     AuditSink
	notifier  notify.Notifier
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, leads crm.Directory, approvals ApprovalSink, audit AuditSink, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		leads:     leads,
		approvals: approvals,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

type computedTotals struct {
	subtotal decimal.Decimal
	tax      decimal.Decimal
	discount decimal.Decimal
	total    decimal.Decimal
	lines    []QuotationLine
}

func computeTotals(items []CreateQuotationLineReq, discountAmount float64, supplied *float64) (*computedTotals, error) {
	t := &computedTotals{
		subtotal: money.Zero(),
		tax:      money.Zero(),
		discount: money.FromFloat(discountAmount),
	}
	for i, item := range items {
		qty := decimal.NewFromFloat(item.Quantity)
		price := money.FromFloat(item.UnitPrice)
		rate := decimal.NewFromFloat(item.TaxRate)
		taxable, tax, lineTotal := money.LineAmounts(qty, price, rate)

		line := QuotationLine{
			Description:   item.Description,
			Quantity:      qty,
			UnitPrice:     price,
			TaxRate:       rate,
			TaxableAmount: taxable,
			TaxAmount:     tax,
			LineTotal:     lineTotal,
			LineOrder:     item.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		t.lines = append(t.lines, line)
		t.subtotal = money.Sum(t.subtotal, taxable)
		t.tax = money.Sum(t.tax, tax)
	}
	t.total = money.Round2(t.subtotal.Add(t.tax).Sub(t.discount))

	if t.total.IsNegative() {
		return nil, fmt.Errorf("%w: discount exceeds document amount", shared.ErrValidation)
	}
	if supplied != nil && !money.WithinTolerance(t.total, money.FromFloat(*supplied)) {
		return nil, fmt.Errorf("%w: supplied total %.2f does not match computed total %s",
			shared.ErrValidation, *supplied, t.total)
	}
	return t, nil
}

// Create computes totals from the items and persists the quotation with a
// month-scoped document number.
func (s *Service) Create(ctx context.Context, req CreateQuotationRequest, actor string) (*Quotation, error) {
	totals, err := computeTotals(req.Items, req.DiscountAmount, req.TotalAmount)
	if err != nil {
		return nil, err
	}

	if _, err := s.leads.GetLead(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("verify customer: %w", err)
	}

	quotation := Quotation{
		CustomerID:     req.CustomerID,
		SalespersonID:  req.SalespersonID,
		Status:         QuotationStatusDraft,
		Subtotal:       totals.subtotal,
		TaxAmount:      totals.tax,
		DiscountAmount: totals.discount,
		TotalAmount:    totals.total,
		Notes:          req.Notes,
		CreatedBy:      actor,
	}

	var quotationID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		docNumber, err := repo.NextDocNumber(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("reserve doc number: %w", err)
		}
		quotation.DocNumber = docNumber

		id, err := repo.Create(ctx, quotation)
		if err != nil {
			return fmt.Errorf("create quotation: %w", err)
		}
		quotationID = id

		for _, line := range totals.lines {
			line.QuotationID = quotationID
			if _, err := repo.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert quotation line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "quotation.create", quotationID, map[string]any{
		"doc_number": quotation.DocNumber,
		"total":      quotation.TotalAmount,
	})
	return s.repo.Get(ctx, quotationID)
}

// Update replaces all line items transactionally and recomputes totals. The
// status never moves; only editable quotations accept updates.
func (s *Service) Update(ctx context.Context, id int64, req UpdateQuotationRequest, actor string) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if !existing.Status.Editable() {
		return nil, fmt.Errorf("%w: quotation %s is %s", shared.ErrInvalidState, existing.DocNumber, existing.Status)
	}

	discount := existing.DiscountAmount
	if req.DiscountAmount != nil {
		discount = money.FromFloat(*req.DiscountAmount)
	}

	var totals *computedTotals
	if req.Items != nil {
		df, _ := discount.Float64()
		totals, err = computeTotals(*req.Items, df, req.TotalAmount)
		if err != nil {
			return nil, err
		}
	} else {
		total := money.Round2(existing.Subtotal.Add(existing.TaxAmount).Sub(discount))
		if total.IsNegative() {
			return nil, fmt.Errorf("%w: discount exceeds document amount", shared.ErrValidation)
		}
		if req.TotalAmount != nil && !money.WithinTolerance(total, money.FromFloat(*req.TotalAmount)) {
			return nil, fmt.Errorf("%w: supplied total %.2f does not match computed total %s",
				shared.ErrValidation, *req.TotalAmount, total)
		}
		totals = &computedTotals{
			subtotal: existing.Subtotal,
			tax:      existing.TaxAmount,
			discount: discount,
			total:    total,
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateTotals(ctx, id, totals.subtotal, totals.tax, totals.discount, totals.total, req.Notes); err != nil {
			return err
		}
		if req.Items == nil {
			return nil
		}
		if err := repo.DeleteLines(ctx, id); err != nil {
			return err
		}
		for _, line := range totals.lines {
			line.QuotationID = id
			if _, err := repo.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update quotation: %w", err)
	}

	s.recordAudit(ctx, actor, "quotation.update", id, map[string]any{"total": totals.total})
	return s.repo.Get(ctx, id)
}

// Submit moves a draft quotation to pending verification.
func (s *Service) Submit(ctx context.Context, id int64, actor string) (*Quotation, error) {
	return s.transition(ctx, id, actor, QuotationStatusPending, shared.ApprovalSubmit, nil,
		QuotationStatusDraft)
}

// Approve approves a pending quotation.
func (s *Service) Approve(ctx context.Context, id int64, actor string) (*Quotation, error) {
	return s.transition(ctx, id, actor, QuotationStatusApproved, shared.ApprovalApprove, nil,
		QuotationStatusPending)
}

// Reject rejects a pending quotation.
func (s *Service) Reject(ctx context.Context, id int64, actor, reason string) (*Quotation, error) {
	return s.transition(ctx, id, actor, QuotationStatusRejected, shared.ApprovalReject, &reason,
		QuotationStatusPending)
}

// Send dispatches an approved quotation to the customer.
func (s *Service) Send(ctx context.Context, id int64, actor string) (*Quotation, error) {
	return s.transition(ctx, id, actor, QuotationStatusSent, shared.ApprovalSend, nil,
		QuotationStatusApproved)
}

// Accept records customer acceptance of a sent quotation.
func (s *Service) Accept(ctx context.Context, id int64, actor string) (*Quotation, error) {
	return s.transition(ctx, id, actor, QuotationStatusAccepted, shared.ApprovalAccept, nil,
		QuotationStatusSent)
}

func (s *Service) transition(ctx context.Context, id int64, actor string, to QuotationStatus, action shared.ApprovalAction, reason *string, from ...QuotationStatus) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}

	allowed := false
	for _, f := range from {
		if existing.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot move quotation %s from %s to %s",
			shared.ErrInvalidState, existing.DocNumber, existing.Status, to)
	}

	if err := s.repo.UpdateStatus(ctx, id, to, actor, reason); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	note := ""
	if reason != nil {
		note = *reason
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module: approvalModule,
			RefID:  id,
			Actor:  actor,
			Action: action,
			Note:   note,
		}); err != nil {
			s.logger.Error("record quotation approval", slog.Int64("id", id), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, actor, "quotation."+string(action), id, map[string]any{
		"from": existing.Status,
		"to":   to,
	})
	s.notifyTransition(ctx, existing, to)

	return s.repo.Get(ctx, id)
}

// Get returns a quotation with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Quotation, error) {
	return s.repo.Get(ctx, id)
}

// List returns quotations matching the filter.
func (s *Service) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "quotation",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// notifyTransition informs the owning department. Lookup or dispatch failures
// are logged and swallowed; they must never fail the transition.
func (s *Service) notifyTransition(ctx context.Context, q *Quotation, to QuotationStatus) {
	if s.notifier == nil {
		return
	}
	var recipients []string
	if s.leads != nil {
		lead, err := s.leads.GetLead(ctx, q.CustomerID)
		if err != nil {
			s.logger.Warn("resolve notification recipients", slog.Int64("customer_id", q.CustomerID), slog.Any("error", err))
		} else if lead.OwnerDepartmentEmail != nil {
			recipients = append(recipients, *lead.OwnerDepartmentEmail)
		}
	}
	if len(recipients) == 0 {
		return
	}
	event := notify.Event{
		Type:        "quotation.status",
		Title:       fmt.Sprintf("Quotation %s %s", q.DocNumber, to),
		Message:     fmt.Sprintf("Quotation %s moved to %s", q.DocNumber, to),
		ReferenceID: q.DocNumber,
	}
	if err := s.notifier.Notify(ctx, recipients, event); err != nil {
		s.logger.Warn("dispatch notification", slog.String("doc", q.DocNumber), slog.Any("error", err))
	}
}
