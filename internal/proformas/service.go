package proformas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/quotations"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// QuotationSource resolves the originating quotation and its line items.
type QuotationSource interface {
	Get(ctx context.Context, id int64) (*quotations.Quotation, error)
}

// ApprovalSink records state transitions on the approval trail.
type ApprovalSink interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditSink records audit entries.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const approvalModule = "PROFORMA_INVOICE"

// Service drives the PI lifecycle: a state machine over a tree of documents,
// not a single mutable object.
type Service struct {
	repo       Repository
	quotations QuotationSource
	approvals  ApprovalSink
	audit      AuditSink
	notifier   notify.Notifier
	logger     *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, quotations QuotationSource, approvals ApprovalSink, audit AuditSink, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		quotations: quotations,
		approvals:  approvals,
		audit:      audit,
		notifier:   notifier,
		logger:     logger,
	}
}

func quotationReady(status quotations.QuotationStatus) bool {
	switch status {
	case quotations.QuotationStatusApproved, quotations.QuotationStatusSent,
		quotations.QuotationStatusAccepted, quotations.QuotationStatusCompleted:
		return true
	}
	return false
}

// CreateFromQuotation creates a root PI snapshotting the quotation totals, or
// the explicit overrides for a partial-amount PI.
func (s *Service) CreateFromQuotation(ctx context.Context, quotationID int64, req CreatePIRequest, actor string) (*ProformaInvoice, error) {
	quotation, err := s.quotations.Get(ctx, quotationID)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if !quotationReady(quotation.Status) {
		return nil, fmt.Errorf("%w: quotation %s is %s, expected approved",
			shared.ErrInvalidState, quotation.DocNumber, quotation.Status)
	}

	open, err := s.repo.ExistsOpen(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("%w: quotation %s already has an open proforma invoice",
			shared.ErrInvalidState, quotation.DocNumber)
	}

	subtotal, taxAmount, totalAmount := quotation.Subtotal, quotation.TaxAmount, quotation.TotalAmount
	if req.Overrides != nil {
		subtotal = money.FromFloat(req.Overrides.Subtotal)
		taxAmount = money.FromFloat(req.Overrides.TaxAmount)
		totalAmount = money.FromFloat(req.Overrides.TotalAmount)
		if !money.WithinTolerance(subtotal.Add(taxAmount), totalAmount) {
			return nil, fmt.Errorf("%w: override total %s does not match subtotal %s + tax %s",
				shared.ErrValidation, totalAmount, subtotal, taxAmount)
		}
		if totalAmount.GreaterThan(quotation.TotalAmount) {
			return nil, fmt.Errorf("%w: override total %s exceeds quotation total %s",
				shared.ErrValidation, totalAmount, quotation.TotalAmount)
		}
	}

	pi := ProformaInvoice{
		QuotationID:  quotationID,
		Status:       PIStatusDraft,
		Subtotal:     subtotal,
		TaxAmount:    taxAmount,
		TotalAmount:  totalAmount,
		ShippingMode: req.ShippingMode,
		DeliveryAddr: req.DeliveryAddr,
		DeliveryTerm: req.DeliveryTerm,
		Notes:        req.Notes,
		CreatedBy:    actor,
	}

	var piID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.NextPINumber(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("reserve pi number: %w", err)
		}
		pi.PINumber = number
		piID, err = repo.Create(ctx, pi)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "proforma.create", piID, map[string]any{
		"quotation_id": quotationID,
		"pi_number":    pi.PINumber,
	})
	return s.repo.Get(ctx, piID)
}

// CreateRevision drafts a revised PI under an approved parent. The parent row
// is locked while the revision number is assigned so siblings stay strictly
// increasing.
func (s *Service) CreateRevision(ctx context.Context, parentPIID int64, req CreateRevisionRequest, actor string) (*ProformaInvoice, error) {
	amendment := &Amendment{RemovedLineIDs: req.RemovedLineIDs}
	for _, rl := range req.ReducedLines {
		amendment.ReducedLines = append(amendment.ReducedLines, ReducedLine{
			LineID:   rl.LineID,
			Quantity: decimal.NewFromFloat(rl.Quantity),
		})
	}
	if amendment.Empty() {
		return nil, fmt.Errorf("%w: amendment must remove or reduce at least one line", shared.ErrValidation)
	}

	subtotal := money.FromFloat(req.Subtotal)
	taxAmount := money.FromFloat(req.TaxAmount)
	totalAmount := money.FromFloat(req.TotalAmount)
	if !money.WithinTolerance(subtotal.Add(taxAmount), totalAmount) {
		return nil, fmt.Errorf("%w: total %s does not match subtotal %s + tax %s",
			shared.ErrValidation, totalAmount, subtotal, taxAmount)
	}

	var piID int64
	var piNumber string
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		parent, err := repo.GetForUpdate(ctx, parentPIID)
		if err != nil {
			return fmt.Errorf("get parent pi: %w", err)
		}
		if parent.Status != PIStatusApproved {
			return fmt.Errorf("%w: parent pi %s is %s, revisions require an approved parent",
				shared.ErrInvalidState, parent.PINumber, parent.Status)
		}
		if totalAmount.GreaterThan(parent.TotalAmount) {
			return fmt.Errorf("%w: revised total %s exceeds parent total %s",
				shared.ErrValidation, totalAmount, parent.TotalAmount)
		}

		number, err := repo.NextPINumber(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("reserve pi number: %w", err)
		}
		piNumber = number

		pi := ProformaInvoice{
			PINumber:     number,
			QuotationID:  parent.QuotationID,
			ParentPIID:   &parent.ID,
			Status:       PIStatusDraft,
			Subtotal:     subtotal,
			TaxAmount:    taxAmount,
			TotalAmount:  totalAmount,
			Amendment:    amendment,
			ShippingMode: parent.ShippingMode,
			DeliveryAddr: parent.DeliveryAddr,
			DeliveryTerm: parent.DeliveryTerm,
			Notes:        req.Notes,
			CreatedBy:    actor,
		}
		piID, err = repo.Create(ctx, pi)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "proforma.revise", piID, map[string]any{
		"parent_pi_id": parentPIID,
		"pi_number":    piNumber,
	})
	return s.repo.Get(ctx, piID)
}

// Submit moves a draft PI to pending approval.
func (s *Service) Submit(ctx context.Context, id int64, actor string) (*ProformaInvoice, error) {
	pi, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pi: %w", err)
	}
	if pi.Status != PIStatusDraft {
		return nil, fmt.Errorf("%w: pi %s is %s, only drafts can be submitted",
			shared.ErrInvalidState, pi.PINumber, pi.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, PIStatusPendingApproval, actor); err != nil {
		return nil, err
	}
	s.recordApproval(ctx, id, actor, shared.ApprovalSubmit, "")
	s.recordAudit(ctx, actor, "proforma.submit", id, nil)
	return s.repo.Get(ctx, id)
}

// Approve approves a pending PI. For a revision, the self-approve and the
// parent supersede execute as one atomic unit: no reader ever observes both
// parent and child approved, nor neither active.
func (s *Service) Approve(ctx context.Context, id int64, actor string) (*ProformaInvoice, error) {
	var parentID *int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		pi, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get pi: %w", err)
		}
		if pi.Status != PIStatusPendingApproval {
			return fmt.Errorf("%w: pi %s is %s, only pending PIs can be approved",
				shared.ErrInvalidState, pi.PINumber, pi.Status)
		}

		if pi.ParentPIID != nil {
			parent, err := repo.GetForUpdate(ctx, *pi.ParentPIID)
			if err != nil {
				return fmt.Errorf("get parent pi: %w", err)
			}
			if parent.Status != PIStatusApproved {
				return fmt.Errorf("%w: parent pi %s is %s, supersession requires an approved parent",
					shared.ErrInvalidState, parent.PINumber, parent.Status)
			}
			parentID = &parent.ID
			if err := repo.MarkSuperseded(ctx, parent.ID); err != nil {
				return fmt.Errorf("supersede parent: %w", err)
			}
		} else {
			active, err := repo.GetActiveByQuotation(ctx, pi.QuotationID)
			if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			if active != nil {
				return fmt.Errorf("%w: quotation already has active pi %s",
					shared.ErrInvalidState, active.PINumber)
			}
		}

		return repo.UpdateStatus(ctx, id, PIStatusApproved, actor)
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, id, actor, shared.ApprovalApprove, "")
	if parentID != nil {
		s.recordApproval(ctx, *parentID, actor, shared.ApprovalSupersede,
			fmt.Sprintf("superseded by pi %d", id))
	}
	s.recordAudit(ctx, actor, "proforma.approve", id, map[string]any{"superseded_parent": parentID})

	approved, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifyApproved(ctx, approved)
	return approved, nil
}

// notifyApproved informs the quotation owner; failures are logged, never
// surfaced into the committed approval.
func (s *Service) notifyApproved(ctx context.Context, pi *ProformaInvoice) {
	if s.notifier == nil {
		return
	}
	quotation, err := s.quotations.Get(ctx, pi.QuotationID)
	if err != nil {
		s.logger.Warn("resolve pi notification recipient", slog.Int64("quotation_id", pi.QuotationID), slog.Any("error", err))
		return
	}
	event := notify.Event{
		Type:        "proforma.approved",
		Title:       fmt.Sprintf("Proforma invoice %s approved", pi.PINumber),
		Message:     fmt.Sprintf("Proforma invoice %s for quotation %s is now active", pi.PINumber, quotation.DocNumber),
		ReferenceID: pi.PINumber,
	}
	if err := s.notifier.Notify(ctx, []string{quotation.CreatedBy}, event); err != nil {
		s.logger.Warn("dispatch pi notification", slog.String("pi", pi.PINumber), slog.Any("error", err))
	}
}

// Reject rejects a pending PI; an approved parent stays active and untouched.
func (s *Service) Reject(ctx context.Context, id int64, actor, reason string) (*ProformaInvoice, error) {
	pi, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pi: %w", err)
	}
	if pi.Status != PIStatusPendingApproval {
		return nil, fmt.Errorf("%w: pi %s is %s, only pending PIs can be rejected",
			shared.ErrInvalidState, pi.PINumber, pi.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, PIStatusRejected, actor); err != nil {
		return nil, err
	}
	s.recordApproval(ctx, id, actor, shared.ApprovalReject, reason)
	s.recordAudit(ctx, actor, "proforma.reject", id, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

// Update applies field-level changes; approved and superseded PIs are
// immutable outside the revision flow.
func (s *Service) Update(ctx context.Context, id int64, req UpdatePIRequest, actor string) (*ProformaInvoice, error) {
	pi, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pi: %w", err)
	}
	if !pi.Status.Editable() {
		return nil, fmt.Errorf("%w: pi %s is %s", shared.ErrImmutableDocument, pi.PINumber, pi.Status)
	}
	if err := s.repo.UpdateDetails(ctx, id, req); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "proforma.update", id, nil)
	return s.repo.Get(ctx, id)
}

// Get returns a PI by id.
func (s *Service) Get(ctx context.Context, id int64) (*ProformaInvoice, error) {
	return s.repo.Get(ctx, id)
}

// GetActivePI returns the unique approved, non-superseded PI for a quotation,
// or shared.ErrNotFound when none has been approved yet.
func (s *Service) GetActivePI(ctx context.Context, quotationID int64) (*ProformaInvoice, error) {
	return s.repo.GetActiveByQuotation(ctx, quotationID)
}

// ListByQuotation returns the full revision tree for a quotation.
func (s *Service) ListByQuotation(ctx context.Context, quotationID int64) ([]ProformaInvoice, error) {
	return s.repo.ListByQuotation(ctx, quotationID)
}

// EffectiveLines computes the PI's line items by replaying its amendment diff
// against the original quotation items: removed lines are filtered out and
// reduced lines keep their proportional amounts.
func (s *Service) EffectiveLines(ctx context.Context, id int64) ([]quotations.QuotationLine, error) {
	pi, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pi: %w", err)
	}
	quotation, err := s.quotations.Get(ctx, pi.QuotationID)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	return ApplyAmendment(quotation.Lines, pi.Amendment), nil
}

// ApplyAmendment replays a diff against the original line set.
func ApplyAmendment(lines []quotations.QuotationLine, amendment *Amendment) []quotations.QuotationLine {
	if amendment.Empty() {
		return lines
	}
	removed := make(map[int64]bool, len(amendment.RemovedLineIDs))
	for _, id := range amendment.RemovedLineIDs {
		removed[id] = true
	}
	reduced := make(map[int64]decimal.Decimal, len(amendment.ReducedLines))
	for _, rl := range amendment.ReducedLines {
		reduced[rl.LineID] = rl.Quantity
	}

	var effective []quotations.QuotationLine
	for _, line := range lines {
		if removed[line.ID] {
			continue
		}
		if newQty, ok := reduced[line.ID]; ok && newQty.LessThan(line.Quantity) {
			orig := line.Quantity
			line.TaxableAmount = money.Scale(line.TaxableAmount, newQty, orig)
			line.TaxAmount = money.Scale(line.TaxAmount, newQty, orig)
			line.LineTotal = money.Scale(line.LineTotal, newQty, orig)
			line.Quantity = newQty
		}
		effective = append(effective, line)
	}
	return effective
}

func (s *Service) recordApproval(ctx context.Context, id int64, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module: approvalModule,
		RefID:  id,
		Actor:  actor,
		Action: action,
		Note:   note,
	}); err != nil {
		s.logger.Error("record pi approval", slog.Int64("id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "proforma_invoice",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
