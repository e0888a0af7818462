package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// payableStatuses are the quotation statuses that accept payments. Drafts and
// rejected quotations carry no customer commitment to pay against.
var payableStatuses = map[string]bool{
	"APPROVED":  true,
	"SENT":      true,
	"ACCEPTED":  true,
	"COMPLETED": true,
}

// ActivePIResolver yields the id of the quotation's currently approved
// proforma invoice, or nil when none exists.
type ActivePIResolver interface {
	ActivePIID(ctx context.Context, quotationID int64) (*int64, error)
}

// AuditSink records audit entries.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies installments and serves ledger reads.
type Service struct {
	repo     Repository
	resolver ActivePIResolver
	cache    *cache.Cache
	audit    AuditSink
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, resolver ActivePIResolver, c *cache.Cache, audit AuditSink, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		cache:    c,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

func summaryCacheKey(quotationID int64) string {
	return fmt.Sprintf("payments:summary:%d", quotationID)
}

// RecordInstallment applies a payment against a quotation, or tracks one
// against a lead that has no quotation yet. The outstanding balance is
// computed under a row lock on the quotation, so concurrent installments
// serialize and the applied and overpaid portions never double-count.
func (s *Service) RecordInstallment(ctx context.Context, req RecordInstallmentRequest, actor string) (*Installment, error) {
	if req.QuotationID == nil && req.LeadID == nil {
		return nil, fmt.Errorf("%w: quotation_id or lead_id is required", shared.ErrValidation)
	}
	amount := money.Round2(money.FromFloat(req.Amount))
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}

	paidAt := time.Now()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	reference := uuid.NewString()
	if req.Reference != nil && *req.Reference != "" {
		reference = *req.Reference
	}

	inst := Installment{
		QuotationID:    req.QuotationID,
		LeadID:         req.LeadID,
		Amount:         amount,
		Method:         req.Method,
		PaidAt:         paidAt,
		Reference:      reference,
		ApprovalStatus: ApprovalStatusApproved,
		Notes:          req.Notes,
		CreatedBy:      actor,
	}

	var (
		creditDelta decimal.Decimal
		customerID  int64
		completed   bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if req.QuotationID == nil {
			return s.recordLeadInstallment(ctx, tx, &inst)
		}

		q, err := tx.GetQuotationForUpdate(ctx, *req.QuotationID)
		if err != nil {
			return err
		}
		if !payableStatuses[q.Status] {
			return fmt.Errorf("%w: quotation %s is %s and cannot receive payments", shared.ErrInvalidState, q.DocNumber, q.Status)
		}
		customerID = q.CustomerID

		paidSoFar, err := tx.SumPaid(ctx, q.ID)
		if err != nil {
			return err
		}
		remaining := q.TotalAmount.Sub(paidSoFar)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		applied := money.Min(amount, remaining)
		overpaid := amount.Sub(applied)

		n, err := tx.CountByQuotation(ctx, q.ID)
		if err != nil {
			return err
		}
		piID, err := s.resolver.ActivePIID(ctx, q.ID)
		if err != nil {
			return err
		}

		inst.ProformaInvoiceID = piID
		inst.InstallmentNumber = n + 1
		inst.AppliedAmount = applied
		inst.OverpaidAmount = overpaid
		inst.PaidAmount = paidSoFar.Add(applied)
		inst.RemainingAmount = remaining.Sub(applied)

		id, err := tx.Insert(ctx, inst)
		if err != nil {
			return err
		}
		inst.ID = id

		if overpaid.IsPositive() {
			if err := tx.IncrementCredit(ctx, customerID, overpaid); err != nil {
				return err
			}
			creditDelta = overpaid
		}
		if money.WithinTolerance(inst.RemainingAmount, decimal.Zero) {
			if err := tx.MarkQuotationCompleted(ctx, q.ID); err != nil {
				return err
			}
			completed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.QuotationID != nil {
		if err := s.cache.Invalidate(ctx, summaryCacheKey(*req.QuotationID)); err != nil {
			s.logger.Warn("invalidate summary cache", slog.Int64("quotation_id", *req.QuotationID), slog.Any("error", err))
		}
	}
	meta := map[string]any{
		"amount":    amount.StringFixed(2),
		"applied":   inst.AppliedAmount.StringFixed(2),
		"overpaid":  inst.OverpaidAmount.StringFixed(2),
		"reference": inst.Reference,
	}
	if completed {
		meta["quotation_completed"] = true
	}
	s.recordAudit(ctx, actor, "payment.recorded", inst.ID, meta)
	if creditDelta.IsPositive() {
		s.notifyOvercredit(ctx, &inst, customerID, creditDelta)
	}
	return &inst, nil
}

// recordLeadInstallment tracks a pre-quotation collection. There is no
// balance to apply against, so the row is purely informational.
func (s *Service) recordLeadInstallment(ctx context.Context, tx Repository, inst *Installment) error {
	n, err := tx.CountByLead(ctx, *inst.LeadID)
	if err != nil {
		return err
	}
	inst.InstallmentNumber = n + 1
	inst.AppliedAmount = decimal.Zero
	inst.OverpaidAmount = decimal.Zero
	inst.PaidAmount = decimal.Zero
	inst.RemainingAmount = decimal.Zero
	id, err := tx.Insert(ctx, *inst)
	if err != nil {
		return err
	}
	inst.ID = id
	return nil
}

// UpdateApprovalStatus moves an installment between PENDING, APPROVED and
// REJECTED. Flips run under the quotation row lock: a row entering APPROVED
// has its applied/overpaid split recomputed against the current balance, so
// its stale snapshot can never push the applied sum past the quotation total;
// a row leaving APPROVED gives back the credit its overpayment granted.
func (s *Service) UpdateApprovalStatus(ctx context.Context, id int64, req UpdateApprovalStatusRequest, actor string) (*Installment, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown approval status %q", shared.ErrValidation, req.Status)
	}
	var before *Installment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		inst, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = inst

		if inst.QuotationID != nil && !inst.IsRefund && inst.ApprovalStatus != req.Status {
			switch {
			case req.Status == ApprovalStatusApproved:
				if err := s.reapply(ctx, tx, inst); err != nil {
					return err
				}
			case inst.ApprovalStatus == ApprovalStatusApproved:
				if err := s.unapply(ctx, tx, inst); err != nil {
					return err
				}
			}
		}
		return tx.UpdateApprovalStatus(ctx, id, req.Status, actor, req.Notes)
	})
	if err != nil {
		return nil, err
	}

	if before.QuotationID != nil {
		if err := s.cache.Invalidate(ctx, summaryCacheKey(*before.QuotationID)); err != nil {
			s.logger.Warn("invalidate summary cache", slog.Int64("quotation_id", *before.QuotationID), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, actor, "payment.approval_changed", id, map[string]any{
		"from": string(before.ApprovalStatus),
		"to":   string(req.Status),
	})
	return s.repo.Get(ctx, id)
}

// reapply recomputes the split of a row entering APPROVED against the balance
// as it stands now; amounts already collected since the row left the paid
// total route to credit instead of double-applying.
func (s *Service) reapply(ctx context.Context, tx Repository, inst *Installment) error {
	q, err := tx.GetQuotationForUpdate(ctx, *inst.QuotationID)
	if err != nil {
		return err
	}
	paidSoFar, err := tx.SumPaid(ctx, q.ID)
	if err != nil {
		return err
	}
	remaining := q.TotalAmount.Sub(paidSoFar)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	applied := money.Min(inst.Amount, remaining)
	overpaid := inst.Amount.Sub(applied)

	if err := tx.UpdateAmounts(ctx, inst.ID, applied, overpaid, paidSoFar.Add(applied), remaining.Sub(applied)); err != nil {
		return err
	}
	if overpaid.IsPositive() {
		if err := tx.IncrementCredit(ctx, q.CustomerID, overpaid); err != nil {
			return err
		}
	}
	if money.WithinTolerance(remaining.Sub(applied), decimal.Zero) {
		if err := tx.MarkQuotationCompleted(ctx, q.ID); err != nil {
			return err
		}
	}
	return nil
}

// unapply reverses the credit granted by a row leaving APPROVED; the paid
// total itself recovers through the approval predicate.
func (s *Service) unapply(ctx context.Context, tx Repository, inst *Installment) error {
	if !inst.OverpaidAmount.IsPositive() {
		return nil
	}
	q, err := tx.GetQuotationForUpdate(ctx, *inst.QuotationID)
	if err != nil {
		return err
	}
	return tx.IncrementCredit(ctx, q.CustomerID, inst.OverpaidAmount.Neg())
}

func (s *Service) Get(ctx context.Context, id int64) (*Installment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByQuotation(ctx context.Context, quotationID int64) ([]Installment, error) {
	return s.repo.ListByQuotation(ctx, quotationID)
}

// Summary returns the ledger aggregate for a quotation, served from the
// cache when warm.
func (s *Service) Summary(ctx context.Context, quotationID int64) (*Summary, error) {
	key := summaryCacheKey(quotationID)
	var cached Summary
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}
	summary, err := s.repo.Summary(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, summary); err != nil {
		s.logger.Warn("summary cache write", slog.Int64("quotation_id", quotationID), slog.Any("error", err))
	}
	return summary, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "payment_installment",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// notifyOvercredit informs the installment's creator that the overpaid
// portion moved to the customer's credit balance. Failures are logged and
// swallowed.
func (s *Service) notifyOvercredit(ctx context.Context, inst *Installment, customerID int64, delta decimal.Decimal) {
	if s.notifier == nil || inst.CreatedBy == "" {
		return
	}
	event := notify.Event{
		Type:        "payment.overpaid",
		Title:       fmt.Sprintf("Overpayment credited to customer %d", customerID),
		Message:     fmt.Sprintf("Installment %s exceeded the outstanding balance; %s was added to customer credit.", inst.Reference, delta.StringFixed(2)),
		ReferenceID: inst.Reference,
	}
	if err := s.notifier.Notify(ctx, []string{inst.CreatedBy}, event); err != nil {
		s.logger.Warn("dispatch notification", slog.String("reference", inst.Reference), slog.Any("error", err))
	}
}
