package payments

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeLedgerRepo struct {
	quotations   map[int64]*QuotationRef
	installments []Installment
	credits      map[int64]decimal.Decimal
	nextID       int64
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		quotations: map[int64]*QuotationRef{},
		credits:    map[int64]decimal.Decimal{},
	}
}

func (f *fakeLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeLedgerRepo) GetQuotationForUpdate(_ context.Context, quotationID int64) (*QuotationRef, error) {
	q, ok := f.quotations[quotationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeLedgerRepo) SumPaid(_ context.Context, quotationID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, inst := range f.installments {
		if inst.QuotationID != nil && *inst.QuotationID == quotationID &&
			inst.ApprovalStatus == ApprovalStatusApproved && !inst.IsRefund {
			sum = sum.Add(inst.AppliedAmount)
		}
	}
	return sum, nil
}

func (f *fakeLedgerRepo) CountByQuotation(_ context.Context, quotationID int64) (int, error) {
	n := 0
	for _, inst := range f.installments {
		if inst.QuotationID != nil && *inst.QuotationID == quotationID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedgerRepo) CountByLead(_ context.Context, leadID int64) (int, error) {
	n := 0
	for _, inst := range f.installments {
		if inst.LeadID != nil && *inst.LeadID == leadID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedgerRepo) Insert(_ context.Context, inst Installment) (int64, error) {
	f.nextID++
	inst.ID = f.nextID
	f.installments = append(f.installments, inst)
	return inst.ID, nil
}

func (f *fakeLedgerRepo) IncrementCredit(_ context.Context, customerID int64, delta decimal.Decimal) error {
	f.credits[customerID] = f.credits[customerID].Add(delta)
	return nil
}

func (f *fakeLedgerRepo) MarkQuotationCompleted(_ context.Context, quotationID int64) error {
	q, ok := f.quotations[quotationID]
	if !ok {
		return shared.ErrNotFound
	}
	q.Status = "COMPLETED"
	return nil
}

func (f *fakeLedgerRepo) Get(_ context.Context, id int64) (*Installment, error) {
	for _, inst := range f.installments {
		if inst.ID == id {
			cp := inst
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeLedgerRepo) ListByQuotation(_ context.Context, quotationID int64) ([]Installment, error) {
	var out []Installment
	for _, inst := range f.installments {
		if inst.QuotationID != nil && *inst.QuotationID == quotationID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) UpdateApprovalStatus(_ context.Context, id int64, status ApprovalStatus, actor string, notes *string) error {
	for i := range f.installments {
		if f.installments[i].ID == id {
			f.installments[i].ApprovalStatus = status
			f.installments[i].ApprovedBy = &actor
			f.installments[i].ApprovalNotes = notes
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeLedgerRepo) UpdateAmounts(_ context.Context, id int64, applied, overpaid, paid, remaining decimal.Decimal) error {
	for i := range f.installments {
		if f.installments[i].ID == id {
			f.installments[i].AppliedAmount = applied
			f.installments[i].OverpaidAmount = overpaid
			f.installments[i].PaidAmount = paid
			f.installments[i].RemainingAmount = remaining
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeLedgerRepo) Summary(ctx context.Context, quotationID int64) (*Summary, error) {
	q, ok := f.quotations[quotationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	paid, _ := f.SumPaid(ctx, quotationID)
	overpaid := decimal.Zero
	count := 0
	for _, inst := range f.installments {
		if inst.QuotationID != nil && *inst.QuotationID == quotationID {
			count++
			if inst.ApprovalStatus == ApprovalStatusApproved && !inst.IsRefund {
				overpaid = overpaid.Add(inst.OverpaidAmount)
			}
		}
	}
	remaining := q.TotalAmount.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &Summary{
		QuotationID:      quotationID,
		TotalAmount:      q.TotalAmount,
		PaidAmount:       paid,
		RemainingAmount:  remaining,
		OverpaidAmount:   overpaid,
		InstallmentCount: count,
		Completed:        q.Status == "COMPLETED",
	}, nil
}

type fixedResolver struct {
	piID *int64
}

func (r fixedResolver) ActivePIID(context.Context, int64) (*int64, error) {
	return r.piID, nil
}

type silentAudit struct{}

func (silentAudit) Record(context.Context, shared.AuditLog) error { return nil }

func newLedgerService(t *testing.T, repo *fakeLedgerRepo) *Service {
	t.Helper()
	return newLedgerServiceWithCache(t, repo, nil)
}

func newLedgerServiceWithCache(t *testing.T, repo *fakeLedgerRepo, c *cache.Cache) *Service {
	t.Helper()
	piID := int64(21)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, fixedResolver{piID: &piID}, c, silentAudit{}, notify.Nop{}, logger)
}

func seedQuotation(repo *fakeLedgerRepo, total float64) int64 {
	repo.quotations[11] = &QuotationRef{
		ID:          11,
		DocNumber:   "QT202608001",
		CustomerID:  7,
		TotalAmount: decimal.NewFromFloat(total),
		Status:      "APPROVED",
	}
	return 11
}

func TestRecordInstallmentAppliesAgainstBalance(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.Equal(t, 1, inst.InstallmentNumber)
	assert.True(t, inst.AppliedAmount.Equal(decimal.NewFromInt(400)))
	assert.True(t, inst.OverpaidAmount.IsZero())
	assert.True(t, inst.PaidAmount.Equal(decimal.NewFromInt(400)))
	assert.True(t, inst.RemainingAmount.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, ApprovalStatusApproved, inst.ApprovalStatus)
	require.NotNil(t, inst.ProformaInvoiceID)
	assert.Equal(t, int64(21), *inst.ProformaInvoiceID)
	assert.NotEmpty(t, inst.Reference)
	assert.Equal(t, "APPROVED", repo.quotations[qid].Status)
}

func TestRecordInstallmentCompletesQuotation(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 600, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.Equal(t, 2, inst.InstallmentNumber)
	assert.True(t, inst.RemainingAmount.IsZero())
	assert.Equal(t, "COMPLETED", repo.quotations[qid].Status)
}

func TestRecordInstallmentSplitsOverpayment(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 1200, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, inst.AppliedAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, inst.OverpaidAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, inst.RemainingAmount.IsZero())
	assert.True(t, repo.credits[7].Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "COMPLETED", repo.quotations[qid].Status)
}

func TestRecordInstallmentOnPaidQuotationIsAllCredit(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 1000, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 250, Method: "cash",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, inst.AppliedAmount.IsZero())
	assert.True(t, inst.OverpaidAmount.Equal(decimal.NewFromInt(250)))
	assert.True(t, repo.credits[7].Equal(decimal.NewFromInt(250)))
}

func TestRecordInstallmentRejectsDraftQuotation(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	repo.quotations[qid].Status = "DRAFT"
	svc := newLedgerService(t, repo)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 100, Method: "cash",
	}, "finance@meridian.local")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordInstallmentRequiresTarget(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newLedgerService(t, repo)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		Amount: 100, Method: "cash",
	}, "finance@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordLeadInstallmentTracksOnly(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newLedgerService(t, repo)

	leadID := int64(42)
	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		LeadID: &leadID, Amount: 500, Method: "cash",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.Equal(t, 1, inst.InstallmentNumber)
	assert.True(t, inst.AppliedAmount.IsZero())
	assert.True(t, inst.OverpaidAmount.IsZero())
	assert.Empty(t, repo.credits)
}

func TestRefundsDoNotCountAsPaid(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	// Refund rows are excluded from the paid total even when approved.
	repo.installments = append(repo.installments, Installment{
		ID: 99, QuotationID: &qid, InstallmentNumber: 2,
		Amount: decimal.NewFromInt(400), AppliedAmount: decimal.NewFromInt(400),
		ApprovalStatus: ApprovalStatusApproved, IsRefund: true,
		Method: "bank_transfer", PaidAt: time.Now(),
	})

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 600, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, inst.AppliedAmount.Equal(decimal.NewFromInt(600)))
	assert.True(t, inst.PaidAmount.Equal(decimal.NewFromInt(1000)))
}

func TestPendingInstallmentsDoNotCountAsPaid(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	first, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	_, err = svc.UpdateApprovalStatus(context.Background(), first.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusRejected,
	}, "finance@meridian.local")
	require.NoError(t, err)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 1000, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, inst.AppliedAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, inst.RemainingAmount.IsZero())
}

func TestReapprovalRecomputesAgainstCurrentBalance(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	first, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	_, err = svc.UpdateApprovalStatus(context.Background(), first.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusRejected,
	}, "finance@meridian.local")
	require.NoError(t, err)

	// The quotation is then collected in full by a later installment.
	_, err = svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 1000, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	// Re-approving the first row must not replay its stale 400 split: the
	// balance is gone, so the whole amount goes to credit.
	reapproved, err := svc.UpdateApprovalStatus(context.Background(), first.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusApproved,
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, reapproved.AppliedAmount.IsZero())
	assert.True(t, reapproved.OverpaidAmount.Equal(decimal.NewFromInt(400)))
	assert.True(t, repo.credits[7].Equal(decimal.NewFromInt(400)))

	paid, err := repo.SumPaid(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, paid.Equal(decimal.NewFromInt(1000)))
}

func TestReapprovalSplitsPartialRemainder(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	first, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	_, err = svc.UpdateApprovalStatus(context.Background(), first.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusRejected,
	}, "finance@meridian.local")
	require.NoError(t, err)

	_, err = svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 900, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	reapproved, err := svc.UpdateApprovalStatus(context.Background(), first.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusApproved,
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, reapproved.AppliedAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, reapproved.OverpaidAmount.Equal(decimal.NewFromInt(300)))
	assert.True(t, repo.credits[7].Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "COMPLETED", repo.quotations[qid].Status)
}

func TestRejectingOverpaidInstallmentReversesCredit(t *testing.T) {
	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerService(t, repo)

	inst, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 1200, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)
	require.True(t, repo.credits[7].Equal(decimal.NewFromInt(200)))

	_, err = svc.UpdateApprovalStatus(context.Background(), inst.ID, UpdateApprovalStatusRequest{
		Status: ApprovalStatusRejected,
	}, "finance@meridian.local")
	require.NoError(t, err)

	assert.True(t, repo.credits[7].IsZero())
	paid, err := repo.SumPaid(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, paid.IsZero())
}

func TestUpdateApprovalStatusRejectsUnknownValue(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newLedgerService(t, repo)

	_, err := svc.UpdateApprovalStatus(context.Background(), 1, UpdateApprovalStatusRequest{
		Status: "MAYBE",
	}, "finance@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSummaryUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewCache(client, time.Minute)

	repo := newFakeLedgerRepo()
	qid := seedQuotation(repo, 1000)
	svc := newLedgerServiceWithCache(t, repo, c)

	_, err := svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 400, Method: "bank_transfer",
	}, "finance@meridian.local")
	require.NoError(t, err)

	first, err := svc.Summary(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, first.PaidAmount.Equal(decimal.NewFromInt(400)))

	// Mutating the store behind the cache leaves the cached value in place.
	repo.installments = nil
	cached, err := svc.Summary(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, cached.PaidAmount.Equal(decimal.NewFromInt(400)))

	// A new installment invalidates and the next read recomputes.
	_, err = svc.RecordInstallment(context.Background(), RecordInstallmentRequest{
		QuotationID: &qid, Amount: 100, Method: "cash",
	}, "finance@meridian.local")
	require.NoError(t, err)

	fresh, err := svc.Summary(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, fresh.PaidAmount.Equal(decimal.NewFromInt(100)))
}
