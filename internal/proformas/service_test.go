package proformas

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/quotations"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakePIRepo struct {
	pis    map[int64]*ProformaInvoice
	nextID int64
	seq    int
}

func newFakePIRepo() *fakePIRepo {
	return &fakePIRepo{pis: map[int64]*ProformaInvoice{}}
}

func (f *fakePIRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakePIRepo) Get(_ context.Context, id int64) (*ProformaInvoice, error) {
	pi, ok := f.pis[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *pi
	return &cp, nil
}

func (f *fakePIRepo) GetForUpdate(ctx context.Context, id int64) (*ProformaInvoice, error) {
	return f.Get(ctx, id)
}

func (f *fakePIRepo) GetActiveByQuotation(_ context.Context, quotationID int64) (*ProformaInvoice, error) {
	for _, pi := range f.pis {
		if pi.QuotationID == quotationID && pi.Status == PIStatusApproved {
			cp := *pi
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakePIRepo) ExistsOpen(_ context.Context, quotationID int64) (bool, error) {
	for _, pi := range f.pis {
		if pi.QuotationID == quotationID && pi.Status != PIStatusRejected && pi.Status != PIStatusSuperseded {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePIRepo) ListByQuotation(_ context.Context, quotationID int64) ([]ProformaInvoice, error) {
	var out []ProformaInvoice
	for _, pi := range f.pis {
		if pi.QuotationID == quotationID {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (f *fakePIRepo) Create(_ context.Context, pi ProformaInvoice) (int64, error) {
	if pi.ParentPIID != nil {
		max := 0
		for _, sibling := range f.pis {
			if sibling.ParentPIID != nil && *sibling.ParentPIID == *pi.ParentPIID && sibling.RevisionNo > max {
				max = sibling.RevisionNo
			}
		}
		pi.RevisionNo = max + 1
	}
	f.nextID++
	pi.ID = f.nextID
	f.pis[pi.ID] = &pi
	return pi.ID, nil
}

func (f *fakePIRepo) UpdateStatus(_ context.Context, id int64, status PIStatus, actor string) error {
	pi, ok := f.pis[id]
	if !ok {
		return shared.ErrNotFound
	}
	pi.Status = status
	if status == PIStatusApproved {
		pi.ApprovedBy = &actor
		now := time.Now()
		pi.ApprovedAt = &now
	}
	return nil
}

func (f *fakePIRepo) MarkSuperseded(_ context.Context, id int64) error {
	pi, ok := f.pis[id]
	if !ok {
		return shared.ErrNotFound
	}
	pi.Status = PIStatusSuperseded
	now := time.Now()
	pi.SupersededAt = &now
	return nil
}

func (f *fakePIRepo) UpdateDetails(_ context.Context, id int64, req UpdatePIRequest) error {
	pi, ok := f.pis[id]
	if !ok {
		return shared.ErrNotFound
	}
	if req.ShippingMode != nil {
		pi.ShippingMode = req.ShippingMode
	}
	if req.DeliveryAddr != nil {
		pi.DeliveryAddr = req.DeliveryAddr
	}
	if req.DeliveryTerm != nil {
		pi.DeliveryTerm = req.DeliveryTerm
	}
	if req.Notes != nil {
		pi.Notes = req.Notes
	}
	return nil
}

func (f *fakePIRepo) NextPINumber(_ context.Context, at time.Time) (string, error) {
	f.seq++
	return fmt.Sprintf("PI-%s-%04d", at.Format("2006-01"), f.seq), nil
}

type fakeQuotationSource struct {
	quotations map[int64]*quotations.Quotation
}

func (f *fakeQuotationSource) Get(_ context.Context, id int64) (*quotations.Quotation, error) {
	q, ok := f.quotations[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

type recordingSink struct {
	logs []shared.ApprovalLog
}

func (r *recordingSink) Record(_ context.Context, log shared.ApprovalLog) error {
	r.logs = append(r.logs, log)
	return nil
}

type discardAudit struct{}

func (discardAudit) Record(context.Context, shared.AuditLog) error { return nil }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f).Round(2) }

func approvedQuotation() *quotations.Quotation {
	return &quotations.Quotation{
		ID:          11,
		DocNumber:   "QT202608001",
		CustomerID:  7,
		Status:      quotations.QuotationStatusApproved,
		Subtotal:    dec(702.00),
		TaxAmount:   dec(50.20),
		TotalAmount: dec(752.20),
		CreatedBy:   "sales@meridian.local",
		Lines: []quotations.QuotationLine{
			{ID: 1, QuotationID: 11, Description: "Hydraulic pump", Quantity: dec(4),
				UnitPrice: dec(125.50), TaxRate: dec(10), TaxableAmount: dec(502.00),
				TaxAmount: dec(50.20), LineTotal: dec(552.20), LineOrder: 1},
			{ID: 2, QuotationID: 11, Description: "Install service", Quantity: dec(1),
				UnitPrice: dec(200), TaxRate: dec(0), TaxableAmount: dec(200),
				TaxAmount: dec(0), LineTotal: dec(200), LineOrder: 2},
		},
	}
}

func newPIService(repo *fakePIRepo, src *fakeQuotationSource) (*Service, *recordingSink) {
	sink := &recordingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, src, sink, discardAudit{}, notify.Nop{}, logger), sink
}

func approvedRootPI(t *testing.T, svc *Service) *ProformaInvoice {
	t.Helper()
	pi, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), pi.ID, "sales@meridian.local")
	require.NoError(t, err)
	pi, err = svc.Approve(context.Background(), pi.ID, "finance@meridian.local")
	require.NoError(t, err)
	return pi
}

func TestCreatePISnapshotsQuotationTotals(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)

	pi, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	require.NoError(t, err)

	assert.Equal(t, PIStatusDraft, pi.Status)
	assert.Regexp(t, `^PI-\d{4}-\d{2}-0001$`, pi.PINumber)
	assert.Equal(t, 0, pi.RevisionNo)
	assert.Nil(t, pi.ParentPIID)
	assert.True(t, pi.TotalAmount.Equal(dec(752.20)))
}

func TestCreatePIRequiresApprovedQuotation(t *testing.T) {
	q := approvedQuotation()
	q.Status = quotations.QuotationStatusDraft
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: q}}
	svc, _ := newPIService(repo, src)

	_, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreatePIBlockedByOpenPI(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)

	_, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	require.NoError(t, err)

	_, err = svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreatePIPartialOverride(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)

	pi, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{
		Overrides: &TotalsOverride{Subtotal: 351.00, TaxAmount: 25.10, TotalAmount: 376.10},
	}, "sales@meridian.local")
	require.NoError(t, err)
	assert.True(t, pi.TotalAmount.Equal(dec(376.10)))
}

func TestCreatePIOverrideValidation(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)

	_, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{
		Overrides: &TotalsOverride{Subtotal: 351.00, TaxAmount: 25.10, TotalAmount: 400.00},
	}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{
		Overrides: &TotalsOverride{Subtotal: 900.00, TaxAmount: 90.00, TotalAmount: 990.00},
	}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRevisionRequiresApprovedParent(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)

	pi, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	require.NoError(t, err)

	_, err = svc.CreateRevision(context.Background(), pi.ID, CreateRevisionRequest{
		RemovedLineIDs: []int64{2},
		Subtotal:       502.00, TaxAmount: 50.20, TotalAmount: 552.20,
	}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreateRevisionRejectsEmptyAmendment(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	_, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		Subtotal: 502.00, TaxAmount: 50.20, TotalAmount: 552.20,
	}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRevisionRejectsIncreasedTotal(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	_, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		RemovedLineIDs: []int64{2},
		Subtotal:       900.00, TaxAmount: 90.00, TotalAmount: 990.00,
	}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRevisionNumbersIncrease(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	rev1, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		RemovedLineIDs: []int64{2},
		Subtotal:       502.00, TaxAmount: 50.20, TotalAmount: 552.20,
	}, "sales@meridian.local")
	require.NoError(t, err)
	assert.Equal(t, 1, rev1.RevisionNo)
	require.NotNil(t, rev1.ParentPIID)
	assert.Equal(t, parent.ID, *rev1.ParentPIID)

	rev2, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		ReducedLines: []ReducedLineReq{{LineID: 1, Quantity: 2}},
		Subtotal:     451.00, TaxAmount: 25.10, TotalAmount: 476.10,
	}, "sales@meridian.local")
	require.NoError(t, err)
	assert.Equal(t, 2, rev2.RevisionNo)
}

func TestApproveRevisionSupersedesParentAtomically(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, sink := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	rev, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		RemovedLineIDs: []int64{2},
		Subtotal:       502.00, TaxAmount: 50.20, TotalAmount: 552.20,
	}, "sales@meridian.local")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), rev.ID, "sales@meridian.local")
	require.NoError(t, err)

	rev, err = svc.Approve(context.Background(), rev.ID, "finance@meridian.local")
	require.NoError(t, err)
	assert.Equal(t, PIStatusApproved, rev.Status)

	parent, err = svc.Get(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, PIStatusSuperseded, parent.Status)
	assert.NotNil(t, parent.SupersededAt)

	active, err := svc.GetActivePI(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, active.ID)

	var actions []shared.ApprovalAction
	for _, log := range sink.logs {
		actions = append(actions, log.Action)
	}
	assert.Contains(t, actions, shared.ApprovalSupersede)
}

func TestRejectRevisionKeepsParentActive(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	rev, err := svc.CreateRevision(context.Background(), parent.ID, CreateRevisionRequest{
		RemovedLineIDs: []int64{2},
		Subtotal:       502.00, TaxAmount: 50.20, TotalAmount: 552.20,
	}, "sales@meridian.local")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), rev.ID, "sales@meridian.local")
	require.NoError(t, err)

	rev, err = svc.Reject(context.Background(), rev.ID, "finance@meridian.local", "scope disputed")
	require.NoError(t, err)
	assert.Equal(t, PIStatusRejected, rev.Status)

	active, err := svc.GetActivePI(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, active.ID)
}

// racingPIRepo mimics two root approvals racing: the active check passes but
// the one-active-PI unique index rejects the write.
type racingPIRepo struct {
	*fakePIRepo
}

func (f *racingPIRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *racingPIRepo) UpdateStatus(ctx context.Context, id int64, status PIStatus, actor string) error {
	if status == PIStatusApproved {
		return fmt.Errorf("%w: quotation already has an active proforma invoice", shared.ErrConflict)
	}
	return f.fakePIRepo.UpdateStatus(ctx, id, status, actor)
}

func TestApproveReturnsConflictWhenAnotherApprovalWins(t *testing.T) {
	repo := &racingPIRepo{fakePIRepo: newFakePIRepo()}
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	sink := &recordingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, src, sink, discardAudit{}, notify.Nop{}, logger)

	pi, err := svc.CreateFromQuotation(context.Background(), 11, CreatePIRequest{}, "sales@meridian.local")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), pi.ID, "sales@meridian.local")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), pi.ID, "finance@meridian.local")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestApprovedPIIsImmutable(t *testing.T) {
	repo := newFakePIRepo()
	src := &fakeQuotationSource{quotations: map[int64]*quotations.Quotation{11: approvedQuotation()}}
	svc, _ := newPIService(repo, src)
	parent := approvedRootPI(t, svc)

	mode := "sea freight"
	_, err := svc.Update(context.Background(), parent.ID, UpdatePIRequest{ShippingMode: &mode}, "sales@meridian.local")
	assert.ErrorIs(t, err, shared.ErrImmutableDocument)
}

func TestApplyAmendment(t *testing.T) {
	lines := approvedQuotation().Lines

	effective := ApplyAmendment(lines, &Amendment{
		RemovedLineIDs: []int64{2},
		ReducedLines:   []ReducedLine{{LineID: 1, Quantity: dec(2)}},
	})

	require.Len(t, effective, 1)
	line := effective[0]
	assert.True(t, line.Quantity.Equal(dec(2)))
	assert.True(t, line.TaxableAmount.Equal(dec(251.00)), "taxable %s", line.TaxableAmount)
	assert.True(t, line.TaxAmount.Equal(dec(25.10)), "tax %s", line.TaxAmount)
	assert.True(t, line.LineTotal.Equal(dec(276.10)), "total %s", line.LineTotal)
}

func TestApplyAmendmentIgnoresIncreases(t *testing.T) {
	lines := approvedQuotation().Lines

	effective := ApplyAmendment(lines, &Amendment{
		ReducedLines: []ReducedLine{{LineID: 1, Quantity: dec(10)}},
	})

	require.Len(t, effective, 2)
	assert.True(t, effective[0].Quantity.Equal(dec(4)))
}
