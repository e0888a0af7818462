package proformas

import (
	"time"

	"github.com/shopspring/decimal"
)

type PIStatus string

const (
	PIStatusDraft           PIStatus = "DRAFT"
	PIStatusPendingApproval PIStatus = "PENDING_APPROVAL"
	PIStatusApproved        PIStatus = "APPROVED"
	PIStatusRejected        PIStatus = "REJECTED"
	PIStatusSuperseded      PIStatus = "SUPERSEDED"
)

// Editable reports whether field-level updates are still permitted. Approved
// and superseded documents only change through the revision flow.
func (s PIStatus) Editable() bool {
	return s == PIStatusDraft || s == PIStatusPendingApproval
}

// ProformaInvoice is a single record type for both root PIs and revisions; a
// revision carries a parent reference and a monotonic revision number.
type ProformaInvoice struct {
	ID           int64           `json:"id"`
	PINumber     string          `json:"pi_number"`
	QuotationID  int64           `json:"quotation_id"`
	ParentPIID   *int64          `json:"parent_pi_id,omitempty"`
	RevisionNo   int             `json:"revision_no"`
	Status       PIStatus        `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Amendment    *Amendment      `json:"amendment_detail,omitempty"`
	ShippingMode *string         `json:"shipping_mode,omitempty"`
	DeliveryAddr *string         `json:"delivery_address,omitempty"`
	DeliveryTerm *string         `json:"delivery_terms,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedBy    string          `json:"created_by"`
	ApprovedBy   *string         `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	SupersededAt *time.Time      `json:"superseded_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsRevision reports whether this PI amends a parent.
func (p *ProformaInvoice) IsRevision() bool {
	return p.ParentPIID != nil
}

// Amendment is the minimal diff a revision applies to the original quotation
// items. Effective lines are computed on read by replaying it; revisions never
// copy line items.
type Amendment struct {
	RemovedLineIDs []int64       `json:"removed_line_ids,omitempty"`
	ReducedLines   []ReducedLine `json:"reduced_lines,omitempty"`
}

// ReducedLine lowers the quantity of an original quotation line; amounts
// follow proportionally.
type ReducedLine struct {
	LineID   int64           `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Empty reports whether the amendment changes nothing.
func (a *Amendment) Empty() bool {
	return a == nil || (len(a.RemovedLineIDs) == 0 && len(a.ReducedLines) == 0)
}
