package quotations

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuotationStatus string

const (
	QuotationStatusDraft     QuotationStatus = "DRAFT"
	QuotationStatusPending   QuotationStatus = "PENDING"
	QuotationStatusApproved  QuotationStatus = "APPROVED"
	QuotationStatusRejected  QuotationStatus = "REJECTED"
	QuotationStatusSent      QuotationStatus = "SENT"
	QuotationStatusAccepted  QuotationStatus = "ACCEPTED"
	QuotationStatusCompleted QuotationStatus = "COMPLETED"
)

// Editable reports whether line items may still change in this status.
func (s QuotationStatus) Editable() bool {
	return s == QuotationStatusDraft || s == QuotationStatusPending
}

type Quotation struct {
	ID              int64           `json:"id"`
	DocNumber       string          `json:"doc_number"`
	CustomerID      int64           `json:"customer_id"`
	SalespersonID   int64           `json:"salesperson_id"`
	Status          QuotationStatus `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Notes           *string         `json:"notes,omitempty"`
	CreatedBy       string          `json:"created_by"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      *string         `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Lines           []QuotationLine `json:"lines,omitempty"`
}

type QuotationLine struct {
	ID            int64           `json:"id"`
	QuotationID   int64           `json:"quotation_id"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	LineTotal     decimal.Decimal `json:"line_total"`
	LineOrder     int             `json:"line_order"`
}
