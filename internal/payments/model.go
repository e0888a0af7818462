package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether the value is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// Installment is one recorded payment event against a quotation's outstanding
// balance. The applied/overpaid split and the running totals are snapshotted
// at insertion time; historical rows stay stable even if later installments
// are reversed.
type Installment struct {
	ID                int64           `json:"id"`
	QuotationID       *int64          `json:"quotation_id,omitempty"`
	LeadID            *int64          `json:"lead_id,omitempty"`
	ProformaInvoiceID *int64          `json:"proforma_invoice_id,omitempty"`
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"installment_amount"`
	AppliedAmount     decimal.Decimal `json:"applied_amount"`
	OverpaidAmount    decimal.Decimal `json:"overpaid_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	Method            string          `json:"payment_method"`
	PaidAt            time.Time       `json:"payment_date"`
	Reference         string          `json:"payment_reference"`
	ApprovalStatus    ApprovalStatus  `json:"approval_status"`
	ApprovalNotes     *string         `json:"approval_notes,omitempty"`
	ApprovedBy        *string         `json:"approved_by,omitempty"`
	IsRefund          bool            `json:"is_refund"`
	Notes             *string         `json:"notes,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Summary aggregates the ledger state of one quotation.
type Summary struct {
	QuotationID      int64           `json:"quotation_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	OverpaidAmount   decimal.Decimal `json:"overpaid_amount"`
	InstallmentCount int             `json:"installment_count"`
	Completed        bool            `json:"completed"`
}

// QuotationRef is the slice of a quotation the ledger needs while applying an
// installment under a row lock.
type QuotationRef struct {
	ID          int64
	DocNumber   string
	CustomerID  int64
	TotalAmount decimal.Decimal
	Status      string
}
