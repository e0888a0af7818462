package payments

import "time"

type RecordInstallmentRequest struct {
	QuotationID *int64     `json:"quotation_id,omitempty" validate:"omitempty,gt=0"`
	LeadID      *int64     `json:"lead_id,omitempty" validate:"omitempty,gt=0"`
	Amount      float64    `json:"amount" validate:"required,gt=0"`
	Method      string     `json:"payment_method" validate:"required,max=50"`
	PaidAt      *time.Time `json:"payment_date,omitempty"`
	Reference   *string    `json:"payment_reference,omitempty" validate:"omitempty,max=100"`
	Notes       *string    `json:"notes,omitempty"`
}

type AdjustCreditRequest struct {
	Amount float64 `json:"amount" validate:"required"`
	Notes  *string `json:"notes,omitempty"`
}

type UpdateApprovalStatusRequest struct {
	Status ApprovalStatus `json:"status" validate:"required"`
	Notes  *string        `json:"notes,omitempty"`
}
