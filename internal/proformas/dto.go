package proformas

type TotalsOverride struct {
	Subtotal    float64 `json:"subtotal" validate:"gte=0"`
	TaxAmount   float64 `json:"tax_amount" validate:"gte=0"`
	TotalAmount float64 `json:"total_amount" validate:"gte=0"`
}

type CreatePIRequest struct {
	// Overrides allow a partial-amount PI; when absent the quotation totals
	// are snapshotted.
	Overrides    *TotalsOverride `json:"overrides,omitempty" validate:"omitempty"`
	ShippingMode *string         `json:"shipping_mode,omitempty" validate:"omitempty,max=100"`
	DeliveryAddr *string         `json:"delivery_address,omitempty" validate:"omitempty,max=500"`
	DeliveryTerm *string         `json:"delivery_terms,omitempty" validate:"omitempty,max=200"`
	Notes        *string         `json:"notes,omitempty"`
}

type ReducedLineReq struct {
	LineID   int64   `json:"line_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

type CreateRevisionRequest struct {
	RemovedLineIDs []int64          `json:"removed_line_ids,omitempty"`
	ReducedLines   []ReducedLineReq `json:"reduced_lines,omitempty" validate:"omitempty,dive"`
	Subtotal       float64          `json:"subtotal" validate:"gte=0"`
	TaxAmount      float64          `json:"tax_amount" validate:"gte=0"`
	TotalAmount    float64          `json:"total_amount" validate:"gte=0"`
	Notes          *string          `json:"notes,omitempty"`
}

type UpdatePIRequest struct {
	ShippingMode *string `json:"shipping_mode,omitempty" validate:"omitempty,max=100"`
	DeliveryAddr *string `json:"delivery_address,omitempty" validate:"omitempty,max=500"`
	DeliveryTerm *string `json:"delivery_terms,omitempty" validate:"omitempty,max=200"`
	Notes        *string `json:"notes,omitempty"`
}
