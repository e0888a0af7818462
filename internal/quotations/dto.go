package quotations

import "time"

type CreateQuotationRequest struct {
	CustomerID     int64                    `json:"customer_id" validate:"required,gt=0"`
	SalespersonID  int64                    `json:"salesperson_id" validate:"required,gt=0"`
	DiscountAmount float64                  `json:"discount_amount" validate:"gte=0"`
	TotalAmount    *float64                 `json:"total_amount,omitempty" validate:"omitempty,gte=0"`
	Notes          *string                  `json:"notes,omitempty"`
	Items          []CreateQuotationLineReq `json:"items" validate:"required,min=1,dive"`
}

type CreateQuotationLineReq struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"required,gte=0"`
	TaxRate     float64 `json:"tax_rate" validate:"gte=0,lte=100"`
	LineOrder   int     `json:"line_order" validate:"gte=0"`
}

type UpdateQuotationRequest struct {
	DiscountAmount *float64                  `json:"discount_amount,omitempty" validate:"omitempty,gte=0"`
	TotalAmount    *float64                  `json:"total_amount,omitempty" validate:"omitempty,gte=0"`
	Notes          *string                   `json:"notes,omitempty"`
	Items          *[]CreateQuotationLineReq `json:"items,omitempty" validate:"omitempty,min=1,dive"`
}

type ListQuotationsRequest struct {
	CustomerID *int64           `json:"customer_id,omitempty"`
	Status     *QuotationStatus `json:"status,omitempty"`
	DateFrom   *time.Time       `json:"date_from,omitempty"`
	DateTo     *time.Time       `json:"date_to,omitempty"`
	Limit      int              `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int              `json:"offset" validate:"gte=0"`
}
