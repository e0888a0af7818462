package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer's accumulated credit from overpayments. The balance
// only ever grows through the ledger; drawdowns are a future concern.
type Account struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
