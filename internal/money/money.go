// Package money provides decimal-safe currency arithmetic shared by the
// financial documents and the payment ledger. All amounts are single-currency
// values rounded to 2 decimal places.
package money

import "github.com/shopspring/decimal"

// Tolerance is the rounding tolerance accepted when comparing client-supplied
// totals against recomputed ones.
var Tolerance = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// Zero returns the zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// FromFloat converts a float into a currency amount.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// Round2 rounds an amount to currency precision.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds amounts at currency precision.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total.Round(2)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// WithinTolerance reports whether two amounts agree within Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// LineAmounts computes the taxable amount, tax amount and line total for a
// line item from quantity, unit price and tax rate (percent).
func LineAmounts(quantity, unitPrice, taxRate decimal.Decimal) (taxable, tax, total decimal.Decimal) {
	taxable = quantity.Mul(unitPrice).Round(2)
	tax = taxable.Mul(taxRate).Div(hundred).Round(2)
	total = taxable.Add(tax)
	return taxable, tax, total
}

// Scale multiplies an amount by ratio numerator/denominator, used when a
// revision reduces a line quantity and the amounts follow proportionally.
// A zero denominator yields zero.
func Scale(amount, numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(numerator).Div(denominator).Round(2)
}
