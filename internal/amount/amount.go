// Package amount computes the net cash an order is expected to collect from
// its line items and discount layers. It is the only place this is computed.
package amount

import (
	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// CentPlaces is the precision of money comparisons
const CentPlaces = 2

var hundred = decimal.NewFromInt(100)

// ApplyPercentChain reduces value by each percentage in turn. Missing
// percentages and percentages outside [0,100] are skipped.
func ApplyPercentChain(value decimal.Decimal, percents ...decimal.NullDecimal) decimal.Decimal {
	for _, p := range percents {
		if !p.Valid || p.Decimal.IsNegative() || p.Decimal.GreaterThan(hundred) {
			continue
		}
		value = value.Mul(hundred.Sub(p.Decimal)).Div(hundred)
	}
	return value
}

// Net returns the order's net cash amount:
//
//	Σ qty·price·chain(order%, line%)
//	+ max shipping add-on ·chain(order%)
//	− Σ qty·advance·chain(order%, line%)
//	− max advance shipping add-on
//
// ok is false when the amount is unknown: no items, a negative quantity, or
// no monetary field present on any line.
func Net(items []models.LineItem) (decimal.Decimal, bool) {
	if len(items) == 0 {
		return decimal.Zero, false
	}

	var (
		cod, advances           decimal.Decimal
		shipping, addonAdvance  decimal.Decimal
		haveShipping, haveValue bool
		haveAddonAdvance        bool
	)

	for _, it := range items {
		qty := decimal.Zero
		if it.Quantity.Valid {
			if it.Quantity.Decimal.IsNegative() {
				return decimal.Zero, false
			}
			qty = it.Quantity.Decimal
		}

		if it.UnitPrice.Valid {
			haveValue = true
			cod = cod.Add(qty.Mul(ApplyPercentChain(it.UnitPrice.Decimal, it.OrderDiscount, it.LineDiscount)))
		}
		if it.Advance.Valid {
			haveValue = true
			advances = advances.Add(qty.Mul(ApplyPercentChain(it.Advance.Decimal, it.OrderDiscount, it.LineDiscount)))
		}
		// the provider repeats order-level add-ons on every row
		if it.ShippingAddon.Valid {
			haveValue = true
			s := ApplyPercentChain(it.ShippingAddon.Decimal, it.OrderDiscount)
			if !haveShipping || s.GreaterThan(shipping) {
				shipping, haveShipping = s, true
			}
		}
		if it.AddonAdvance.Valid {
			haveValue = true
			if !haveAddonAdvance || it.AddonAdvance.Decimal.GreaterThan(addonAdvance) {
				addonAdvance, haveAddonAdvance = it.AddonAdvance.Decimal, true
			}
		}
	}

	if !haveValue {
		return decimal.Zero, false
	}
	return cod.Add(shipping).Sub(advances).Sub(addonAdvance), true
}

// IsFullyComped reports whether every line carries a 100% order discount,
// i.e. the order was given away and no invoice is expected.
func IsFullyComped(items []models.LineItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.OrderDiscount.Valid || !it.OrderDiscount.Decimal.Equal(hundred) {
			return false
		}
	}
	return true
}

// Cents truncates an amount to whole cents
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(CentPlaces)
}

// CentsEqual compares two amounts at cent precision. Sub-cent digits are
// dropped, not rounded, so 1000.004 equals 1000.001 but not 999.999.
// A discounted net with a sub-cent tail such as 1999.995 compares as 1999.99
// and never equals an invoice that was rounded up to 2000.00.
func CentsEqual(a, b decimal.Decimal) bool {
	return Cents(a).Equal(Cents(b))
}
