package classify

import (
	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

// ResolveSide returns the trade direction for a tick. The
// provider-reported side wins when present; otherwise the direction is
// inferred by comparing the trade price to the reference price (the
// best prior same-symbol trade, seeded with the previous close).
// price ≥ reference leans Buy, price < reference leans Sell. With no
// usable reference the tick stays Neutral.
func ResolveSide(labeled domain.Side, price, reference decimal.Decimal) domain.Side {
	switch labeled {
	case domain.SideBuy, domain.SideSell, domain.SideNeutral:
		return labeled
	}
	if !reference.IsPositive() {
		return domain.SideNeutral
	}
	if price.GreaterThanOrEqual(reference) {
		return domain.SideBuy
	}
	return domain.SideSell
}
