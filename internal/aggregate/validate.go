package aggregate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

// ValidateQuote rejects provider responses that parsed but do not
// describe a tradable snapshot. Suspended stocks quote a zero price
// and are treated as unavailable rather than served.
func ValidateQuote(symbol string, q *domain.Quote) error {
	if q == nil {
		return fmt.Errorf("validate: nil quote")
	}
	if q.Code != symbol {
		return fmt.Errorf("validate: quote for %s, requested %s", q.Code, symbol)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("validate: non-positive price %s", q.Price)
	}
	if q.Price.GreaterThan(maxPlausiblePrice) {
		return fmt.Errorf("validate: implausible price %s", q.Price)
	}
	if q.Volume < 0 {
		return fmt.Errorf("validate: negative volume %d", q.Volume)
	}
	return nil
}

// maxPlausiblePrice guards against unit mix-ups in provider payloads;
// no listed CN stock has ever traded near this.
var maxPlausiblePrice = decimal.NewFromInt(100000)

// ValidateTicks accepts a tick response when it contains at least one
// well-formed tick for the requested symbol. Individual malformed
// ticks pass through and are counted by the classifier.
func ValidateTicks(symbol string, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return fmt.Errorf("validate: empty tick response")
	}
	wellFormed := 0
	for i, tick := range ticks {
		if tick.Symbol != symbol {
			return fmt.Errorf("validate: tick %d for %s, requested %s", i, tick.Symbol, symbol)
		}
		if !tick.Malformed() {
			wellFormed++
		}
	}
	if wellFormed == 0 {
		return fmt.Errorf("validate: all %d ticks malformed", len(ticks))
	}
	return nil
}

// ValidateTimeshare accepts a bar response when every bar belongs to
// the symbol and times are strictly increasing.
func ValidateTimeshare(symbol string, bars []domain.Timeshare) error {
	if len(bars) == 0 {
		return fmt.Errorf("validate: empty timeshare response")
	}
	for i, bar := range bars {
		if bar.Symbol != symbol {
			return fmt.Errorf("validate: bar %d for %s, requested %s", i, bar.Symbol, symbol)
		}
		if i > 0 && bars[i].Time <= bars[i-1].Time {
			return fmt.Errorf("validate: bar %d time not increasing", i)
		}
	}
	return nil
}
