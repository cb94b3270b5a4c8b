package domain

import "github.com/shopspring/decimal"

// Side is the trade direction of a tick.
type Side string

// Tick side constants. SideUnknown marks ticks whose provider did not
// label a direction; the classifier infers one from the prior price.
const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideNeutral Side = "neutral"
	SideUnknown Side = ""
)

// Tick is one executed trade record, normalized from a provider feed.
// Immutable once created; Amount is always Price × Volume, never taken
// from the provider verbatim (providers disagree on units).
type Tick struct {
	Seq    int64           // monotonic sequence within one symbol/day
	Symbol string          // stock code, e.g. "603001"
	Time   int64           // Unix timestamp in milliseconds
	Price  decimal.Decimal // execution price in currency units
	Volume int64           // shares
	Amount decimal.Decimal // Price × Volume, recomputed at construction
	Side   Side            // provider-labeled side, SideUnknown if absent
	Source string          // provider id that produced the tick
}

// NewTick builds a tick and recomputes Amount from price and volume.
func NewTick(seq int64, symbol string, ts int64, price decimal.Decimal, volume int64, side Side, source string) Tick {
	return Tick{
		Seq:    seq,
		Symbol: symbol,
		Time:   ts,
		Price:  price,
		Volume: volume,
		Amount: price.Mul(decimal.NewFromInt(volume)),
		Side:   side,
		Source: source,
	}
}

// Malformed reports whether the tick must be excluded from classification.
func (t Tick) Malformed() bool {
	return t.Volume <= 0 || !t.Price.IsPositive()
}
