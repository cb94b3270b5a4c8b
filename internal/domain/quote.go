package domain

import "github.com/shopspring/decimal"

// Quote is a snapshot of a symbol's current trading state.
// Immutable per fetch; FetchedAt records when the snapshot was taken.
type Quote struct {
	Code      string
	Name      string
	Price     decimal.Decimal
	PrevClose decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    int64           // shares
	Turnover  decimal.Decimal // currency units
	FetchedAt int64           // Unix timestamp in milliseconds
	Source    string          // provider id that served the snapshot
}

// ChangeAmount returns Price − PrevClose.
func (q Quote) ChangeAmount() decimal.Decimal {
	return q.Price.Sub(q.PrevClose)
}

// ChangePercent returns the day change in percent, zero when PrevClose
// is not positive.
func (q Quote) ChangePercent() decimal.Decimal {
	if !q.PrevClose.IsPositive() {
		return decimal.Zero
	}
	return q.ChangeAmount().Div(q.PrevClose).Mul(decimal.NewFromInt(100))
}

// BaseInfo extends the quote snapshot with fundamentals where the
// provider reports them. Fields absent from a provider stay zero.
type BaseInfo struct {
	Quote
	MarketCap    decimal.Decimal
	PERatio      decimal.Decimal
	PBRatio      decimal.Decimal
	TurnoverRate decimal.Decimal
}

// Timeshare is one minute bar of the intraday curve, used as a tick
// source of last resort when no provider exposes trade-level data.
type Timeshare struct {
	Symbol string
	Time   int64 // Unix timestamp in milliseconds, start of minute
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
	Amount decimal.Decimal
	Source string
}
