// Package provider wraps the external market-data services. Each
// adapter translates one provider's wire format into the canonical
// domain shapes and does nothing else; validation beyond parsing and
// all fallback policy live in the aggregate package.
package provider

import (
	"context"
	"fmt"

	"stock-order-flow/internal/domain"
)

// QuoteSource serves current-state snapshots for a symbol.
type QuoteSource interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// BaseInfoSource serves snapshots extended with fundamentals.
type BaseInfoSource interface {
	Name() string
	FetchBaseInfo(ctx context.Context, symbol string) (*domain.BaseInfo, error)
}

// TickSource serves trade-level records within [from, to] millis.
// Ticks may be unordered; consumers enforce ordering.
type TickSource interface {
	Name() string
	FetchTicks(ctx context.Context, symbol string, from, to int64) ([]domain.Tick, error)
}

// TimeshareSource serves the intraday minute curve for a trading day
// given as "2006-01-02".
type TimeshareSource interface {
	Name() string
	FetchTimeshare(ctx context.Context, symbol, date string) ([]domain.Timeshare, error)
}

// SessionSource supplies an authenticated session for gated providers.
// Implemented by the session manager; adapters only read the session.
type SessionSource interface {
	Acquire(ctx context.Context) (domain.Session, error)
}

// Error wraps one adapter failure with enough context to reconstruct it.
type Error struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: symbol %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr builds a provider Error.
func wrapErr(provider, symbol string, err error) error {
	return &Error{Provider: provider, Symbol: symbol, Err: err}
}

// marketPrefix maps a bare CN stock code to its exchange-prefixed form:
// codes starting with 6 trade in Shanghai, the rest in Shenzhen.
func marketPrefix(symbol string) string {
	if len(symbol) > 0 && symbol[0] == '6' {
		return "sh" + symbol
	}
	return "sz" + symbol
}
