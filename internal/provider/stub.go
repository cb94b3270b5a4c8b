package provider

import (
	"context"
	"sync/atomic"

	"stock-order-flow/internal/domain"
)

// Stub sources used in tests and offline runs. Each records how many
// times it was consulted so fallback order can be asserted.

// StubQuoteSource returns a fixed quote or error.
type StubQuoteSource struct {
	Provider string
	Quote    *domain.Quote
	Err      error
	Calls    atomic.Int64
}

func (s *StubQuoteSource) Name() string { return s.Provider }

func (s *StubQuoteSource) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	s.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(s.Provider, symbol, err)
	}
	if s.Err != nil {
		return nil, wrapErr(s.Provider, symbol, s.Err)
	}
	q := *s.Quote
	q.Code = symbol
	q.Source = s.Provider
	return &q, nil
}

// StubBaseInfoSource returns a fixed base info snapshot or error.
type StubBaseInfoSource struct {
	Provider string
	Info     *domain.BaseInfo
	Err      error
	Calls    atomic.Int64
}

func (s *StubBaseInfoSource) Name() string { return s.Provider }

func (s *StubBaseInfoSource) FetchBaseInfo(ctx context.Context, symbol string) (*domain.BaseInfo, error) {
	s.Calls.Add(1)
	if s.Err != nil {
		return nil, wrapErr(s.Provider, symbol, s.Err)
	}
	info := *s.Info
	info.Code = symbol
	info.Source = s.Provider
	return &info, nil
}

// StubTickSource returns fixed ticks or an error. Block, when set, is
// closed by the test to release a hanging fetch; until then the source
// waits on the context, which exercises per-provider timeouts.
type StubTickSource struct {
	Provider string
	Ticks    []domain.Tick
	Err      error
	Block    chan struct{}
	Calls    atomic.Int64
}

func (s *StubTickSource) Name() string { return s.Provider }

func (s *StubTickSource) FetchTicks(ctx context.Context, symbol string, from, to int64) ([]domain.Tick, error) {
	s.Calls.Add(1)
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return nil, wrapErr(s.Provider, symbol, ctx.Err())
		}
	}
	if s.Err != nil {
		return nil, wrapErr(s.Provider, symbol, s.Err)
	}
	out := make([]domain.Tick, len(s.Ticks))
	copy(out, s.Ticks)
	return out, nil
}

// StubSessionSource hands out a fixed session.
type StubSessionSource struct {
	Session domain.Session
	Err     error
}

func (s *StubSessionSource) Acquire(ctx context.Context) (domain.Session, error) {
	if s.Err != nil {
		return domain.Session{}, s.Err
	}
	return s.Session, nil
}
