// Package aggregate implements the provider fallback policy: sources
// are consulted in strict priority order under per-provider deadlines,
// every response is validated before it is accepted, and each request
// carries a trace of what was tried.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/cache"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/observability"
	"stock-order-flow/internal/provider"
)

// Dataset kinds used in traces, metrics and cache keys.
const (
	KindQuote     = "quote"
	KindBaseInfo  = "baseinfo"
	KindTicks     = "ticks"
	KindTimeshare = "timeshare"
)

// DefaultProviderTimeout bounds a single provider attempt unless a
// per-provider override is configured.
const DefaultProviderTimeout = 5 * time.Second

// DefaultQuoteTTL is how long a served quote stays cacheable.
const DefaultQuoteTTL = 30 * time.Second

// Attempt records one provider consultation within a request.
type Attempt struct {
	Provider string        `json:"provider"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      string        `json:"error,omitempty"`
}

// Trace reconstructs how a request was served.
type Trace struct {
	Kind      string    `json:"kind"`
	Symbol    string    `json:"symbol"`
	ServedBy  string    `json:"served_by,omitempty"`
	FromCache bool      `json:"from_cache,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
}

// NoSourceAvailableError reports that every configured provider was
// tried and none produced a valid response.
type NoSourceAvailableError struct {
	Kind     string
	Symbol   string
	Attempts []Attempt
}

func (e *NoSourceAvailableError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return fmt.Sprintf("no source available for %s %s: tried [%s]",
		e.Kind, e.Symbol, strings.Join(names, ", "))
}

// MalformedDataError marks a provider response that parsed but failed
// schema validation. It is absorbed into the request trace like any
// other provider failure and never surfaced on its own.
type MalformedDataError struct {
	Provider string
	Kind     string
	Symbol   string
	Err      error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s data for %s from %s: %v", e.Kind, e.Symbol, e.Provider, e.Err)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// Aggregator fans a request out over prioritized sources. The zero
// value is not usable; construct with New.
type Aggregator struct {
	quotes     []provider.QuoteSource
	baseInfos  []provider.BaseInfoSource
	ticks      []provider.TickSource
	timeshares []provider.TimeshareSource

	timeouts       map[string]time.Duration
	defaultTimeout time.Duration

	cache    cache.Cache
	quoteTTL time.Duration

	log *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithQuoteSources sets the quote fallback order, highest priority first.
func WithQuoteSources(sources ...provider.QuoteSource) Option {
	return func(a *Aggregator) { a.quotes = sources }
}

// WithBaseInfoSources sets the base-info fallback order.
func WithBaseInfoSources(sources ...provider.BaseInfoSource) Option {
	return func(a *Aggregator) { a.baseInfos = sources }
}

// WithTickSources sets the tick fallback order.
func WithTickSources(sources ...provider.TickSource) Option {
	return func(a *Aggregator) { a.ticks = sources }
}

// WithTimeshareSources sets the timeshare fallback order.
func WithTimeshareSources(sources ...provider.TimeshareSource) Option {
	return func(a *Aggregator) { a.timeshares = sources }
}

// WithProviderTimeout overrides the attempt deadline for one provider.
func WithProviderTimeout(name string, d time.Duration) Option {
	return func(a *Aggregator) { a.timeouts[name] = d }
}

// WithDefaultTimeout sets the attempt deadline used without overrides.
func WithDefaultTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.defaultTimeout = d }
}

// WithCache puts a TTL cache in front of quote and base-info fetches.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.quoteTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		timeouts:       make(map[string]time.Duration),
		defaultTimeout: DefaultProviderTimeout,
		quoteTTL:       DefaultQuoteTTL,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) timeoutFor(name string) time.Duration {
	if d, ok := a.timeouts[name]; ok {
		return d
	}
	return a.defaultTimeout
}

// attempt runs one provider call under its deadline and records the
// outcome on the trace.
func attempt[T any](ctx context.Context, a *Aggregator, trace *Trace, name string,
	fetch func(context.Context) (T, error), validate func(T) error) (T, bool) {

	actx, cancel := context.WithTimeout(ctx, a.timeoutFor(name))
	defer cancel()

	start := time.Now()
	result, err := fetch(actx)
	elapsed := time.Since(start)

	if err == nil {
		if verr := validate(result); verr != nil {
			err = &MalformedDataError{Provider: name, Kind: trace.Kind, Symbol: trace.Symbol, Err: verr}
		}
	}

	observability.RecordFetchAttempt(name, trace.Kind, elapsed.Seconds(), err)

	rec := Attempt{Provider: name, Elapsed: elapsed}
	if err != nil {
		rec.Err = err.Error()
		trace.Attempts = append(trace.Attempts, rec)
		a.log.Debug("provider attempt failed",
			zap.String("kind", trace.Kind),
			zap.String("symbol", trace.Symbol),
			zap.String("provider", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		var zero T
		return zero, false
	}

	trace.Attempts = append(trace.Attempts, rec)
	trace.ServedBy = name
	if len(trace.Attempts) > 1 {
		observability.RecordFallback(trace.Kind, name)
		a.log.Info("request served by fallback provider",
			zap.String("kind", trace.Kind),
			zap.String("symbol", trace.Symbol),
			zap.String("provider", name),
			zap.Int("attempt", len(trace.Attempts)))
	}
	observability.DefaultMetrics.LastSuccessfulFetch.SetToCurrentTime()
	return result, true
}

func (a *Aggregator) exhausted(trace Trace) error {
	observability.RecordExhausted(trace.Kind)
	a.log.Warn("all providers failed",
		zap.String("kind", trace.Kind),
		zap.String("symbol", trace.Symbol),
		zap.Int("attempts", len(trace.Attempts)))
	return &NoSourceAvailableError{Kind: trace.Kind, Symbol: trace.Symbol, Attempts: trace.Attempts}
}

// FetchQuote serves a quote for the symbol, from cache when fresh,
// otherwise from the first provider that answers validly.
func (a *Aggregator) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, Trace, error) {
	trace := Trace{Kind: KindQuote, Symbol: symbol}

	if quote, ok := cacheGet[domain.Quote](ctx, a, KindQuote, symbol); ok {
		trace.FromCache = true
		trace.ServedBy = quote.Source
		return quote, trace, nil
	}

	for _, source := range a.quotes {
		quote, ok := attempt(ctx, a, &trace, source.Name(),
			func(actx context.Context) (*domain.Quote, error) { return source.FetchQuote(actx, symbol) },
			func(q *domain.Quote) error { return ValidateQuote(symbol, q) })
		if ok {
			cacheSet(ctx, a, KindQuote, symbol, quote)
			return quote, trace, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, trace, a.exhausted(trace)
}

// FetchBaseInfo serves the extended snapshot with fundamentals.
func (a *Aggregator) FetchBaseInfo(ctx context.Context, symbol string) (*domain.BaseInfo, Trace, error) {
	trace := Trace{Kind: KindBaseInfo, Symbol: symbol}

	if info, ok := cacheGet[domain.BaseInfo](ctx, a, KindBaseInfo, symbol); ok {
		trace.FromCache = true
		trace.ServedBy = info.Source
		return info, trace, nil
	}

	for _, source := range a.baseInfos {
		info, ok := attempt(ctx, a, &trace, source.Name(),
			func(actx context.Context) (*domain.BaseInfo, error) { return source.FetchBaseInfo(actx, symbol) },
			func(i *domain.BaseInfo) error { return ValidateQuote(symbol, &i.Quote) })
		if ok {
			cacheSet(ctx, a, KindBaseInfo, symbol, info)
			return info, trace, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, trace, a.exhausted(trace)
}

// FetchTicks serves trade-level records in [from, to], sorted by time
// then sequence. Tick responses are never cached; they grow all day.
func (a *Aggregator) FetchTicks(ctx context.Context, symbol string, from, to int64) ([]domain.Tick, Trace, error) {
	trace := Trace{Kind: KindTicks, Symbol: symbol}

	for _, source := range a.ticks {
		ticks, ok := attempt(ctx, a, &trace, source.Name(),
			func(actx context.Context) ([]domain.Tick, error) { return source.FetchTicks(actx, symbol, from, to) },
			func(ts []domain.Tick) error { return ValidateTicks(symbol, ts) })
		if ok {
			sort.SliceStable(ticks, func(i, j int) bool {
				if ticks[i].Time != ticks[j].Time {
					return ticks[i].Time < ticks[j].Time
				}
				return ticks[i].Seq < ticks[j].Seq
			})
			return ticks, trace, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, trace, a.exhausted(trace)
}

// FetchTimeshare serves the minute curve for a trading day.
func (a *Aggregator) FetchTimeshare(ctx context.Context, symbol, date string) ([]domain.Timeshare, Trace, error) {
	trace := Trace{Kind: KindTimeshare, Symbol: symbol}

	for _, source := range a.timeshares {
		bars, ok := attempt(ctx, a, &trace, source.Name(),
			func(actx context.Context) ([]domain.Timeshare, error) {
				return source.FetchTimeshare(actx, symbol, date)
			},
			func(bs []domain.Timeshare) error { return ValidateTimeshare(symbol, bs) })
		if ok {
			return bars, trace, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, trace, a.exhausted(trace)
}

func cacheKey(kind, symbol string) string { return kind + ":" + symbol }

func cacheGet[T any](ctx context.Context, a *Aggregator, kind, symbol string) (*T, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, err := a.cache.Get(ctx, cacheKey(kind, symbol))
	if err != nil {
		observability.RecordCacheLookup(kind, false)
		return nil, false
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		// A corrupt entry is dropped rather than served.
		a.cache.Delete(ctx, cacheKey(kind, symbol))
		observability.RecordCacheLookup(kind, false)
		return nil, false
	}
	observability.RecordCacheLookup(kind, true)
	return &value, true
}

func cacheSet[T any](ctx context.Context, a *Aggregator, kind, symbol string, value *T) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, cacheKey(kind, symbol), raw, a.quoteTTL); err != nil {
		a.log.Debug("cache set failed", zap.String("kind", kind), zap.String("symbol", symbol), zap.Error(err))
	}
}
