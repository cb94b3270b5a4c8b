package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/cache"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/provider"
)

func stubQuote(price string) *domain.Quote {
	return &domain.Quote{
		Code:      "603001",
		Name:      "AOKANG",
		Price:     decimal.RequireFromString(price),
		PrevClose: decimal.RequireFromString("8.40"),
		Volume:    5603300,
		FetchedAt: time.Now().UnixMilli(),
	}
}

func TestFetchQuotePrimaryWins(t *testing.T) {
	primary := &provider.StubQuoteSource{Provider: "sina", Quote: stubQuote("8.48")}
	backup := &provider.StubQuoteSource{Provider: "tencent", Quote: stubQuote("8.47")}

	agg := New(WithQuoteSources(primary, backup))
	quote, trace, err := agg.FetchQuote(context.Background(), "603001")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}

	if quote.Price.String() != "8.48" {
		t.Errorf("expected primary price 8.48, got %s", quote.Price)
	}
	if trace.ServedBy != "sina" {
		t.Errorf("expected served by sina, got %s", trace.ServedBy)
	}
	if len(trace.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(trace.Attempts))
	}
	if backup.Calls.Load() != 0 {
		t.Errorf("backup consulted despite primary success")
	}
}

func TestFetchQuoteFallsBack(t *testing.T) {
	primary := &provider.StubQuoteSource{Provider: "sina", Err: errors.New("connection refused")}
	backup := &provider.StubQuoteSource{Provider: "tencent", Quote: stubQuote("8.47")}

	agg := New(WithQuoteSources(primary, backup))
	quote, trace, err := agg.FetchQuote(context.Background(), "603001")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}

	if quote.Source != "tencent" {
		t.Errorf("expected source tencent, got %s", quote.Source)
	}
	if trace.ServedBy != "tencent" {
		t.Errorf("expected served by tencent, got %s", trace.ServedBy)
	}
	if len(trace.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(trace.Attempts))
	}
	if trace.Attempts[0].Provider != "sina" || trace.Attempts[0].Err == "" {
		t.Errorf("first attempt should record the sina failure: %+v", trace.Attempts[0])
	}
	if trace.Attempts[1].Err != "" {
		t.Errorf("second attempt should record success: %+v", trace.Attempts[1])
	}
}

func TestFetchQuoteAllFail(t *testing.T) {
	agg := New(WithQuoteSources(
		&provider.StubQuoteSource{Provider: "sina", Err: errors.New("timeout")},
		&provider.StubQuoteSource{Provider: "tencent", Err: errors.New("HTTP 502")},
	))

	_, trace, err := agg.FetchQuote(context.Background(), "000001")
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}

	var nsa *NoSourceAvailableError
	if !errors.As(err, &nsa) {
		t.Fatalf("expected NoSourceAvailableError, got %T: %v", err, err)
	}
	if nsa.Symbol != "000001" || nsa.Kind != KindQuote {
		t.Errorf("unexpected error fields: %+v", nsa)
	}
	if len(nsa.Attempts) != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", len(nsa.Attempts))
	}
	if len(trace.Attempts) != 2 {
		t.Errorf("trace should carry both attempts, got %d", len(trace.Attempts))
	}
}

func TestFetchQuoteRejectsInvalidResponse(t *testing.T) {
	// A suspended stock parses fine but quotes a zero price.
	suspended := &provider.StubQuoteSource{Provider: "sina", Quote: stubQuote("0")}
	backup := &provider.StubQuoteSource{Provider: "tencent", Quote: stubQuote("8.47")}

	agg := New(WithQuoteSources(suspended, backup))
	quote, trace, err := agg.FetchQuote(context.Background(), "603001")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote.Source != "tencent" {
		t.Errorf("invalid response should fall through, got source %s", quote.Source)
	}
	if trace.Attempts[0].Err == "" {
		t.Error("validation failure should be recorded on the trace")
	}
	if !strings.Contains(trace.Attempts[0].Err, "malformed quote data for 603001 from sina") {
		t.Errorf("trace should carry the malformed-data error, got %q", trace.Attempts[0].Err)
	}
}

func TestMalformedDataErrorWrapsValidation(t *testing.T) {
	inner := errors.New("non-positive price")
	err := &MalformedDataError{Provider: "sina", Kind: KindQuote, Symbol: "603001", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the validation error")
	}
	want := "malformed quote data for 603001 from sina: non-positive price"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFetchTicksProviderTimeout(t *testing.T) {
	hung := &provider.StubTickSource{Provider: "member", Block: make(chan struct{})}
	backup := &provider.StubTickSource{Provider: "eastmoney", Ticks: []domain.Tick{
		domain.NewTick(1, "603001", 200, decimal.RequireFromString("8.48"), 100, domain.SideBuy, "eastmoney"),
		domain.NewTick(2, "603001", 100, decimal.RequireFromString("8.47"), 200, domain.SideSell, "eastmoney"),
	}}

	agg := New(
		WithTickSources(hung, backup),
		WithProviderTimeout("member", 20*time.Millisecond),
	)

	start := time.Now()
	ticks, trace, err := agg.FetchTicks(context.Background(), "603001", 0, 1000)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("hung provider was not cut off by its timeout")
	}
	if trace.ServedBy != "eastmoney" {
		t.Errorf("expected served by eastmoney, got %s", trace.ServedBy)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].Time != 100 {
		t.Errorf("ticks should be sorted by time, first is %d", ticks[0].Time)
	}
	close(hung.Block)
}

func TestFetchQuoteServedFromCache(t *testing.T) {
	source := &provider.StubQuoteSource{Provider: "sina", Quote: stubQuote("8.48")}
	agg := New(
		WithQuoteSources(source),
		WithCache(cache.NewMemory(), time.Minute),
	)
	ctx := context.Background()

	if _, _, err := agg.FetchQuote(ctx, "603001"); err != nil {
		t.Fatalf("first FetchQuote: %v", err)
	}

	quote, trace, err := agg.FetchQuote(ctx, "603001")
	if err != nil {
		t.Fatalf("second FetchQuote: %v", err)
	}
	if !trace.FromCache {
		t.Error("second fetch should be served from cache")
	}
	if quote.Price.String() != "8.48" {
		t.Errorf("cached quote lost its price: %s", quote.Price)
	}
	if source.Calls.Load() != 1 {
		t.Errorf("provider consulted %d times, want 1", source.Calls.Load())
	}
}

func TestFetchTicksAllMalformedRejected(t *testing.T) {
	junk := &provider.StubTickSource{Provider: "member", Ticks: []domain.Tick{
		domain.NewTick(1, "603001", 100, decimal.Zero, 0, domain.SideUnknown, "member"),
	}}
	backup := &provider.StubTickSource{Provider: "eastmoney", Ticks: []domain.Tick{
		domain.NewTick(1, "603001", 100, decimal.RequireFromString("8.48"), 100, domain.SideBuy, "eastmoney"),
	}}

	agg := New(WithTickSources(junk, backup))
	_, trace, err := agg.FetchTicks(context.Background(), "603001", 0, 1000)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if trace.ServedBy != "eastmoney" {
		t.Errorf("all-malformed response should fall through, served by %s", trace.ServedBy)
	}
}

func TestFetchQuoteContextCancelledStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backup := &provider.StubQuoteSource{Provider: "tencent", Quote: stubQuote("8.47")}
	agg := New(WithQuoteSources(
		&provider.StubQuoteSource{Provider: "sina", Err: errors.New("boom")},
		backup,
	))

	if _, _, err := agg.FetchQuote(ctx, "603001"); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
