package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stock-order-flow/internal/domain"
)

func TestEastmoneyFetchTicks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("secid"); got != "1.603001" {
			t.Errorf("expected secid 1.603001, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"details":[
			"09:30:01,8.48,500,3,2",
			"09:30:04,8.47,1200,5,1",
			"09:30:07,8.47,80,1,4",
			"09:30:10,8.49,60,1,7"
		]}}`))
	}))
	defer server.Close()

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, cst)
	from := day.UnixMilli()
	to := day.Add(24 * time.Hour).UnixMilli()

	em := NewEastmoney(server.URL, server.URL)
	ticks, err := em.FetchTicks(context.Background(), "603001", from, to)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}

	if len(ticks) != 4 {
		t.Fatalf("expected 4 ticks, got %d", len(ticks))
	}

	first := ticks[0]
	if first.Price.String() != "8.48" {
		t.Errorf("expected price 8.48, got %s", first.Price)
	}
	if first.Volume != 50000 {
		t.Errorf("expected 500 lots scaled to 50000 shares, got %d", first.Volume)
	}
	if first.Side != domain.SideBuy {
		t.Errorf("expected buy, got %q", first.Side)
	}
	if first.Amount.String() != "424000" {
		t.Errorf("expected amount 424000, got %s", first.Amount)
	}

	wantTime := time.Date(2026, 8, 28, 9, 30, 1, 0, cst).UnixMilli()
	if first.Time != wantTime {
		t.Errorf("expected time %d, got %d", wantTime, first.Time)
	}

	if ticks[1].Side != domain.SideSell {
		t.Errorf("expected sell, got %q", ticks[1].Side)
	}
	if ticks[2].Side != domain.SideNeutral {
		t.Errorf("expected neutral, got %q", ticks[2].Side)
	}
	if ticks[3].Side != domain.SideUnknown {
		t.Errorf("expected unknown for unrecognized label, got %q", ticks[3].Side)
	}

	for i, tick := range ticks {
		if tick.Seq != int64(i+1) {
			t.Errorf("tick %d: expected seq %d, got %d", i, i+1, tick.Seq)
		}
	}
}

func TestEastmoneyTicksRangeFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"details":["09:30:01,8.48,500,3,2","14:59:59,8.50,100,1,1"]}}`))
	}))
	defer server.Close()

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, cst)
	from := day.UnixMilli()
	to := day.Add(12 * time.Hour).UnixMilli() // noon cutoff excludes the afternoon row

	em := NewEastmoney(server.URL, server.URL)
	ticks, err := em.FetchTicks(context.Background(), "603001", from, to)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick after range filter, got %d", len(ticks))
	}
}

func TestEastmoneyNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null}`))
	}))
	defer server.Close()

	em := NewEastmoney(server.URL, server.URL)
	if _, err := em.FetchTicks(context.Background(), "603001", 0, 1); err == nil {
		t.Fatal("expected error for null data")
	}
}

func TestEastmoneyFetchTimeshare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"trends":[
			"2026-08-28 09:30,8.41,8.42,8.43,8.40,1200,1017600.00,8.41",
			"2026-08-28 09:31,8.42,8.44,8.45,8.42,900,764100.00,8.42"
		]}}`))
	}))
	defer server.Close()

	em := NewEastmoney(server.URL, server.URL)
	bars, err := em.FetchTimeshare(context.Background(), "603001", "2026-08-28")
	if err != nil {
		t.Fatalf("FetchTimeshare: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Close.String() != "8.42" {
		t.Errorf("expected close 8.42, got %s", bars[0].Close)
	}
	if bars[0].Volume != 120000 {
		t.Errorf("expected 1200 lots scaled to 120000 shares, got %d", bars[0].Volume)
	}
	if bars[1].Time-bars[0].Time != int64(time.Minute/time.Millisecond) {
		t.Errorf("expected one minute between bars, got %dms", bars[1].Time-bars[0].Time)
	}
}
