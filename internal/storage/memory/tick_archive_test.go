package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

func archiveTick(seq, ts int64, price string, volume int64) domain.Tick {
	p, _ := decimal.NewFromString(price)
	return domain.NewTick(seq, "603001", ts, p, volume, domain.SideBuy, "test")
}

func TestTickArchiveRangeQuery(t *testing.T) {
	archive := NewTickArchive()
	ctx := context.Background()

	ticks := []domain.Tick{
		archiveTick(2, 2000, "10.50", 100),
		archiveTick(1, 1000, "10.40", 200),
		archiveTick(3, 3000, "10.60", 300),
	}
	if err := archive.InsertBulk(ctx, ticks); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	got, err := archive.GetByTimeRange(ctx, "603001", 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("wrong order: %d, %d", got[0].Seq, got[1].Seq)
	}

	got, err = archive.GetByTimeRange(ctx, "000000", 0, 9999)
	if err != nil {
		t.Fatalf("GetByTimeRange empty: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no ticks for unknown symbol, got %d", len(got))
	}
}

func TestTickArchiveEmptyBatch(t *testing.T) {
	archive := NewTickArchive()
	if err := archive.InsertBulk(context.Background(), nil); err != nil {
		t.Fatalf("InsertBulk nil: %v", err)
	}
}

func TestLargeOrderStoreRangeQuery(t *testing.T) {
	store := NewLargeOrderStore()
	ctx := context.Background()

	orders := []domain.LargeOrder{
		{Tick: archiveTick(1, 1000, "10.40", 100_000), Tier: domain.TierT100},
		{Tick: archiveTick(2, 2000, "10.50", 300_000), Tier: domain.TierT300},
	}
	if err := store.InsertBulk(ctx, orders); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, "603001", 0, 5000)
	if err != nil {
		t.Fatalf("GetByTimeRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(got))
	}
	if got[0].Tier != domain.TierT100 || got[1].Tier != domain.TierT300 {
		t.Errorf("tiers = %s, %s", got[0].Tier, got[1].Tier)
	}
}
