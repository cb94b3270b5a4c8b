package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is an amount bucket for classifying trade size.
type Tier string

// Tier constants, highest first. The numeric suffix is the historical
// wire name: the amount floor in units of 万 (10,000 currency units).
const (
	TierT300     Tier = "T300" // ≥ 3,000,000 by default
	TierT100     Tier = "T100" // ≥ 1,000,000
	TierT50      Tier = "T50"  // ≥ 500,000
	TierT30      Tier = "T30"  // ≥ 300,000
	TierBelowT30 Tier = "BelowT30"
)

// Rank returns the tier's position with TierT300 highest. Larger rank
// means larger orders.
func (t Tier) Rank() int {
	switch t {
	case TierT300:
		return 4
	case TierT100:
		return 3
	case TierT50:
		return 2
	case TierT30:
		return 1
	default:
		return 0
	}
}

// TierThreshold binds a tier to its inclusive amount floor.
type TierThreshold struct {
	Tier      Tier
	MinAmount decimal.Decimal
}

// DefaultTierThresholds returns the standard 300万/100万/50万/30万 ladder.
func DefaultTierThresholds() []TierThreshold {
	return []TierThreshold{
		{Tier: TierT300, MinAmount: decimal.NewFromInt(3_000_000)},
		{Tier: TierT100, MinAmount: decimal.NewFromInt(1_000_000)},
		{Tier: TierT50, MinAmount: decimal.NewFromInt(500_000)},
		{Tier: TierT30, MinAmount: decimal.NewFromInt(300_000)},
	}
}

// ValidateTierThresholds checks that the ladder is non-empty, positive
// and strictly descending, so each amount maps to exactly one tier.
func ValidateTierThresholds(thresholds []TierThreshold) error {
	if len(thresholds) == 0 {
		return fmt.Errorf("tier thresholds: empty ladder")
	}
	prev := decimal.Decimal{}
	for i, th := range thresholds {
		if !th.MinAmount.IsPositive() {
			return fmt.Errorf("tier thresholds: %s floor must be positive, got %s", th.Tier, th.MinAmount)
		}
		if i > 0 && th.MinAmount.GreaterThanOrEqual(prev) {
			return fmt.Errorf("tier thresholds: ladder not strictly descending at %s", th.Tier)
		}
		prev = th.MinAmount
	}
	return nil
}

// LargeOrder is the derived view of a tick once classified into a tier.
type LargeOrder struct {
	Tick Tick
	Tier Tier
}

// TierBucket aggregates classified ticks of one tier by direction.
// Ticks with no determinable direction land in the Neutral fields and
// contribute to TotalAmount, keeping amount conservation exact.
type TierBucket struct {
	BuyCount      int
	SellCount     int
	NeutralCount  int
	BuyAmount     decimal.Decimal
	SellAmount    decimal.Decimal
	NeutralAmount decimal.Decimal
}

// TotalAmount returns the sum of all amounts in the bucket.
func (b TierBucket) TotalAmount() decimal.Decimal {
	return b.BuyAmount.Add(b.SellAmount).Add(b.NeutralAmount)
}

// NetInflow returns BuyAmount − SellAmount.
func (b TierBucket) NetInflow() decimal.Decimal {
	return b.BuyAmount.Sub(b.SellAmount)
}

// TierStatistics maps each tier to its aggregated bucket. Recomputed on
// demand from raw ticks; never mutated incrementally across requests.
type TierStatistics map[Tier]*TierBucket

// Bucket returns the bucket for a tier, creating it when absent.
func (s TierStatistics) Bucket(t Tier) *TierBucket {
	b, ok := s[t]
	if !ok {
		b = &TierBucket{
			BuyAmount:     decimal.Zero,
			SellAmount:    decimal.Zero,
			NeutralAmount: decimal.Zero,
		}
		s[t] = b
	}
	return b
}

// TotalAmount returns the conserved sum over all buckets.
func (s TierStatistics) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s {
		total = total.Add(b.TotalAmount())
	}
	return total
}
