// Package classify assigns amount tiers and buy/sell directions to
// trade ticks and aggregates per-tier statistics. Everything here is a
// pure function of its inputs: same ticks and thresholds produce
// bit-identical output, with no hidden state across calls.
package classify

import (
	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

// Result is the output of one classification run.
type Result struct {
	Orders    []domain.LargeOrder
	Stats     domain.TierStatistics
	Malformed int // ticks discarded before classification
}

// Classify walks the tick sequence in order, discards malformed ticks,
// resolves each direction, assigns a tier and aggregates statistics.
// prevClose seeds the direction reference for the first tick; pass
// decimal.Zero when the previous close is unknown.
func Classify(ticks []domain.Tick, thresholds []domain.TierThreshold, prevClose decimal.Decimal) (Result, error) {
	if err := domain.ValidateTierThresholds(thresholds); err != nil {
		return Result{}, err
	}

	res := Result{
		Orders: make([]domain.LargeOrder, 0, len(ticks)),
		Stats:  make(domain.TierStatistics, len(thresholds)+1),
	}

	ref := prevClose
	for _, tick := range ticks {
		if tick.Malformed() {
			res.Malformed++
			continue
		}

		side := ResolveSide(tick.Side, tick.Price, ref)
		ref = tick.Price

		classified := tick
		classified.Side = side

		tier := AssignTier(classified.Amount, thresholds)
		res.Orders = append(res.Orders, domain.LargeOrder{Tick: classified, Tier: tier})

		bucket := res.Stats.Bucket(tier)
		switch side {
		case domain.SideBuy:
			bucket.BuyCount++
			bucket.BuyAmount = bucket.BuyAmount.Add(classified.Amount)
		case domain.SideSell:
			bucket.SellCount++
			bucket.SellAmount = bucket.SellAmount.Add(classified.Amount)
		default:
			bucket.NeutralCount++
			bucket.NeutralAmount = bucket.NeutralAmount.Add(classified.Amount)
		}
	}

	return res, nil
}

// AssignTier maps an amount to exactly one tier. Thresholds are
// evaluated from highest to lowest with an inclusive ≥ comparison;
// amounts below the lowest floor fall into TierBelowT30.
func AssignTier(amount decimal.Decimal, thresholds []domain.TierThreshold) domain.Tier {
	for _, th := range thresholds {
		if amount.GreaterThanOrEqual(th.MinAmount) {
			return th.Tier
		}
	}
	return domain.TierBelowT30
}
