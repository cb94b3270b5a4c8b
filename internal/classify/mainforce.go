package classify

import (
	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

// ForceSplit is the institutional-vs-retail view over tier statistics:
// every tier at or above the cutoff counts as main force, the rest as
// retail.
type ForceSplit struct {
	MainBuyCount     int
	MainSellCount    int
	MainBuyAmount    decimal.Decimal
	MainSellAmount   decimal.Decimal
	RetailBuyCount   int
	RetailSellCount  int
	RetailBuyAmount  decimal.Decimal
	RetailSellAmount decimal.Decimal
}

// MainNetInflow returns main-force BuyAmount − SellAmount.
func (f ForceSplit) MainNetInflow() decimal.Decimal {
	return f.MainBuyAmount.Sub(f.MainSellAmount)
}

// RetailNetInflow returns retail BuyAmount − SellAmount.
func (f ForceSplit) RetailNetInflow() decimal.Decimal {
	return f.RetailBuyAmount.Sub(f.RetailSellAmount)
}

// SplitByForce folds tier statistics into the two-sided main-force
// summary. The conventional cutoff is TierT50.
func SplitByForce(stats domain.TierStatistics, cutoff domain.Tier) ForceSplit {
	split := ForceSplit{
		MainBuyAmount:    decimal.Zero,
		MainSellAmount:   decimal.Zero,
		RetailBuyAmount:  decimal.Zero,
		RetailSellAmount: decimal.Zero,
	}
	for tier, bucket := range stats {
		if tier.Rank() >= cutoff.Rank() {
			split.MainBuyCount += bucket.BuyCount
			split.MainSellCount += bucket.SellCount
			split.MainBuyAmount = split.MainBuyAmount.Add(bucket.BuyAmount)
			split.MainSellAmount = split.MainSellAmount.Add(bucket.SellAmount)
		} else {
			split.RetailBuyCount += bucket.BuyCount
			split.RetailSellCount += bucket.SellCount
			split.RetailBuyAmount = split.RetailBuyAmount.Add(bucket.BuyAmount)
			split.RetailSellAmount = split.RetailSellAmount.Add(bucket.SellAmount)
		}
	}
	return split
}
