package orderbook

import (
	"github.com/shopspring/decimal"

	"tradecore/domain/order"
)

// PriceLevel is the aggregate unfilled quantity resting at one price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth merges same-price entries into at most maxDepth levels, best first.
func (b *Book) Depth(maxDepth int) []PriceLevel {
	if maxDepth <= 0 {
		return []PriceLevel{}
	}
	levels := make([]PriceLevel, 0, min(maxDepth, b.Len()))
	b.Walk(func(o *order.Order) bool {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Quantity = levels[n-1].Quantity.Add(o.UnfilledQuantity)
			return true
		}
		if len(levels) == maxDepth {
			return false
		}
		levels = append(levels, PriceLevel{Price: o.Price, Quantity: o.UnfilledQuantity})
		return true
	})
	return levels
}
