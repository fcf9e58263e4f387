// Package clearing settles executions and cancellations against the ledger.
//
// Every leg moves value between accounts of the same asset, so the
// per-asset zero-sum of the ledger holds after each call.
package clearing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/domain/asset"
	"tradecore/domain/order"
	"tradecore/domain/orderbook"
)

type Clearing struct {
	ledger *asset.Ledger
	orders *order.Registry
	base   asset.ID
	quote  asset.ID
}

func New(ledger *asset.Ledger, orders *order.Registry, base, quote asset.ID) *Clearing {
	return &Clearing{ledger: ledger, orders: orders, base: base, quote: quote}
}

// Reservation returns the asset and amount still frozen for o: price times
// unfilled quantity of quote for a buy, unfilled quantity of base for a sell.
func (c *Clearing) Reservation(o *order.Order) (asset.ID, decimal.Decimal) {
	if o.Direction == order.Buy {
		return c.quote, o.Price.Mul(o.UnfilledQuantity)
	}
	return c.base, o.UnfilledQuantity
}

// ClearMatchResult settles every execution of r and drops the orders it
// completed from the registry. Errors mean the ledger or the registry
// disagree with the book and must be treated as fatal.
func (c *Clearing) ClearMatchResult(r orderbook.MatchResult) error {
	taker := r.Taker
	for _, md := range r.Details {
		maker := md.Maker
		var err error
		if taker.Direction == order.Buy {
			err = c.settleBuyTaker(taker, &maker, md)
		} else {
			err = c.settleSellTaker(taker, &maker, md)
		}
		if err != nil {
			return fmt.Errorf("clear match %d/%d: %w", taker.ID, maker.ID, err)
		}
		if maker.UnfilledQuantity.IsZero() {
			if err := c.orders.Remove(maker.ID); err != nil {
				return err
			}
		}
	}
	if taker.UnfilledQuantity.IsZero() {
		return c.orders.Remove(taker.ID)
	}
	return nil
}

func (c *Clearing) settleBuyTaker(taker, maker *order.Order, md orderbook.MatchDetail) error {
	// the taker reserved at its own limit; refund the improvement first
	if taker.Price.GreaterThan(md.Price) {
		refund := taker.Price.Sub(md.Price).Mul(md.Quantity)
		if err := c.ledger.Unfreeze(taker.UserID, c.quote, refund); err != nil {
			return err
		}
	}
	if err := c.ledger.Transfer(asset.FrozenToAvailable, taker.UserID, maker.UserID, c.quote, md.Price.Mul(md.Quantity), true); err != nil {
		return err
	}
	return c.ledger.Transfer(asset.FrozenToAvailable, maker.UserID, taker.UserID, c.base, md.Quantity, true)
}

func (c *Clearing) settleSellTaker(taker, maker *order.Order, md orderbook.MatchDetail) error {
	if err := c.ledger.Transfer(asset.FrozenToAvailable, taker.UserID, maker.UserID, c.base, md.Quantity, true); err != nil {
		return err
	}
	return c.ledger.Transfer(asset.FrozenToAvailable, maker.UserID, taker.UserID, c.quote, md.Price.Mul(md.Quantity), true)
}

// ClearCancelOrder releases the reserve still held by a cancelled order
// and drops it from the registry.
func (c *Clearing) ClearCancelOrder(o *order.Order) error {
	id, amount := c.Reservation(o)
	if err := c.ledger.Unfreeze(o.UserID, id, amount); err != nil {
		return err
	}
	return c.orders.Remove(o.ID)
}
