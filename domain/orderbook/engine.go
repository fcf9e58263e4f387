package orderbook

import (
	"errors"

	"github.com/shopspring/decimal"

	"tradecore/domain/order"
)

var ErrNotInBook = errors.New("orderbook: order not in book")

// MatchDetail is one execution. Taker and Maker are copies taken right
// after the execution was applied to both orders.
type MatchDetail struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Taker    order.Order
	Maker    order.Order
}

// MatchResult is the outcome of submitting one order.
type MatchResult struct {
	Taker   *order.Order
	Details []MatchDetail
}

// OrderBook is a depth snapshot. BestPrice carries the last execution price.
type OrderBook struct {
	SequenceID int64           `json:"sequenceId"`
	BestPrice  decimal.Decimal `json:"bestPrice"`
	Bids       []PriceLevel    `json:"bids"`
	Asks       []PriceLevel    `json:"asks"`
}

// Engine matches limit orders of a single instrument.
type Engine struct {
	Buy  *Book
	Sell *Book

	marketPrice decimal.Decimal
	sequenceID  int64
}

func NewEngine() *Engine {
	return &Engine{
		Buy:  NewBook(order.Buy),
		Sell: NewBook(order.Sell),
	}
}

// ProcessOrder matches taker against the opposite book at the makers'
// prices and rests whatever is left on its own side.
func (e *Engine) ProcessOrder(sequenceID int64, taker *order.Order) MatchResult {
	e.sequenceID = sequenceID
	ts := taker.CreatedAt

	takerBook, makerBook := e.books(taker.Direction)
	result := MatchResult{Taker: taker}

	for taker.UnfilledQuantity.IsPositive() {
		maker, ok := makerBook.Best()
		if !ok || !crosses(taker, maker) {
			break
		}
		e.marketPrice = maker.Price

		q := decimal.Min(taker.UnfilledQuantity, maker.UnfilledQuantity)
		taker.Fill(q, ts)
		maker.Fill(q, ts)
		if maker.UnfilledQuantity.IsZero() {
			makerBook.Remove(maker)
		}

		result.Details = append(result.Details, MatchDetail{
			Price:    maker.Price,
			Quantity: q,
			Taker:    taker.Snapshot(),
			Maker:    maker.Snapshot(),
		})
	}

	if taker.UnfilledQuantity.IsPositive() {
		takerBook.Add(taker)
	}
	return result
}

// Cancel removes a resting order and marks it cancelled.
func (e *Engine) Cancel(sequenceID int64, o *order.Order, ts int64) error {
	book, _ := e.books(o.Direction)
	if !book.Remove(o) {
		return ErrNotInBook
	}
	e.sequenceID = sequenceID
	o.Cancel(ts)
	return nil
}

// Restore puts an order back on its book without matching.
func (e *Engine) Restore(o *order.Order) bool {
	book, _ := e.books(o.Direction)
	return book.Add(o)
}

// MarketPrice is the price of the last execution.
func (e *Engine) MarketPrice() decimal.Decimal {
	return e.marketPrice
}

// Reset sets the reference sequence id and market price after a restore.
func (e *Engine) Reset(sequenceID int64, marketPrice decimal.Decimal) {
	e.sequenceID = sequenceID
	e.marketPrice = marketPrice
}

// OrderBook returns up to maxDepth aggregated levels per side.
func (e *Engine) OrderBook(maxDepth int) OrderBook {
	return OrderBook{
		SequenceID: e.sequenceID,
		BestPrice:  e.marketPrice,
		Bids:       e.Buy.Depth(maxDepth),
		Asks:       e.Sell.Depth(maxDepth),
	}
}

func (e *Engine) books(dir order.Direction) (own, opposite *Book) {
	if dir == order.Buy {
		return e.Buy, e.Sell
	}
	return e.Sell, e.Buy
}

func crosses(taker, maker *order.Order) bool {
	if taker.Direction == order.Buy {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}
