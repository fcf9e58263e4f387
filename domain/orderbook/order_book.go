package orderbook

import (
	"github.com/tidwall/btree"

	"tradecore/domain/order"
)

// Book is one side of the order book, ordered by price-time priority:
// asks by ascending price, bids by descending price, both then by
// ascending sequence id. It is single-writer.
type Book struct {
	Direction order.Direction
	tree      *btree.BTreeG[*order.Order]
}

func NewBook(dir order.Direction) *Book {
	return &Book{
		Direction: dir,
		tree:      btree.NewBTreeGOptions(lessFor(dir), btree.Options{NoLocks: true}),
	}
}

func lessFor(dir order.Direction) func(a, b *order.Order) bool {
	if dir == order.Buy {
		return func(a, b *order.Order) bool {
			if c := a.Price.Cmp(b.Price); c != 0 {
				return c > 0
			}
			return a.SequenceID < b.SequenceID
		}
	}
	return func(a, b *order.Order) bool {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c < 0
		}
		return a.SequenceID < b.SequenceID
	}
}

// Best returns the order with the highest priority.
func (b *Book) Best() (*order.Order, bool) {
	return b.tree.Min()
}

// Add inserts an order; it reports false if an entry with the same key exists.
func (b *Book) Add(o *order.Order) bool {
	_, replaced := b.tree.Set(o)
	return !replaced
}

// Remove deletes the entry for o and reports whether it was present.
func (b *Book) Remove(o *order.Order) bool {
	_, ok := b.tree.Delete(o)
	return ok
}

func (b *Book) Exists(o *order.Order) bool {
	_, ok := b.tree.Get(o)
	return ok
}

func (b *Book) Len() int {
	return b.tree.Len()
}

// Walk visits orders best first until fn returns false.
func (b *Book) Walk(fn func(o *order.Order) bool) {
	b.tree.Scan(fn)
}
