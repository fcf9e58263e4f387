// Package store archives closed orders and match details in pebble.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"tradecore/domain/order"
)

// -------------------- Records --------------------

type MatchType string

const (
	Taker MatchType = "TAKER"
	Maker MatchType = "MAKER"
)

// MatchRecord is one side's view of an execution. Every execution is
// archived twice: once for the taker and once for the maker.
type MatchRecord struct {
	SequenceID     int64           `json:"sequenceId"`
	OrderID        int64           `json:"orderId"`
	CounterOrderID int64           `json:"counterOrderId"`
	UserID         int64           `json:"userId"`
	CounterUserID  int64           `json:"counterUserId"`
	Direction      order.Direction `json:"direction"`
	Type           MatchType       `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	CreatedAt      int64           `json:"createdAt"`
}

// Batch is what one engine event asks to be persisted.
type Batch struct {
	Orders  []order.Order
	Matches []MatchRecord
}

func (b Batch) Len() int {
	return len(b.Orders) + len(b.Matches)
}

// -------------------- Store --------------------

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the batches atomically. Orders and matches are written in
// key order; re-saving the same data is a no-op.
func (s *Store) Save(_ context.Context, batches ...Batch) error {
	var orders []order.Order
	var matches []MatchRecord
	for _, b := range batches {
		orders = append(orders, b.Orders...)
		matches = append(matches, b.Matches...)
	}
	if len(orders) == 0 && len(matches) == 0 {
		return nil
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	sort.SliceStable(matches, func(i, j int) bool { return matchLess(matches[i], matches[j]) })

	wb := s.db.NewBatch()
	defer wb.Close()

	for _, o := range orders {
		val, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := wb.Set(orderKey(o.ID), val, nil); err != nil {
			return err
		}
	}
	for _, m := range matches {
		val, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := wb.Set(matchKey(m), val, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

// Order returns an archived closed order.
func (s *Store) Order(id int64) (order.Order, error) {
	val, closer, err := s.db.Get(orderKey(id))
	if err != nil {
		return order.Order{}, err
	}
	defer closer.Close()

	var o order.Order
	err = json.Unmarshal(val, &o)
	return o, err
}

// Matches returns the match records of one order, oldest first.
func (s *Store) Matches(orderID int64) ([]MatchRecord, error) {
	prefix := fmt.Sprintf("match/%020d/", orderID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []MatchRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var m MatchRecord
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// -------------------- Helpers --------------------

func orderKey(id int64) []byte {
	return []byte(fmt.Sprintf("order/%020d", id))
}

func matchKey(m MatchRecord) []byte {
	return []byte(fmt.Sprintf("match/%020d/%020d/%020d", m.OrderID, m.SequenceID, m.CounterOrderID))
}

func matchLess(a, b MatchRecord) bool {
	if a.OrderID != b.OrderID {
		return a.OrderID < b.OrderID
	}
	if a.SequenceID != b.SequenceID {
		return a.SequenceID < b.SequenceID
	}
	return a.CounterOrderID < b.CounterOrderID
}
