package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/domain/asset"
	"tradecore/domain/order"
)

var ErrInvariant = errors.New("invariant violated")

// Verify checks every ledger and book invariant against the live state.
// It is slow and runs after each batch only in debug mode.
func (e *Engine) Verify() error {
	if err := e.verifyBalances(); err != nil {
		return err
	}
	if err := e.verifyBook(); err != nil {
		return err
	}
	return e.verifyReserves()
}

func (e *Engine) verifyBalances() error {
	var err error
	e.ledger.Walk(func(userID int64, id asset.ID, b asset.Balance) {
		if err != nil {
			return
		}
		if userID == asset.DebtUserID {
			if !b.Frozen.IsZero() || b.Available.IsPositive() {
				err = violation("debt account %s available %s frozen %s", id, b.Available, b.Frozen)
			}
			return
		}
		if b.Available.IsNegative() || b.Frozen.IsNegative() {
			err = violation("user %d %s available %s frozen %s", userID, id, b.Available, b.Frozen)
		}
	})
	if err != nil {
		return err
	}
	for id, total := range e.ledger.Totals() {
		if !total.IsZero() {
			return violation("%s does not sum to zero: %s", id, total)
		}
	}
	return nil
}

// verifyBook checks that the books hold exactly the registered orders.
func (e *Engine) verifyBook() error {
	var err error
	seen := 0
	for _, book := range []struct {
		dir  order.Direction
		walk func(func(*order.Order) bool)
	}{
		{order.Buy, e.matcher.Buy.Walk},
		{order.Sell, e.matcher.Sell.Walk},
	} {
		book.walk(func(o *order.Order) bool {
			seen++
			active, ok := e.orders.Get(o.ID)
			switch {
			case !ok:
				err = violation("order %d is on the book but not active", o.ID)
			case active != o:
				err = violation("order %d on the book differs from the active one", o.ID)
			case o.Direction != book.dir:
				err = violation("order %d is on the %s book", o.ID, book.dir)
			case !o.UnfilledQuantity.IsPositive() || o.Status.IsFinal():
				err = violation("order %d is closed but on the book", o.ID)
			}
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	if seen != e.orders.Len() {
		return violation("%d orders on the books, %d active", seen, e.orders.Len())
	}
	return nil
}

// verifyReserves checks that every frozen balance equals what the user's
// open orders still reserve.
func (e *Engine) verifyReserves() error {
	expected := make(map[int64]map[asset.ID]decimal.Decimal)
	for _, o := range e.orders.All() {
		id, amount := e.clearing.Reservation(o)
		m, ok := expected[o.UserID]
		if !ok {
			m = make(map[asset.ID]decimal.Decimal)
			expected[o.UserID] = m
		}
		m[id] = m[id].Add(amount)
	}

	var err error
	e.ledger.Walk(func(userID int64, id asset.ID, b asset.Balance) {
		if err == nil && !b.Frozen.Equal(expected[userID][id]) {
			err = violation("user %d %s frozen %s, open orders reserve %s", userID, id, b.Frozen, expected[userID][id])
		}
		delete(expected[userID], id)
	})
	if err != nil {
		return err
	}
	for userID, m := range expected {
		for id, amount := range m {
			return violation("user %d has orders reserving %s %s but no balance", userID, amount, id)
		}
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
