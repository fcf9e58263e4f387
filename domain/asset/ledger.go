package asset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DebtUserID is the system account that issues funds into the exchange.
// It is the only account allowed to carry a negative available balance.
const DebtUserID int64 = 1

var (
	ErrInsufficientFunds = errors.New("asset: insufficient funds")
	ErrNegativeAmount    = errors.New("asset: negative amount")
)

// ID names an asset kind, e.g. "BTC" or "USD".
type ID string

// TransferMode selects which partitions a transfer debits and credits.
type TransferMode int

const (
	AvailableToAvailable TransferMode = iota
	AvailableToFrozen
	FrozenToAvailable
)

func (m TransferMode) String() string {
	switch m {
	case AvailableToAvailable:
		return "AVAILABLE_TO_AVAILABLE"
	case AvailableToFrozen:
		return "AVAILABLE_TO_FROZEN"
	case FrozenToAvailable:
		return "FROZEN_TO_AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Balance is the state of one (user, asset) pair.
type Balance struct {
	Available decimal.Decimal
	Frozen    decimal.Decimal
}

// Total returns available + frozen.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Frozen)
}

// Ledger holds every user's balances. It is not safe for concurrent use:
// the engine goroutine is its only writer and readers get copies.
type Ledger struct {
	balances map[int64]map[ID]*Balance
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[int64]map[ID]*Balance)}
}

// Get returns a copy of the balance; ok is false if the pair was never touched.
func (l *Ledger) Get(userID int64, id ID) (Balance, bool) {
	b := l.lookup(userID, id)
	if b == nil {
		return Balance{}, false
	}
	return *b, true
}

// Freeze moves amount from available to frozen for one user.
// It fails with ErrInsufficientFunds and no effect when available < amount.
func (l *Ledger) Freeze(userID int64, id ID, amount decimal.Decimal) error {
	return l.Transfer(AvailableToFrozen, userID, userID, id, amount, true)
}

// Unfreeze moves amount from frozen back to available. Callers guarantee
// frozen >= amount, so any error here is a broken invariant.
func (l *Ledger) Unfreeze(userID int64, id ID, amount decimal.Decimal) error {
	if err := l.Transfer(FrozenToAvailable, userID, userID, id, amount, true); err != nil {
		return fmt.Errorf("unfreeze %s %s for user %d: %w", amount, id, userID, err)
	}
	return nil
}

// Transfer debits from and credits to according to mode. With sufficient set
// the debit leg may not exceed the source partition.
func (l *Ledger) Transfer(mode TransferMode, from, to int64, id ID, amount decimal.Decimal, sufficient bool) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	src := l.lookup(from, id)
	switch mode {
	case AvailableToAvailable, AvailableToFrozen:
		if sufficient && (src == nil || src.Available.LessThan(amount)) {
			return ErrInsufficientFunds
		}
	case FrozenToAvailable:
		if sufficient && (src == nil || src.Frozen.LessThan(amount)) {
			return ErrInsufficientFunds
		}
	default:
		return fmt.Errorf("asset: unknown transfer mode %d", mode)
	}

	src = l.ensure(from, id)
	dst := l.ensure(to, id)
	switch mode {
	case AvailableToAvailable:
		src.Available = src.Available.Sub(amount)
		dst.Available = dst.Available.Add(amount)
	case AvailableToFrozen:
		src.Available = src.Available.Sub(amount)
		dst.Frozen = dst.Frozen.Add(amount)
	case FrozenToAvailable:
		src.Frozen = src.Frozen.Sub(amount)
		dst.Available = dst.Available.Add(amount)
	}
	return nil
}

// Set overwrites a balance. Only used when restoring a checkpoint.
func (l *Ledger) Set(userID int64, id ID, b Balance) {
	*l.ensure(userID, id) = b
}

// Users returns every user id with at least one balance, ascending.
func (l *Ledger) Users() []int64 {
	users := make([]int64, 0, len(l.balances))
	for u := range l.balances {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Walk visits every balance in (user, asset) order.
func (l *Ledger) Walk(fn func(userID int64, id ID, b Balance)) {
	for _, u := range l.Users() {
		assets := l.balances[u]
		ids := make([]ID, 0, len(assets))
		for id := range assets {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fn(u, id, *assets[id])
		}
	}
}

// Snapshot returns a deep copy of all balances.
func (l *Ledger) Snapshot() map[int64]map[ID]Balance {
	out := make(map[int64]map[ID]Balance, len(l.balances))
	for u, assets := range l.balances {
		m := make(map[ID]Balance, len(assets))
		for id, b := range assets {
			m[id] = *b
		}
		out[u] = m
	}
	return out
}

// Totals sums available+frozen per asset over all accounts.
func (l *Ledger) Totals() map[ID]decimal.Decimal {
	out := make(map[ID]decimal.Decimal)
	for _, assets := range l.balances {
		for id, b := range assets {
			out[id] = out[id].Add(b.Total())
		}
	}
	return out
}

func (l *Ledger) lookup(userID int64, id ID) *Balance {
	assets, ok := l.balances[userID]
	if !ok {
		return nil
	}
	return assets[id]
}

func (l *Ledger) ensure(userID int64, id ID) *Balance {
	assets, ok := l.balances[userID]
	if !ok {
		assets = make(map[ID]*Balance)
		l.balances[userID] = assets
	}
	b, ok := assets[id]
	if !ok {
		b = &Balance{}
		assets[id] = b
	}
	return b
}
