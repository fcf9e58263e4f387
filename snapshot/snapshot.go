// Package snapshot checkpoints the engine state to disk so a restart
// replays only the tail of the event log.
package snapshot

import (
	"github.com/shopspring/decimal"

	"tradecore/domain/asset"
	"tradecore/domain/order"
)

const fileName = "state.gob"

// State is an immutable copy of everything the engine needs to resume
// after LastAppliedID.
type State struct {
	LastAppliedID int64
	CreatedAt     int64
	MarketPrice   decimal.Decimal
	Balances      []BalanceEntry
	Orders        []order.Order
}

type BalanceEntry struct {
	UserID    int64
	Asset     asset.ID
	Available decimal.Decimal
	Frozen    decimal.Decimal
}
