package service

import (
	"tradecore/domain/asset"
	"tradecore/domain/event"
	"tradecore/domain/order"
	"tradecore/domain/orderbook"
	"tradecore/infra/store"
	"tradecore/snapshot"
)

// View is a read-only copy of the engine state taken after a batch.
type View struct {
	SequenceID int64
	balances   map[int64]map[asset.ID]asset.Balance
	orders     map[int64]order.Order
	byUser     map[int64][]int64
}

// Balances returns the user's balances per asset.
func (v *View) Balances(userID int64) map[asset.ID]asset.Balance {
	return v.balances[userID]
}

// Order returns an active order.
func (v *View) Order(id int64) (order.Order, bool) {
	o, ok := v.orders[id]
	return o, ok
}

// ActiveOrders returns the user's open orders ordered by id.
func (v *View) ActiveOrders(userID int64) []order.Order {
	ids := v.byUser[userID]
	out := make([]order.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.orders[id])
	}
	return out
}

func (e *Engine) publishState() {
	book := e.matcher.OrderBook(e.cfg.Depth)
	book.SequenceID = e.lastAppliedID
	e.book.Store(&book)

	v := &View{
		SequenceID: e.lastAppliedID,
		balances:   e.ledger.Snapshot(),
		orders:     make(map[int64]order.Order, e.orders.Len()),
		byUser:     make(map[int64][]int64),
	}
	for _, o := range e.orders.All() {
		v.orders[o.ID] = o.Snapshot()
		v.byUser[o.UserID] = append(v.byUser[o.UserID], o.ID)
	}
	e.view.Store(v)

	if e.cfg.CheckpointInterval > 0 && !e.recovering {
		if now := e.now(); now.Sub(e.lastCheckpoint) >= e.cfg.CheckpointInterval {
			e.lastCheckpoint = now
			e.out.Checkpoints.Push(e.Checkpoint())
		}
	}
}

// Checkpoint captures the state needed to resume after LastAppliedID.
func (e *Engine) Checkpoint() snapshot.State {
	s := snapshot.State{
		LastAppliedID: e.lastAppliedID,
		CreatedAt:     e.now().UnixMilli(),
		MarketPrice:   e.matcher.MarketPrice(),
	}
	e.ledger.Walk(func(userID int64, id asset.ID, b asset.Balance) {
		s.Balances = append(s.Balances, snapshot.BalanceEntry{
			UserID:    userID,
			Asset:     id,
			Available: b.Available,
			Frozen:    b.Frozen,
		})
	})
	for _, o := range e.orders.All() {
		s.Orders = append(s.Orders, o.Snapshot())
	}
	return s
}

// -------------------- Emissions --------------------

func (e *Engine) emitOutcome(o Outcome) {
	if e.recovering {
		return
	}
	e.out.Outcomes.Push(o)
}

func (e *Engine) emitNotifications(n ...Notification) {
	if e.recovering {
		return
	}
	e.out.Notifications.Push(n...)
}

// emitArchive is kept during recovery: archive writes are idempotent and
// a crash may have lost them.
func (e *Engine) emitArchive(b store.Batch) {
	if b.Len() == 0 {
		return
	}
	e.out.Archive.Push(b)
}

// emitMatch queues everything produced by one order request: a
// notification for the taker and every maker touched, a tick per
// execution, and the closed orders with their match records.
func (e *Engine) emitMatch(h *event.Header, r orderbook.MatchResult) {
	taker := r.Taker
	notes := make([]Notification, 0, len(r.Details)+1)
	notes = append(notes, Notification{Timestamp: h.CreatedAt, Type: OrderMatched, UserID: taker.UserID, Payload: taker.Snapshot()})

	var batch store.Batch
	ticks := make([]Tick, 0, len(r.Details))
	for _, md := range r.Details {
		notes = append(notes, Notification{Timestamp: h.CreatedAt, Type: OrderMatched, UserID: md.Maker.UserID, Payload: md.Maker})
		ticks = append(ticks, Tick{
			SequenceID:   h.SequenceID,
			TakerOrderID: taker.ID,
			MakerOrderID: md.Maker.ID,
			Price:        md.Price,
			Quantity:     md.Quantity,
			TakerIsBuyer: taker.Direction == order.Buy,
			CreatedAt:    h.CreatedAt,
		})
		if md.Maker.Status.IsFinal() {
			batch.Orders = append(batch.Orders, md.Maker)
		}
		batch.Matches = append(batch.Matches, matchRecords(h.SequenceID, md)...)
	}
	if taker.Status.IsFinal() {
		batch.Orders = append(batch.Orders, taker.Snapshot())
	}

	e.emitNotifications(notes...)
	if !e.recovering {
		e.out.Ticks.Push(ticks...)
	}
	e.emitArchive(batch)
}

func matchRecords(sequenceID int64, md orderbook.MatchDetail) []store.MatchRecord {
	return []store.MatchRecord{
		{
			SequenceID:     sequenceID,
			OrderID:        md.Taker.ID,
			CounterOrderID: md.Maker.ID,
			UserID:         md.Taker.UserID,
			CounterUserID:  md.Maker.UserID,
			Direction:      md.Taker.Direction,
			Type:           store.Taker,
			Price:          md.Price,
			Quantity:       md.Quantity,
			CreatedAt:      md.Taker.UpdatedAt,
		},
		{
			SequenceID:     sequenceID,
			OrderID:        md.Maker.ID,
			CounterOrderID: md.Taker.ID,
			UserID:         md.Maker.UserID,
			CounterUserID:  md.Taker.UserID,
			Direction:      md.Maker.Direction,
			Type:           store.Maker,
			Price:          md.Price,
			Quantity:       md.Quantity,
			CreatedAt:      md.Maker.UpdatedAt,
		},
	}
}

func archiveCancel(o *order.Order) store.Batch {
	return store.Batch{Orders: []order.Order{o.Snapshot()}}
}
