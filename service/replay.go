package service

import (
	"context"
	"errors"
	"fmt"

	"tradecore/domain/asset"
	"tradecore/pkg/logger"
	"tradecore/snapshot"
)

// Restore loads a checkpoint into a fresh engine.
func (e *Engine) Restore(s snapshot.State) error {
	if e.lastAppliedID != 0 || e.orders.Len() != 0 {
		return errors.New("restore into a used engine")
	}
	for _, b := range s.Balances {
		e.ledger.Set(b.UserID, b.Asset, asset.Balance{Available: b.Available, Frozen: b.Frozen})
	}
	for i := range s.Orders {
		o := s.Orders[i]
		if err := e.orders.Add(&o); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		if !e.matcher.Restore(&o) {
			return fmt.Errorf("restore order %d: already on the book", o.ID)
		}
	}
	e.lastAppliedID = s.LastAppliedID
	e.matcher.Reset(s.LastAppliedID, s.MarketPrice)
	return nil
}

// Recover rebuilds the state before live consumption: the checkpoint in
// dir if there is one, then every logged event after it. Outcomes,
// notifications and ticks of replayed events are not emitted again.
func (e *Engine) Recover(ctx context.Context, dir string) error {
	if dir != "" {
		s, ok, err := snapshot.Load(dir)
		if err != nil {
			return e.halt(err)
		}
		if ok {
			if err := e.Restore(s); err != nil {
				return e.halt(err)
			}
			e.logger.Info("checkpoint restored",
				logger.NewField("last_applied_id", s.LastAppliedID),
				logger.NewField("orders", len(s.Orders)))
		}
	}

	e.recovering = true
	defer func() { e.recovering = false }()

	replayed := 0
	for {
		records, err := e.log.After(ctx, e.lastAppliedID, e.cfg.ReplayBatchSize)
		if err != nil {
			return e.halt(fmt.Errorf("read log after %d: %w", e.lastAppliedID, err))
		}
		if len(records) == 0 {
			break
		}
		for _, r := range records {
			ev, err := e.codec.Unmarshal(r.Data)
			if err != nil {
				return e.halt(fmt.Errorf("decode logged event %d: %w", r.SequenceID, err))
			}
			if err := e.apply(ctx, ev); err != nil {
				return e.halt(err)
			}
			replayed++
		}
	}
	if e.cfg.Debug {
		if err := e.Verify(); err != nil {
			return e.halt(err)
		}
	}
	e.publishState()
	e.logger.Info("engine recovered",
		logger.NewField("last_applied_id", e.lastAppliedID),
		logger.NewField("replayed", replayed))
	return nil
}
