package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/domain/asset"
	"tradecore/domain/clearing"
	"tradecore/domain/event"
	"tradecore/domain/order"
	"tradecore/domain/orderbook"
	"tradecore/infra/eventlog"
	pkgerrors "tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

var (
	ErrHalted        = errors.New("engine halted")
	ErrDiscontinuity = errors.New("event chain discontinuity")
)

type Config struct {
	Base  asset.ID
	Quote asset.ID

	// Depth is the number of price levels per side in order book snapshots.
	Depth int
	// Debug runs the full invariant check after every batch.
	Debug bool
	// ReplayBatchSize bounds one read of the durable log.
	ReplayBatchSize int
	// CheckpointInterval is the minimum time between two checkpoints; zero
	// disables them.
	CheckpointInterval time.Duration
}

// Engine is the single consumer of the sequenced stream.
type Engine struct {
	cfg Config

	ledger   *asset.Ledger
	orders   *order.Registry
	matcher  *orderbook.Engine
	clearing *clearing.Clearing

	log    eventlog.Log
	codec  event.Codec
	logger *logger.Logger
	out    *Outbox
	now    func() time.Time

	lastAppliedID  int64
	recovering     bool
	lastCheckpoint time.Time

	book atomic.Pointer[orderbook.OrderBook]
	view atomic.Pointer[View]

	halted atomic.Bool
	errMu  sync.Mutex
	err    error
}

func NewEngine(cfg Config, log eventlog.Log, codec event.Codec, lg *logger.Logger) *Engine {
	if cfg.ReplayBatchSize <= 0 {
		cfg.ReplayBatchSize = 10000
	}
	ledger := asset.NewLedger()
	orders := order.NewRegistry()
	e := &Engine{
		cfg:      cfg,
		ledger:   ledger,
		orders:   orders,
		matcher:  orderbook.NewEngine(),
		clearing: clearing.New(ledger, orders, cfg.Base, cfg.Quote),
		log:      log,
		codec:    codec,
		logger:   lg.WithFields(logger.NewField("component", "engine")),
		out:      NewOutbox(),
		now:      time.Now,
	}
	e.lastCheckpoint = e.now()
	e.publishState()
	return e
}

func (e *Engine) Outbox() *Outbox { return e.out }

func (e *Engine) LastAppliedID() int64 { return e.lastAppliedID }

func (e *Engine) Halted() bool { return e.halted.Load() }

// Err returns the error that halted the engine.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// LatestOrderBook returns the depth snapshot taken after the last batch.
func (e *Engine) LatestOrderBook() orderbook.OrderBook {
	return *e.book.Load()
}

// View returns the balances and active orders as of the last batch.
func (e *Engine) View() *View {
	return e.view.Load()
}

// ProcessBatch applies events in order. A non-nil error wraps ErrHalted:
// the engine refuses all further work and must be rebuilt from the log.
func (e *Engine) ProcessBatch(ctx context.Context, events []event.Event) error {
	if e.halted.Load() {
		return ErrHalted
	}
	for _, ev := range events {
		if err := e.apply(ctx, ev); err != nil {
			return e.halt(err)
		}
	}
	if e.cfg.Debug {
		if err := e.Verify(); err != nil {
			return e.halt(err)
		}
	}
	e.publishState()
	return nil
}

func (e *Engine) apply(ctx context.Context, ev event.Event) error {
	h := ev.Head()
	if h.SequenceID <= e.lastAppliedID {
		e.logger.Warn("duplicate event delivery",
			logger.NewField("sequence_id", h.SequenceID),
			logger.NewField("last_applied_id", e.lastAppliedID))
		return nil
	}
	if h.PreviousID > e.lastAppliedID {
		if err := e.fillGap(ctx, h); err != nil {
			return err
		}
	}
	if h.PreviousID != e.lastAppliedID {
		return fmt.Errorf("%w: event %d follows %d but last applied is %d",
			ErrDiscontinuity, h.SequenceID, h.PreviousID, e.lastAppliedID)
	}

	if err := e.dispatch(ev); err != nil {
		return fmt.Errorf("apply %s event %d: %w", ev.Kind(), h.SequenceID, err)
	}
	e.lastAppliedID = h.SequenceID
	return nil
}

// fillGap applies logged events between lastAppliedID and h, reading the
// log in bounded chunks. A read that yields nothing before h is fatal.
func (e *Engine) fillGap(ctx context.Context, h *event.Header) error {
	e.logger.Warn("gap detected, replaying from log",
		logger.NewField("sequence_id", h.SequenceID),
		logger.NewField("previous_id", h.PreviousID),
		logger.NewField("last_applied_id", e.lastAppliedID))

	for h.PreviousID > e.lastAppliedID {
		records, err := e.log.After(ctx, e.lastAppliedID, e.cfg.ReplayBatchSize)
		if err != nil {
			return fmt.Errorf("read log after %d: %w", e.lastAppliedID, err)
		}
		applied := 0
		for _, r := range records {
			if r.SequenceID >= h.SequenceID {
				break
			}
			ev, err := e.codec.Unmarshal(r.Data)
			if err != nil {
				return fmt.Errorf("decode logged event %d: %w", r.SequenceID, err)
			}
			if err := e.apply(ctx, ev); err != nil {
				return err
			}
			applied++
		}
		if applied == 0 {
			return fmt.Errorf("%w: no logged events after %d before %d",
				ErrDiscontinuity, e.lastAppliedID, h.SequenceID)
		}
	}
	return nil
}

func (e *Engine) dispatch(ev event.Event) error {
	switch ev := ev.(type) {
	case *event.OrderRequest:
		return e.createOrder(ev)
	case *event.OrderCancel:
		return e.cancelOrder(ev)
	case *event.Transfer:
		return e.transfer(ev)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (e *Engine) createOrder(ev *event.OrderRequest) error {
	h := ev.Head()
	if err := ev.Validate(); err != nil {
		e.reject(h, pkgerrors.ParameterInvalid, err)
		return nil
	}

	o := order.New(order.NewID(h.SequenceID, h.CreatedAt), h.SequenceID, ev.UserID,
		ev.Direction, ev.Price, ev.Quantity, h.CreatedAt)
	id, amount := e.clearing.Reservation(o)
	if err := e.ledger.Freeze(ev.UserID, id, amount); err != nil {
		if errors.Is(err, asset.ErrInsufficientFunds) {
			e.reject(h, pkgerrors.NoEnoughAsset, err)
			return nil
		}
		return err
	}
	if err := e.orders.Add(o); err != nil {
		return err
	}

	result := e.matcher.ProcessOrder(h.SequenceID, o)
	if err := e.clearing.ClearMatchResult(result); err != nil {
		return err
	}

	e.emitOutcome(success(h.RefID, o))
	e.emitMatch(h, result)
	return nil
}

func (e *Engine) cancelOrder(ev *event.OrderCancel) error {
	h := ev.Head()
	o, ok := e.orders.Get(ev.RefOrderID)
	if !ok || o.UserID != ev.UserID {
		e.reject(h, pkgerrors.OrderNotFound, order.ErrOrderNotFound)
		return nil
	}
	if err := e.matcher.Cancel(h.SequenceID, o, h.CreatedAt); err != nil {
		return err
	}
	if err := e.clearing.ClearCancelOrder(o); err != nil {
		return err
	}

	e.emitOutcome(success(h.RefID, o))
	e.emitNotifications(Notification{Timestamp: h.CreatedAt, Type: OrderCanceled, UserID: o.UserID, Payload: o.Snapshot()})
	e.emitArchive(archiveCancel(o))
	return nil
}

func (e *Engine) transfer(ev *event.Transfer) error {
	h := ev.Head()
	if err := ev.Validate(); err != nil {
		e.reject(h, pkgerrors.ParameterInvalid, err)
		return nil
	}
	err := e.ledger.Transfer(asset.AvailableToAvailable, ev.FromUserID, ev.ToUserID, ev.Asset, ev.Amount, ev.Sufficient)
	if errors.Is(err, asset.ErrInsufficientFunds) {
		e.reject(h, pkgerrors.NoEnoughAsset, err)
		return nil
	}
	if err != nil {
		return err
	}
	e.emitOutcome(success(h.RefID, nil))
	return nil
}

func (e *Engine) reject(h *event.Header, code pkgerrors.ErrorCode, cause error) {
	e.logger.Warn("request rejected",
		logger.NewField("sequence_id", h.SequenceID),
		logger.NewField("code", code.String()),
		logger.NewField("reason", cause.Error()))
	e.emitOutcome(failure(h.RefID, code))
}

// halt records the first fatal error and stops the engine for good.
func (e *Engine) halt(cause error) error {
	err := pkgerrors.NewTracer("engine halted").Wrap(cause)
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	e.halted.Store(true)
	e.logger.Error(err, logger.NewField("last_applied_id", e.lastAppliedID))
	return fmt.Errorf("%w: %w", ErrHalted, cause)
}
