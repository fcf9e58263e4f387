// Package publisher moves the engine's output to the read side: request
// outcomes and notifications over redis pub/sub, the order book snapshot
// into redis, and closed orders with their matches into the archive.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"tradecore/domain/orderbook"
	"tradecore/infra/queue"
	"tradecore/infra/store"
	"tradecore/pkg/logger"
	"tradecore/service"
)

const BatchSize = 1000

type MessageBus interface {
	PublishResults(ctx context.Context, payloads ...[]byte) error
	PublishNotifications(ctx context.Context, payloads ...[]byte) error
}

type BookStore interface {
	UpdateOrderBook(ctx context.Context, sequenceID int64, payload []byte) (bool, error)
}

type Archive interface {
	Save(ctx context.Context, batches ...store.Batch) error
}

type BookSource interface {
	LatestOrderBook() orderbook.OrderBook
}

type Publisher struct {
	out    *service.Outbox
	logger *logger.Logger
	poll   time.Duration
}

func New(out *service.Outbox, lg *logger.Logger, poll time.Duration) *Publisher {
	return &Publisher{out: out, logger: lg.WithFields(logger.NewField("job", "publisher")), poll: poll}
}

// RunOutcomes sends request outcomes until ctx is done.
func (p *Publisher) RunOutcomes(ctx context.Context, bus MessageBus) {
	queue.Consume(ctx, p.out.Outcomes, BatchSize, p.poll, func(ctx context.Context, items []service.Outcome) error {
		payloads, err := encodeAll(items)
		if err != nil {
			return err
		}
		return p.check(bus.PublishResults(ctx, payloads...), "outcomes", len(items))
	})
}

// RunNotifications sends user notifications until ctx is done.
func (p *Publisher) RunNotifications(ctx context.Context, bus MessageBus) {
	queue.Consume(ctx, p.out.Notifications, BatchSize, p.poll, func(ctx context.Context, items []service.Notification) error {
		payloads, err := encodeAll(items)
		if err != nil {
			return err
		}
		return p.check(bus.PublishNotifications(ctx, payloads...), "notifications", len(items))
	})
}

// RunArchive persists closed orders and match records until ctx is done.
func (p *Publisher) RunArchive(ctx context.Context, archive Archive) {
	queue.Consume(ctx, p.out.Archive, BatchSize, p.poll, func(ctx context.Context, items []store.Batch) error {
		return p.check(archive.Save(ctx, items...), "archive", len(items))
	})
}

// RunOrderBook stores the latest order book whenever its sequence id has
// moved since the last successful store.
func (p *Publisher) RunOrderBook(ctx context.Context, src BookSource, books BookStore) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		book := src.LatestOrderBook()
		if book.SequenceID <= last {
			continue
		}
		payload, err := json.Marshal(book)
		if err != nil {
			p.logger.Error(err, logger.NewField("sequence_id", book.SequenceID))
			continue
		}
		if _, err := books.UpdateOrderBook(ctx, book.SequenceID, payload); err != nil {
			_ = p.check(err, "order book", 1)
			continue
		}
		last = book.SequenceID
	}
}

func (p *Publisher) check(err error, what string, n int) error {
	if err != nil {
		p.logger.Warn("publish failed, will retry",
			logger.NewField("what", what),
			logger.NewField("items", n),
			logger.NewField("reason", err.Error()))
	}
	return err
}

func encodeAll[T any](items []T) ([][]byte, error) {
	out := make([][]byte, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
