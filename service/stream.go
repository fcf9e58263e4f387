package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradecore/domain/event"
	tkafka "tradecore/infra/kafka"
	"tradecore/pkg/logger"
)

// Delivery is one inbound batch. Commit acknowledges it to the transport
// once it has been handled; it may be nil.
type Delivery struct {
	Events []event.Event
	Commit func(context.Context) error
}

type Source interface {
	Receive(ctx context.Context) (Delivery, error)
}

type Sink interface {
	Publish(ctx context.Context, events []event.Event) error
}

type Sequencer interface {
	Sequence(ctx context.Context, events []event.Event) ([]event.Event, error)
}

// -------------------- Kafka adapters --------------------

type KafkaSource struct {
	reader *tkafka.Reader
	codec  event.Codec
	logger *logger.Logger
	max    int
	wait   time.Duration
}

func NewKafkaSource(reader *tkafka.Reader, codec event.Codec, lg *logger.Logger, max int, wait time.Duration) *KafkaSource {
	return &KafkaSource{reader: reader, codec: codec, logger: lg, max: max, wait: wait}
}

// Receive fetches the next batch. Undecodable messages are skipped and
// still committed; a skipped sequenced event is repaired from the log by
// the engine's gap replay.
func (s *KafkaSource) Receive(ctx context.Context) (Delivery, error) {
	msgs, err := s.reader.FetchBatch(ctx, s.max, s.wait)
	if err != nil {
		return Delivery{}, err
	}
	events := make([]event.Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := s.codec.Unmarshal(m.Value)
		if err != nil {
			s.logger.Warn("skipping undecodable message",
				logger.NewField("topic", m.Topic),
				logger.NewField("partition", m.Partition),
				logger.NewField("offset", m.Offset),
				logger.NewField("reason", err.Error()))
			continue
		}
		events = append(events, ev)
	}
	return Delivery{
		Events: events,
		Commit: func(ctx context.Context) error { return s.reader.Commit(ctx, msgs...) },
	}, nil
}

// KafkaSink writes sequenced events under one key so they share a
// partition and keep their order.
type KafkaSink struct {
	producer *tkafka.Producer
	codec    event.Codec
	key      []byte
}

func NewKafkaSink(producer *tkafka.Producer, codec event.Codec, key string) *KafkaSink {
	return &KafkaSink{producer: producer, codec: codec, key: []byte(key)}
}

func (s *KafkaSink) Publish(ctx context.Context, events []event.Event) error {
	msgs := make([]tkafka.Message, 0, len(events))
	for _, ev := range events {
		data, err := s.codec.Marshal(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, tkafka.Message{Key: s.key, Value: data})
	}
	return s.producer.Send(ctx, msgs...)
}

// -------------------- Loops --------------------

// SequencingLoop moves inbound requests through the sequencer to the
// sequenced stream. Inbound offsets are committed only after publishing.
type SequencingLoop struct {
	src    Source
	seq    Sequencer
	sink   Sink
	logger *logger.Logger
}

func NewSequencingLoop(src Source, seq Sequencer, sink Sink, lg *logger.Logger) *SequencingLoop {
	return &SequencingLoop{src: src, seq: seq, sink: sink, logger: lg.WithFields(logger.NewField("component", "sequencing"))}
}

// Run returns nil when ctx is cancelled and an error when the sequencer
// halts or the sequenced stream cannot be written.
func (l *SequencingLoop) Run(ctx context.Context) error {
	for {
		d, err := l.src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive requests: %w", err)
		}
		out, err := l.seq.Sequence(ctx, d.Events)
		if err != nil {
			return err
		}
		if len(out) > 0 {
			if err := l.sink.Publish(ctx, out); err != nil {
				return fmt.Errorf("publish sequenced events: %w", err)
			}
		}
		commit(ctx, d, l.logger)
	}
}

// Run feeds batches from src into the engine until ctx is cancelled or
// the engine halts.
func (e *Engine) Run(ctx context.Context, src Source) error {
	for {
		d, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive events: %w", err)
		}
		if err := e.ProcessBatch(ctx, d.Events); err != nil {
			return err
		}
		commit(ctx, d, e.logger)
	}
}

// commit failures are tolerated: redelivery is filtered by sequence id
// or unique id.
func commit(ctx context.Context, d Delivery, lg *logger.Logger) {
	if d.Commit == nil {
		return
	}
	if err := d.Commit(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Warn("commit failed", logger.NewField("reason", err.Error()))
	}
}
