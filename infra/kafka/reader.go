package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader consumes a topic as a member of a consumer group. Offsets are
// committed explicitly once a batch has been handled.
type Reader struct {
	reader *kafka.Reader
}

func NewReader(brokers []string, topic, groupID string) *Reader {
	return &Reader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// FetchBatch blocks for the first message, then collects whatever else
// arrives within wait, up to max messages.
func (r *Reader) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]kafka.Message, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for len(msgs) < max {
		m, err := r.reader.FetchMessage(waitCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return msgs, nil
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *Reader) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return r.reader.CommitMessages(ctx, msgs...)
}

func (r *Reader) Close() error {
	return r.reader.Close()
}
