package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tradecore/domain/event"
	"tradecore/infra/eventlog"
	pkgerrors "tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

var ErrHalted = errors.New("sequencer halted")

// Sequencer turns concurrently submitted batches into one totally ordered,
// durably logged stream. Batches are serialized by mu: the counter and
// the log are shared ordered resources.
type Sequencer struct {
	mu            sync.Mutex
	counter       *Counter
	lastTimestamp int64

	log    eventlog.Log
	codec  event.Codec
	logger *logger.Logger
	now    func() time.Time

	halted atomic.Bool
}

func New(log eventlog.Log, codec event.Codec, lg *logger.Logger) *Sequencer {
	return &Sequencer{
		counter: NewCounter(0),
		log:     log,
		codec:   codec,
		logger:  lg.WithFields(logger.NewField("component", "sequencer")),
		now:     time.Now,
	}
}

// Recover re-seeds the counter and the timestamp watermark from the last
// logged event. It must run before the first Sequence call.
func (s *Sequencer) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok, err := s.log.Last(ctx)
	if err != nil {
		return fmt.Errorf("recover sequencer: %w", err)
	}
	if ok {
		s.counter.Reset(last.SequenceID)
		s.lastTimestamp = last.CreatedAt
	}
	s.logger.Info("sequencer recovered",
		logger.NewField("sequence_id", s.counter.Current()),
		logger.NewField("last_timestamp", s.lastTimestamp))
	return nil
}

// Current returns the last assigned sequence id.
func (s *Sequencer) Current() int64 {
	return s.counter.Current()
}

func (s *Sequencer) Halted() bool {
	return s.halted.Load()
}

// Sequence assigns ids to the events of one batch, dropping any whose
// unique id was already seen or is longer than the log can store, and
// appends them to the log as one unit.
// The returned events may be released downstream only after it returns
// nil. Any error leaves the sequencer halted with nothing assigned, and
// the headers of events unchanged.
func (s *Sequencer) Sequence(ctx context.Context, events []event.Event) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted.Load() {
		return nil, ErrHalted
	}

	prevCounter, prevTimestamp := s.counter.Current(), s.lastTimestamp
	out, err := s.sequence(ctx, events)
	if err != nil {
		s.counter.Reset(prevCounter)
		s.lastTimestamp = prevTimestamp
		s.halted.Store(true)
		err = pkgerrors.NewTracer("sequence batch").Wrap(err)
		s.logger.Error(err, logger.NewField("batch_size", len(events)))
		return nil, fmt.Errorf("%w: %w", ErrHalted, err)
	}
	return out, nil
}

func (s *Sequencer) sequence(ctx context.Context, events []event.Event) (_ []event.Event, err error) {
	seen := make(map[string]struct{})
	out := make([]event.Event, 0, len(events))
	records := make([]eventlog.Record, 0, len(events))
	saved := make([]event.Header, 0, len(events))
	var markers []eventlog.Marker

	// headers are only left assigned once the batch is durable
	defer func() {
		if err != nil {
			for i := len(out) - 1; i >= 0; i-- {
				*out[i].Head() = saved[i]
			}
		}
	}()

	for _, ev := range events {
		h := ev.Head()
		if len(h.UniqueID) > eventlog.MaxUniqueIDLength {
			s.logger.Warn("unique id too long, event dropped",
				logger.NewField("length", len(h.UniqueID)),
				logger.NewField("max", eventlog.MaxUniqueIDLength))
			continue
		}
		if h.UniqueID != "" {
			if _, dup := seen[h.UniqueID]; dup {
				s.logger.Warn("duplicate unique id in batch", logger.NewField("unique_id", h.UniqueID))
				continue
			}
			known, err := s.log.HasMarker(ctx, h.UniqueID)
			if err != nil {
				return nil, err
			}
			if known {
				s.logger.Warn("unique id already sequenced", logger.NewField("unique_id", h.UniqueID))
				continue
			}
			seen[h.UniqueID] = struct{}{}
		}

		saved = append(saved, *h)
		out = append(out, ev)
		h.PreviousID = s.counter.Current()
		h.SequenceID = s.counter.Next()
		h.CreatedAt = s.timestamp()
		if h.RefID == "" {
			h.RefID = uuid.NewString()
		}

		data, err := s.codec.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", h.SequenceID, err)
		}
		records = append(records, eventlog.Record{
			SequenceID: h.SequenceID,
			PreviousID: h.PreviousID,
			Data:       data,
			CreatedAt:  h.CreatedAt,
		})
		if h.UniqueID != "" {
			markers = append(markers, eventlog.Marker{UniqueID: h.UniqueID, SequenceID: h.SequenceID, CreatedAt: h.CreatedAt})
		}
	}

	if len(out) == 0 {
		return out, nil
	}
	if err := s.log.Append(ctx, records, markers); err != nil {
		return nil, fmt.Errorf("append events %d..%d: %w", records[0].SequenceID, records[len(records)-1].SequenceID, err)
	}
	s.logger.Debug("batch sequenced",
		logger.NewField("first", records[0].SequenceID),
		logger.NewField("last", records[len(records)-1].SequenceID))
	return out, nil
}

// timestamp never goes backwards, even if the wall clock does.
func (s *Sequencer) timestamp() int64 {
	now := s.now().UnixMilli()
	if now < s.lastTimestamp {
		s.logger.Warn("clock moved backwards",
			logger.NewField("now", now),
			logger.NewField("last_timestamp", s.lastTimestamp))
		return s.lastTimestamp
	}
	s.lastTimestamp = now
	return now
}
