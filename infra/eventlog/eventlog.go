// Package eventlog is the durable store of sequenced events and of the
// idempotency markers that guard against re-sequencing.
package eventlog

import (
	"context"
	"errors"
	"fmt"
)

// MaxUniqueIDLength is the longest idempotency key every backend can store.
const MaxUniqueIDLength = 64

var (
	ErrClosed          = errors.New("eventlog: closed")
	ErrDuplicateMarker = errors.New("eventlog: duplicate unique id")
	ErrUniqueIDTooLong = errors.New("eventlog: unique id too long")
)

// Record is one sequenced event. Data is the encoded event.
type Record struct {
	SequenceID int64
	PreviousID int64
	Data       []byte
	CreatedAt  int64
}

// Marker records that a producer idempotency key has been sequenced.
type Marker struct {
	UniqueID   string
	SequenceID int64
	CreatedAt  int64
}

// Log is the contract the sequencer and the engine need from durable storage.
type Log interface {
	// Append writes records and markers as one atomic unit.
	Append(ctx context.Context, records []Record, markers []Marker) error
	// After returns up to limit records with SequenceID > id, ascending.
	// A limit <= 0 returns every such record.
	After(ctx context.Context, id int64, limit int) ([]Record, error)
	// Last returns the record with the highest SequenceID.
	Last(ctx context.Context) (Record, bool, error)
	HasMarker(ctx context.Context, uniqueID string) (bool, error)
	Close() error
}

func checkMarkers(markers []Marker) error {
	for _, m := range markers {
		if len(m.UniqueID) > MaxUniqueIDLength {
			return fmt.Errorf("%w: %d bytes", ErrUniqueIDTooLong, len(m.UniqueID))
		}
	}
	return nil
}

var (
	_ Log = (*PebbleLog)(nil)
	_ Log = (*PostgresLog)(nil)
	_ Log = (*SegmentLog)(nil)
)
