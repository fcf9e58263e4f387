package eventlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// -------------------- Keys --------------------
//
//	event/<seq:%020d>  -> [prev:8][createdAt:8][data]
//	unique/<uniqueID>  -> [seq:8][createdAt:8]

const (
	eventPrefix  = "event/"
	uniquePrefix = "unique/"
)

// PebbleLog stores the event log in a local pebble database.
type PebbleLog struct {
	db     *pebble.DB
	closed atomic.Bool
}

func OpenPebble(dir string) (*PebbleLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", dir, err)
	}
	return &PebbleLog{db: db}, nil
}

func (l *PebbleLog) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}

// -------------------- API --------------------

func (l *PebbleLog) Append(_ context.Context, records []Record, markers []Marker) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if len(records) == 0 && len(markers) == 0 {
		return nil
	}
	if err := checkMarkers(markers); err != nil {
		return err
	}

	b := l.db.NewBatch()
	defer b.Close()

	for _, m := range markers {
		exists, err := l.has(uniqueKey(m.UniqueID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateMarker, m.UniqueID)
		}
		if err := b.Set(uniqueKey(m.UniqueID), encodeMarker(m), nil); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := b.Set(eventKey(r.SequenceID), encodeRecord(r), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (l *PebbleLog) After(_ context.Context, id int64, limit int) ([]Record, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(id + 1),
		UpperBound: []byte(eventPrefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		r, err := decodeRecord(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

func (l *PebbleLog) Last(_ context.Context) (Record, bool, error) {
	if l.closed.Load() {
		return Record{}, false, ErrClosed
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: []byte(eventPrefix + "~"),
	})
	if err != nil {
		return Record{}, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return Record{}, false, iter.Error()
	}
	r, err := decodeRecord(iter.Key(), iter.Value())
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (l *PebbleLog) HasMarker(_ context.Context, uniqueID string) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}
	return l.has(uniqueKey(uniqueID))
}

// -------------------- Helpers --------------------

func (l *PebbleLog) has(key []byte) (bool, error) {
	_, closer, err := l.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func eventKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, seq))
}

func uniqueKey(id string) []byte {
	return []byte(uniquePrefix + id)
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, 16+len(r.Data))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.PreviousID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.CreatedAt))
	copy(buf[16:], r.Data)
	return buf
}

func decodeRecord(key, val []byte) (Record, error) {
	if len(val) < 16 {
		return Record{}, errors.New("eventlog: invalid record length")
	}
	var seq int64
	if _, err := fmt.Sscanf(string(bytes.TrimPrefix(key, []byte(eventPrefix))), "%d", &seq); err != nil {
		return Record{}, fmt.Errorf("eventlog: bad key %q: %w", key, err)
	}
	return Record{
		SequenceID: seq,
		PreviousID: int64(binary.BigEndian.Uint64(val[0:8])),
		CreatedAt:  int64(binary.BigEndian.Uint64(val[8:16])),
		Data:       bytes.Clone(val[16:]),
	}, nil
}

func encodeMarker(m Marker) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.SequenceID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.CreatedAt))
	return buf
}
