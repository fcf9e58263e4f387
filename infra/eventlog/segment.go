package eventlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// -------------------- Segment files --------------------
//
// A segment holds one frame per Append:
//
//	[len:4][crc:4][payload]
//
// and the payload lists the markers, then the records, of the unit:
//
//	[markers:4] { [seq:8][createdAt:8][idLen:2][id] }
//	[records:4] { [seq:8][prev:8][createdAt:8][dataLen:4][data] }
//
// A frame torn by a crash fails its length or crc check and is cut off,
// together with anything after it, when the log is reopened.

const (
	segmentGlob   = "segment-*.log"
	segmentFormat = "segment-%06d.log"
	frameHeader   = 8
)

var errTornFrame = errors.New("eventlog: torn frame")

type SegmentConfig struct {
	Dir         string
	SegmentSize int64
}

// location points at the data of one record inside a segment file.
type location struct {
	seq       int64
	prev      int64
	createdAt int64
	segment   int
	offset    int64
	size      int
}

// SegmentLog is an append-only file log split into size-bounded segments.
// The record index and the markers are kept in memory and rebuilt by
// scanning the segments on open.
type SegmentLog struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	segIndex int
	current  *os.File
	size     int64
	files    map[int]*os.File
	index    []location
	markers  map[string]struct{}
	closed   bool
}

func OpenSegments(cfg SegmentConfig) (*SegmentLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	l := &SegmentLog{
		dir:     cfg.Dir,
		segSize: cfg.SegmentSize,
		files:   make(map[int]*os.File),
		markers: make(map[string]struct{}),
	}

	paths, err := filepath.Glob(filepath.Join(cfg.Dir, segmentGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for i, path := range paths {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(path), segmentFormat, &n); err != nil {
			return nil, fmt.Errorf("eventlog: unexpected segment %s", path)
		}
		good, err := l.load(path, n)
		last := i == len(paths)-1
		if errors.Is(err, errTornFrame) && last {
			if err := os.Truncate(path, good); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, fmt.Errorf("scan segment %s: %w", path, err)
		}
		if last {
			l.segIndex, l.size = n, good
		}
	}

	if err := l.openCurrent(); err != nil {
		return nil, err
	}
	return l, nil
}

// load indexes every whole frame of a segment and returns the offset
// just past the last one.
func (l *SegmentLog) load(path string, segment int) (int64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var off int64
	for int(off) < len(buf) {
		rest := buf[off:]
		if len(rest) < frameHeader {
			return off, errTornFrame
		}
		n := int64(binary.BigEndian.Uint32(rest[0:4]))
		sum := binary.BigEndian.Uint32(rest[4:8])
		if int64(len(rest)) < frameHeader+n {
			return off, errTornFrame
		}
		payload := rest[frameHeader : frameHeader+n]
		if crc32.ChecksumIEEE(payload) != sum {
			return off, errTornFrame
		}
		markers, locs, err := decodeFrame(payload, segment, off+frameHeader)
		if err != nil {
			return off, err
		}
		for _, m := range markers {
			l.markers[m] = struct{}{}
		}
		l.index = append(l.index, locs...)
		off += frameHeader + n
	}
	return off, nil
}

func (l *SegmentLog) openCurrent() error {
	path := filepath.Join(l.dir, fmt.Sprintf(segmentFormat, l.segIndex))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.current = f
	l.files[l.segIndex] = f
	return nil
}

func (l *SegmentLog) rotate() error {
	l.segIndex++
	l.size = 0
	return l.openCurrent()
}

func (l *SegmentLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// -------------------- API --------------------

func (l *SegmentLog) Append(_ context.Context, records []Record, markers []Marker) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if len(records) == 0 && len(markers) == 0 {
		return nil
	}
	if err := checkMarkers(markers); err != nil {
		return err
	}
	for _, m := range markers {
		if _, ok := l.markers[m.UniqueID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMarker, m.UniqueID)
		}
	}
	last := int64(0)
	if n := len(l.index); n > 0 {
		last = l.index[n-1].seq
	}
	for _, r := range records {
		if r.SequenceID <= last {
			return fmt.Errorf("eventlog: record %d does not follow %d", r.SequenceID, last)
		}
		last = r.SequenceID
	}

	payload := encodeFrame(records, markers)
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("eventlog: frame of %d bytes too large", len(payload))
	}
	// A frame that cannot be read back must never reach the file.
	_, locs, err := decodeFrame(payload, l.segIndex, l.size+frameHeader)
	if err != nil {
		return err
	}
	frame := make([]byte, frameHeader+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[frameHeader:], payload)

	if _, err := l.current.Write(frame); err != nil {
		_ = l.current.Truncate(l.size)
		return err
	}
	if err := l.current.Sync(); err != nil {
		return err
	}

	l.index = append(l.index, locs...)
	for _, m := range markers {
		l.markers[m.UniqueID] = struct{}{}
	}
	l.size += int64(len(frame))

	if l.segSize > 0 && l.size >= l.segSize {
		return l.rotate()
	}
	return nil
}

func (l *SegmentLog) After(_ context.Context, id int64, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	i := sort.Search(len(l.index), func(i int) bool { return l.index[i].seq > id })
	end := len(l.index)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]Record, 0, end-i)
	for _, loc := range l.index[i:end] {
		r, err := l.read(loc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *SegmentLog) Last(_ context.Context) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, false, ErrClosed
	}
	if len(l.index) == 0 {
		return Record{}, false, nil
	}
	r, err := l.read(l.index[len(l.index)-1])
	return r, err == nil, err
}

func (l *SegmentLog) HasMarker(_ context.Context, uniqueID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrClosed
	}
	_, ok := l.markers[uniqueID]
	return ok, nil
}

func (l *SegmentLog) read(loc location) (Record, error) {
	f, ok := l.files[loc.segment]
	if !ok {
		var err error
		f, err = os.Open(filepath.Join(l.dir, fmt.Sprintf(segmentFormat, loc.segment)))
		if err != nil {
			return Record{}, err
		}
		l.files[loc.segment] = f
	}
	data := make([]byte, loc.size)
	if _, err := f.ReadAt(data, loc.offset); err != nil && !(errors.Is(err, io.EOF) && loc.size == 0) {
		return Record{}, fmt.Errorf("read event %d: %w", loc.seq, err)
	}
	return Record{SequenceID: loc.seq, PreviousID: loc.prev, Data: data, CreatedAt: loc.createdAt}, nil
}

// -------------------- Frame codec --------------------

func encodeFrame(records []Record, markers []Marker) []byte {
	var b bytes.Buffer
	writeUint(&b, 4, uint64(len(markers)))
	for _, m := range markers {
		writeUint(&b, 8, uint64(m.SequenceID))
		writeUint(&b, 8, uint64(m.CreatedAt))
		writeUint(&b, 2, uint64(len(m.UniqueID)))
		b.WriteString(m.UniqueID)
	}
	writeUint(&b, 4, uint64(len(records)))
	for _, r := range records {
		writeUint(&b, 8, uint64(r.SequenceID))
		writeUint(&b, 8, uint64(r.PreviousID))
		writeUint(&b, 8, uint64(r.CreatedAt))
		writeUint(&b, 4, uint64(len(r.Data)))
		b.Write(r.Data)
	}
	return b.Bytes()
}

// decodeFrame returns the marker ids and record locations of a payload
// that starts at base within segment.
func decodeFrame(payload []byte, segment int, base int64) ([]string, []location, error) {
	r := frameReader{buf: payload}
	markers := make([]string, r.count())
	for i := range markers {
		r.uint(8)
		r.uint(8)
		markers[i] = string(r.bytes(int(r.uint(2))))
	}
	locs := make([]location, r.count())
	for i := range locs {
		loc := location{
			seq:       int64(r.uint(8)),
			prev:      int64(r.uint(8)),
			createdAt: int64(r.uint(8)),
			segment:   segment,
		}
		loc.size = int(r.uint(4))
		loc.offset = base + int64(r.pos)
		r.bytes(loc.size)
		locs[i] = loc
	}
	if r.err {
		return nil, nil, fmt.Errorf("eventlog: malformed frame in segment %d at %d", segment, base-frameHeader)
	}
	return markers, locs, nil
}

func writeUint(b *bytes.Buffer, size int, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[8-size:])
}

type frameReader struct {
	buf []byte
	pos int
	err bool
}

func (r *frameReader) bytes(n int) []byte {
	if r.err || n < 0 || r.pos+n > len(r.buf) {
		r.err = true
		return nil
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

// count reads a 4 byte element count, bounded by the bytes left.
func (r *frameReader) count() int {
	n := r.uint(4)
	if n > uint64(len(r.buf)-r.pos) {
		r.err = true
		return 0
	}
	return int(n)
}

func (r *frameReader) uint(size int) uint64 {
	b := r.bytes(size)
	if b == nil && size > 0 {
		return 0
	}
	var tmp [8]byte
	copy(tmp[8-size:], b)
	return binary.BigEndian.Uint64(tmp[:])
}
