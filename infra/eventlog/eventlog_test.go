package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(from, to int64) []Record {
	var out []Record
	for seq := from; seq <= to; seq++ {
		out = append(out, Record{SequenceID: seq, PreviousID: seq - 1, Data: []byte(fmt.Sprintf("event-%d", seq)), CreatedAt: 1000 + seq})
	}
	return out
}

// exerciseLog runs the contract shared by every backend against an empty log.
func exerciseLog(t *testing.T, log Log) {
	ctx := context.Background()

	_, ok, err := log.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty log has no last record")

	require.NoError(t, log.Append(ctx, records(1, 3), []Marker{{UniqueID: "k1", SequenceID: 2, CreatedAt: 1002}}))
	require.NoError(t, log.Append(ctx, records(4, 12), nil))

	last, ok, err := log.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12), last.SequenceID)
	assert.Equal(t, int64(11), last.PreviousID)
	assert.Equal(t, int64(1012), last.CreatedAt)
	assert.Equal(t, []byte("event-12"), last.Data)

	got, err := log.After(ctx, 2, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, int64(3+i), r.SequenceID)
	}

	got, err = log.After(ctx, 10, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(12), got[1].SequenceID)

	got, err = log.After(ctx, 12, 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = log.After(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 12, "a non-positive limit reads to the end")

	seen, err := log.HasMarker(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = log.HasMarker(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, seen)

	// a rejected unit leaves nothing behind
	err = log.Append(ctx, records(13, 13), []Marker{{UniqueID: "k1", SequenceID: 13}})
	require.ErrorIs(t, err, ErrDuplicateMarker)
	last, _, err = log.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), last.SequenceID)

	err = log.Append(ctx, records(13, 13), []Marker{{UniqueID: strings.Repeat("k", MaxUniqueIDLength+1), SequenceID: 13}})
	require.ErrorIs(t, err, ErrUniqueIDTooLong)
	last, _, err = log.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), last.SequenceID)

	widest := strings.Repeat("w", MaxUniqueIDLength)
	require.NoError(t, log.Append(ctx, records(13, 13), []Marker{{UniqueID: widest, SequenceID: 13}}))
	seen, err = log.HasMarker(ctx, widest)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestPebbleLog(t *testing.T) {
	log, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	exerciseLog(t, log)
}

func TestPebbleLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, records(1, 20), []Marker{{UniqueID: "abc", SequenceID: 20}}))
	require.NoError(t, log.Close())

	_, err = log.After(ctx, 0, 1)
	require.ErrorIs(t, err, ErrClosed)

	log, err = OpenPebble(dir)
	require.NoError(t, err)
	defer log.Close()

	last, ok, err := log.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), last.SequenceID)

	seen, err := log.HasMarker(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestPebbleKeysSortNumerically(t *testing.T) {
	log, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, []Record{{SequenceID: 9, Data: []byte("a")}, {SequenceID: 10, PreviousID: 9, Data: []byte("b")}}, nil))

	got, err := log.After(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(9), got[0].SequenceID)
	assert.Equal(t, int64(10), got[1].SequenceID)
}

func TestPostgresLog(t *testing.T) {
	dsn := os.Getenv("EVENTLOG_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("EVENTLOG_POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()

	log, err := openPostgresDSN(ctx, dsn)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Migrate(ctx))
	_, err = log.pool.Exec(ctx, `TRUNCATE events, unique_events`)
	require.NoError(t, err)

	exerciseLog(t, log)
}

func openSegments(t *testing.T, dir string, size int64) *SegmentLog {
	t.Helper()
	log, err := OpenSegments(SegmentConfig{Dir: dir, SegmentSize: size})
	require.NoError(t, err)
	return log
}

func TestSegmentLog(t *testing.T) {
	log := openSegments(t, t.TempDir(), 1<<20)
	defer log.Close()

	exerciseLog(t, log)
}

func TestSegmentLogRotatesAndReopens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log := openSegments(t, dir, 128)
	for seq := int64(1); seq <= 20; seq++ {
		var markers []Marker
		if seq%5 == 0 {
			markers = []Marker{{UniqueID: fmt.Sprintf("u%d", seq), SequenceID: seq}}
		}
		require.NoError(t, log.Append(ctx, records(seq, seq), markers))
	}
	require.NoError(t, log.Close())

	segments, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1)

	log = openSegments(t, dir, 128)
	defer log.Close()

	got, err := log.After(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, []byte("event-7"), got[6].Data)

	seen, err := log.HasMarker(ctx, "u15")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, log.Append(ctx, records(21, 21), nil))
	last, _, err := log.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(21), last.SequenceID)
}

func TestSegmentLogDropsTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log := openSegments(t, dir, 1<<20)
	require.NoError(t, log.Append(ctx, records(1, 3), nil))
	require.NoError(t, log.Close())

	path := filepath.Join(dir, fmt.Sprintf(segmentFormat, 0))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 40, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	log = openSegments(t, dir, 1<<20)
	last, ok, err := log.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), last.SequenceID)

	require.NoError(t, log.Append(ctx, records(4, 4), nil))
	require.NoError(t, log.Close())

	log = openSegments(t, dir, 1<<20)
	defer log.Close()
	got, err := log.After(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []byte("event-4"), got[3].Data)
}

func TestSegmentLogRejectsOutOfOrderRecords(t *testing.T) {
	log := openSegments(t, t.TempDir(), 1<<20)
	defer log.Close()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, records(1, 2), nil))
	assert.Error(t, log.Append(ctx, records(2, 2), nil))
}

func TestSegmentLogReopensAfterRejectedKey(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log := openSegments(t, dir, 1<<20)
	require.NoError(t, log.Append(ctx, records(1, 1), nil))
	err := log.Append(ctx, records(2, 2), []Marker{{UniqueID: strings.Repeat("k", 70000), SequenceID: 2}})
	require.ErrorIs(t, err, ErrUniqueIDTooLong)
	require.NoError(t, log.Append(ctx, records(2, 2), nil))
	require.NoError(t, log.Close())

	info, err := os.Stat(filepath.Join(dir, fmt.Sprintf(segmentFormat, 0)))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024))

	log = openSegments(t, dir, 1<<20)
	defer log.Close()
	got, err := log.After(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("event-2"), got[1].Data)
}
