package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/order"
	"tradecore/domain/orderbook"
	"tradecore/infra/store"
	pkgerrors "tradecore/pkg/errors"
	"tradecore/pkg/logger"
	"tradecore/service"
)

type fakeBus struct {
	mu            sync.Mutex
	failures      int
	results       [][]byte
	notifications [][]byte
}

func (b *fakeBus) PublishResults(_ context.Context, payloads ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("connection reset")
	}
	b.results = append(b.results, payloads...)
	return nil
}

func (b *fakeBus) PublishNotifications(_ context.Context, payloads ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, payloads...)
	return nil
}

func (b *fakeBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results), len(b.notifications)
}

type fakeBooks struct {
	mu   sync.Mutex
	seqs []int64
}

func (f *fakeBooks) UpdateOrderBook(_ context.Context, seq int64, _ []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs = append(f.seqs, seq)
	return true, nil
}

func (f *fakeBooks) stored() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seqs...)
}

type bookSource struct {
	mu   sync.Mutex
	book orderbook.OrderBook
}

func (s *bookSource) LatestOrderBook() orderbook.OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book
}

func (s *bookSource) set(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book = orderbook.OrderBook{SequenceID: seq, BestPrice: decimal.NewFromInt(100)}
}

func run(t *testing.T, fn func(ctx context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("job did not stop")
		}
	}
}

func TestOutcomesAndNotifications(t *testing.T) {
	out := service.NewOutbox()
	p := New(out, logger.NewNop(), time.Millisecond)
	bus := &fakeBus{failures: 1}

	stopOutcomes := run(t, func(ctx context.Context) { p.RunOutcomes(ctx, bus) })
	stopNotes := run(t, func(ctx context.Context) { p.RunNotifications(ctx, bus) })

	o := order.New(10001, 1, 2, order.Buy, decimal.NewFromInt(100), decimal.NewFromInt(1), 1)
	snap := o.Snapshot()
	out.Outcomes.Push(
		service.Outcome{RefID: "a", Success: true, Order: &snap},
		service.Outcome{RefID: "b", ErrorCode: pkgerrors.NoEnoughAsset},
	)
	out.Notifications.Push(service.Notification{Timestamp: 1, Type: service.OrderMatched, UserID: 2, Payload: snap})

	require.Eventually(t, func() bool {
		r, n := bus.counts()
		return r == 2 && n == 1
	}, 5*time.Second, time.Millisecond)
	stopOutcomes()
	stopNotes()

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(bus.results[0], &first))
	require.NoError(t, json.Unmarshal(bus.results[1], &second))
	assert.Equal(t, "a", first["refId"])
	assert.Equal(t, "no_enough_asset", second["errorCode"])
}

func TestOrderBookPublishedOnlyWhenAdvanced(t *testing.T) {
	p := New(service.NewOutbox(), logger.NewNop(), time.Millisecond)
	src := &bookSource{}
	books := &fakeBooks{}
	src.set(3)

	stop := run(t, func(ctx context.Context) { p.RunOrderBook(ctx, src, books) })
	require.Eventually(t, func() bool { return len(books.stored()) == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []int64{3}, books.stored())

	src.set(5)
	require.Eventually(t, func() bool { return len(books.stored()) == 2 }, 5*time.Second, time.Millisecond)
	stop()
	assert.Equal(t, []int64{3, 5}, books.stored())
}

func TestArchiveWritesToStore(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	out := service.NewOutbox()
	p := New(out, logger.NewNop(), time.Millisecond)
	stop := run(t, func(ctx context.Context) { p.RunArchive(ctx, s) })

	o := order.New(20001, 2, 3, order.Sell, decimal.NewFromInt(100), decimal.NewFromInt(1), 1)
	o.Cancel(2)
	out.Archive.Push(store.Batch{Orders: []order.Order{o.Snapshot()}})

	require.Eventually(t, func() bool {
		got, err := s.Order(20001)
		return err == nil && got.Status == order.FullyCancelled
	}, 5*time.Second, time.Millisecond)
	stop()
}
