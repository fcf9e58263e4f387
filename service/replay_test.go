package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/asset"
	"tradecore/domain/event"
	"tradecore/domain/order"
	"tradecore/pkg/logger"
	"tradecore/snapshot"
)

// fingerprint renders the state with decimals as strings so engines fed
// from decoded and in-memory events compare equal.
func fingerprint(e *Engine) []string {
	var out []string
	e.ledger.Walk(func(userID int64, id asset.ID, b asset.Balance) {
		out = append(out, formatLine("balance", userID, id, b.Available.String(), b.Frozen.String()))
	})
	for _, o := range e.orders.All() {
		out = append(out, formatLine("order", o.ID, o.Direction, o.Price.String(), o.UnfilledQuantity.String(), o.Status))
	}
	book := e.matcher.OrderBook(100)
	for _, l := range append(book.Bids, book.Asks...) {
		out = append(out, formatLine("level", l.Price.String(), l.Quantity.String()))
	}
	out = append(out, formatLine("applied", e.lastAppliedID, e.matcher.MarketPrice().String()))
	sort.Strings(out)
	return out
}

func formatLine(parts ...any) string {
	return fmt.Sprintf("%v", parts)
}

func trade(h *harness) {
	h.fund()
	h.submit(
		place(alice, order.Sell, "100", "0.4"),
		place(alice, order.Sell, "101", "0.3"),
		place(bob, order.Buy, "99", "1"),
	)
	h.submit(place(bob, order.Buy, "101", "0.5"))
	h.submit(cancel(bob, h.engine.View().ActiveOrders(bob)[0].ID))
}

func TestRecoverFromLogIsDeterministic(t *testing.T) {
	h := newHarness(t)
	trade(h)

	first := NewEngine(testConfig(), h.log, event.BinaryCodec{}, logger.NewNop())
	require.NoError(t, first.Recover(context.Background(), ""))
	second := NewEngine(testConfig(), h.log, event.BinaryCodec{}, logger.NewNop())
	require.NoError(t, second.Recover(context.Background(), ""))

	assert.Equal(t, fingerprint(h.engine), fingerprint(first))
	assert.Equal(t, fingerprint(first), fingerprint(second))
	assert.Equal(t, h.engine.LatestOrderBook().SequenceID, first.LatestOrderBook().SequenceID)

	assert.Zero(t, first.Outbox().Outcomes.Len())
	assert.Zero(t, first.Outbox().Notifications.Len())
	assert.Zero(t, first.Outbox().Ticks.Len())
	assert.NotZero(t, first.Outbox().Archive.Len())
}

func TestRecoverFromCheckpointAndLogTail(t *testing.T) {
	h := newHarness(t)
	h.fund()
	h.submit(place(alice, order.Sell, "100", "0.5"), place(bob, order.Buy, "95", "2"))

	dir := t.TempDir()
	require.NoError(t, (&snapshot.Writer{Dir: dir}).Write(h.engine.Checkpoint()))

	h.submit(place(bob, order.Buy, "100", "0.2"))
	h.submit(cancel(bob, h.engine.View().ActiveOrders(bob)[0].ID))

	restored := NewEngine(testConfig(), h.log, event.BinaryCodec{}, logger.NewNop())
	require.NoError(t, restored.Recover(context.Background(), dir))
	assert.Equal(t, fingerprint(h.engine), fingerprint(restored))

	// live events continue the chain
	out := h.sequence(deposit(alice, "USD", "1"))
	require.NoError(t, restored.ProcessBatch(context.Background(), out))
	assert.Equal(t, out[0].Head().SequenceID, restored.LastAppliedID())
}

func TestRestoreRejectsUsedEngine(t *testing.T) {
	h := newHarness(t)
	h.fund()
	assert.Error(t, h.engine.Restore(snapshot.State{}))
}

func TestCheckpointQueuedOnInterval(t *testing.T) {
	h := newHarness(t)
	now := time.Unix(1700000000, 0)
	h.engine.cfg.CheckpointInterval = time.Minute
	h.engine.now = func() time.Time { return now }
	h.engine.lastCheckpoint = now

	h.submit(deposit(alice, "USD", "1"))
	assert.Zero(t, h.engine.Outbox().Checkpoints.Len())

	now = now.Add(time.Minute)
	h.submit(deposit(alice, "USD", "1"))
	states := h.engine.Outbox().Checkpoints.Drain(0)
	require.Len(t, states, 1)
	assert.Equal(t, int64(2), states[0].LastAppliedID)
	require.Len(t, states[0].Balances, 2)
}

func TestRunCheckpointsWritesLatest(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.CheckpointInterval = time.Minute
	h.fund()
	dir := t.TempDir()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.RunCheckpoints(ctx, dir, time.Millisecond)
	}()
	h.engine.Outbox().Checkpoints.Push(h.engine.Checkpoint())

	require.Eventually(t, func() bool {
		s, ok, err := snapshot.Load(dir)
		return err == nil && ok && s.LastAppliedID == 3
	}, 5*time.Second, 5*time.Millisecond)
	stop()
	<-done
}

func TestRunCheckpointsDisabled(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.RunCheckpoints(context.Background(), dir, 0)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checkpoint job kept running with checkpoints disabled")
	}

	h.fund()
	assert.Zero(t, h.engine.Outbox().Checkpoints.Len())
	_, ok, err := snapshot.Load(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}
