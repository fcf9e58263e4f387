package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainKeepsOrder(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	q.Push(4)

	assert.Equal(t, []int{1, 2}, q.Drain(2))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []int{3, 4}, q.Drain(0))
	assert.Nil(t, q.Drain(0))
}

func TestPushFront(t *testing.T) {
	q := New[string]()
	q.Push("c")
	q.PushFront("a", "b")
	assert.Equal(t, []string{"a", "b", "c"}, q.Drain(0))
}

func TestPushSignalsReady(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	select {
	case <-q.Ready():
		t.Fatal("signals coalesce")
	default:
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, q.Len())
}

func TestConsumeRetriesFailedChunk(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		got      []int
		attempts int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, q, 2, time.Millisecond, func(_ context.Context, items []int) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("broker unavailable")
			}
			got = append(got, items...)
			if len(got) == 5 {
				cancel()
			}
			return nil
		})
	}()

	q.Push(1, 2, 3, 4, 5)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestConsumeWithoutPollInterval(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, q, 0, 0, func(_ context.Context, items []int) error {
			got <- items
			return nil
		})
	}()

	q.Push(7, 8)
	select {
	case items := <-got:
		assert.Equal(t, []int{7, 8}, items)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not run")
	}
	cancel()
	<-done
}
