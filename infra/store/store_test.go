package store

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/order"
)

func TestSaveAndRead(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	taker := order.New(20, 2, 3, order.Buy, decimal.NewFromInt(110), decimal.NewFromInt(1), 2)
	taker.Fill(decimal.NewFromInt(1), 2)
	maker := order.New(10, 1, 2, order.Sell, decimal.NewFromInt(100), decimal.NewFromInt(1), 1)
	maker.Fill(decimal.NewFromInt(1), 2)

	batch := Batch{
		Orders: []order.Order{taker.Snapshot(), maker.Snapshot()},
		Matches: []MatchRecord{
			{SequenceID: 2, OrderID: 20, CounterOrderID: 10, UserID: 3, CounterUserID: 2, Direction: order.Buy, Type: Taker, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), CreatedAt: 2},
			{SequenceID: 2, OrderID: 10, CounterOrderID: 20, UserID: 2, CounterUserID: 3, Direction: order.Sell, Type: Maker, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), CreatedAt: 2},
		},
	}
	assert.Equal(t, 4, batch.Len())
	require.NoError(t, s.Save(context.Background(), batch))
	require.NoError(t, s.Save(context.Background(), batch), "saving twice is harmless")

	got, err := s.Order(20)
	require.NoError(t, err)
	assert.Equal(t, order.FullyFilled, got.Status)
	assert.Equal(t, order.Buy, got.Direction)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(110)))

	matches, err := s.Matches(10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Maker, matches[0].Type)
	assert.Equal(t, int64(20), matches[0].CounterOrderID)

	_, err = s.Order(999)
	assert.ErrorIs(t, err, pebble.ErrNotFound)
}
