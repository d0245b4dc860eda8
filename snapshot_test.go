package aggregates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iidesho/aggregates/crypto"
	"github.com/iidesho/aggregates/storage"
)

func TestSnapshot(t *testing.T) {
	s, conn := newStore(t)
	orders := For[order](s)
	ctx := context.Background()

	snap, err := orders.GetSnapshot(ctx, "orders", "ORD-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, orders.WriteSnapshot(ctx, "orders", "ORD-1", 4, orderState{Items: 2}))
	require.NoError(t, orders.WriteSnapshot(ctx, "orders", "ORD-1", 9, orderState{Items: 5}))

	snap, err = orders.GetSnapshot(ctx, "orders", "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.EqualValues(t, 9, snap.Version)
	assert.Equal(t, orderState{Items: 5}, snap.Payload)
	assert.False(t, snap.Taken.IsZero())

	writes := conn.MetadataWrites()
	require.Len(t, writes, 1)
	assert.EqualValues(t, SnapshotMaxCount, *writes[0].MaxCount)

	stream, err := orders.GetStream(ctx, "orders", "ORD-1")
	require.NoError(t, err)
	assert.True(t, stream.IsEmpty(), "snapshots do not show up in the entity stream")
}

func TestSnapshotCache(t *testing.T) {
	cache, err := storage.New[CachedSnapshot](t.TempDir())
	require.NoError(t, err)
	defer cache.Close()
	s, conn := newStore(t, WithSnapshotCache(cache))
	orders := For[order](s)
	ctx := context.Background()

	require.NoError(t, orders.WriteSnapshot(ctx, "orders", "ORD-2", 3, orderState{Items: 1}))
	cached, err := cache.Get(crypto.SimpleHash("orders.snapshots/ORD-2"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, cached.Version)
	assert.Equal(t, "OrderState", cached.Type)

	conn.failRead = assert.AnError
	snap, err := orders.GetSnapshot(ctx, "orders", "ORD-2")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, orderState{Items: 1}, snap.Payload)
}

func TestSnapshotUnknownType(t *testing.T) {
	s, _ := newStore(t)
	type unregistered struct{}
	err := For[order](s).WriteSnapshot(context.Background(), "orders", "ORD-3", 0, unregistered{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
