// Package storetest holds the behaviour every store.Connection has to show.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iidesho/aggregates/store"
)

// Run runs the conformance suite against connections created by newConn.
// Every subtest gets its own stream name, so newConn may hand out the same connection.
func Run(t *testing.T, newConn func(t *testing.T) store.Connection) {
	t.Run("missing stream", func(t *testing.T) { testMissingStream(t, newConn(t)) })
	t.Run("append and read forward", func(t *testing.T) { testAppendAndReadForward(t, newConn(t)) })
	t.Run("read forward pages", func(t *testing.T) { testReadForwardPages(t, newConn(t)) })
	t.Run("read forward from end", func(t *testing.T) { testReadForwardFromEnd(t, newConn(t)) })
	t.Run("read backward", func(t *testing.T) { testReadBackward(t, newConn(t)) })
	t.Run("expected version", func(t *testing.T) { testExpectedVersion(t, newConn(t)) })
	t.Run("concurrent guarded writes", func(t *testing.T) { testConcurrentGuardedWrites(t, newConn(t)) })
	t.Run("metadata", func(t *testing.T) { testMetadata(t, newConn(t)) })
	t.Run("max count", func(t *testing.T) { testMaxCount(t, newConn(t)) })
	t.Run("cancelled context", func(t *testing.T) { testCancelledContext(t, newConn(t)) })
}

func StreamName() string {
	return fmt.Sprintf("storetest/%s", uuid.Must(uuid.NewV7()))
}

func Events(n int) []store.Event {
	events := make([]store.Event, n)
	for i := range events {
		events[i] = store.Event{
			Id:       uuid.Must(uuid.NewV7()),
			Type:     "test",
			Data:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Metadata: []byte(`{}`),
		}
	}
	return events
}

func testMissingStream(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	_, err := c.ReadForward(ctx, name, store.STREAM_START, 10)
	assert.ErrorIs(t, err, store.ErrStreamNotFound)
	_, err = c.ReadBackward(ctx, name, store.STREAM_END, 10)
	assert.ErrorIs(t, err, store.ErrStreamNotFound)
}

func testAppendAndReadForward(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	events := Events(3)

	res, err := c.Append(ctx, name, store.ExpectedNoStream, events...)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.NextExpectedVersion)

	slice, err := c.ReadForward(ctx, name, store.STREAM_START, 10)
	require.NoError(t, err)
	require.Len(t, slice.Events, 3)
	assert.True(t, slice.IsEnd)
	assert.EqualValues(t, 2, slice.LastVersion)
	for i, e := range slice.Events {
		assert.EqualValues(t, i, e.Version)
		assert.Equal(t, events[i].Id, e.Id)
		assert.Equal(t, events[i].Type, e.Type)
		assert.JSONEq(t, string(events[i].Data), string(e.Data))
		assert.False(t, e.Created.IsZero())
	}
}

func testReadForwardPages(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	_, err := c.Append(ctx, name, store.ExpectedAny, Events(5)...)
	require.NoError(t, err)

	first, err := c.ReadForward(ctx, name, store.STREAM_START, 2)
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	assert.False(t, first.IsEnd)
	assert.EqualValues(t, 2, first.Next)

	rest, err := c.ReadForward(ctx, name, first.Next, 10)
	require.NoError(t, err)
	require.Len(t, rest.Events, 3)
	assert.True(t, rest.IsEnd)
	assert.EqualValues(t, 2, rest.Events[0].Version)
	assert.EqualValues(t, 4, rest.LastVersion)
}

func testReadForwardFromEnd(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	_, err := c.Append(ctx, name, store.ExpectedNoStream, Events(3)...)
	require.NoError(t, err)

	slice, err := c.ReadForward(ctx, name, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, slice.Events)
	assert.True(t, slice.IsEnd)
	assert.EqualValues(t, 3, slice.Next)
	assert.EqualValues(t, 2, slice.LastVersion)
}

func testReadBackward(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	_, err := c.Append(ctx, name, store.ExpectedAny, Events(4)...)
	require.NoError(t, err)

	slice, err := c.ReadBackward(ctx, name, store.STREAM_END, 3)
	require.NoError(t, err)
	require.Len(t, slice.Events, 3)
	assert.EqualValues(t, 3, slice.Events[0].Version)
	assert.EqualValues(t, 1, slice.Events[2].Version)
	assert.False(t, slice.IsEnd)
	assert.EqualValues(t, 0, slice.Next)

	rest, err := c.ReadBackward(ctx, name, slice.Next, 3)
	require.NoError(t, err)
	require.Len(t, rest.Events, 1)
	assert.EqualValues(t, 0, rest.Events[0].Version)
	assert.True(t, rest.IsEnd)
}

func testExpectedVersion(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()

	_, err := c.Append(ctx, name, 0, Events(1)...)
	require.ErrorIs(t, err, store.ErrConcurrencyConflict)

	_, err = c.Append(ctx, name, store.ExpectedNoStream, Events(2)...)
	require.NoError(t, err)

	_, err = c.Append(ctx, name, store.ExpectedNoStream, Events(1)...)
	require.ErrorIs(t, err, store.ErrConcurrencyConflict)
	var ce *store.ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, name, ce.Stream)

	_, err = c.Append(ctx, name, 0, Events(1)...)
	require.ErrorIs(t, err, store.ErrConcurrencyConflict)

	res, err := c.Append(ctx, name, 1, Events(1)...)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.NextExpectedVersion)
}

func testConcurrentGuardedWrites(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	_, err := c.Append(ctx, name, store.ExpectedNoStream, Events(1)...)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Append(ctx, name, 0, Events(1)...)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
	}
	assert.Equal(t, 1, succeeded)

	slice, err := c.ReadForward(ctx, name, store.STREAM_START, 10)
	require.NoError(t, err)
	assert.Len(t, slice.Events, 2)
}

func testMetadata(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	maxCount := uint64(200000)
	meta := store.StreamMetadata{MaxCount: &maxCount}

	require.NoError(t, c.SetMetadata(ctx, name, meta))
	require.NoError(t, c.SetMetadata(ctx, name, meta))

	got, err := c.GetMetadata(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, got.MaxCount)
	assert.Equal(t, maxCount, *got.MaxCount)
}

func testMaxCount(t *testing.T, c store.Connection) {
	ctx := context.Background()
	name := StreamName()
	maxCount := uint64(2)
	require.NoError(t, c.SetMetadata(ctx, name, store.StreamMetadata{MaxCount: &maxCount}))

	_, err := c.Append(ctx, name, store.ExpectedAny, Events(5)...)
	require.NoError(t, err)

	slice, err := c.ReadForward(ctx, name, store.STREAM_START, 10)
	require.NoError(t, err)
	require.Len(t, slice.Events, 2)
	assert.EqualValues(t, 3, slice.Events[0].Version)
	assert.EqualValues(t, 4, slice.Events[1].Version)
	assert.EqualValues(t, 4, slice.LastVersion)
}

func testCancelledContext(t *testing.T, c store.Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Append(ctx, StreamName(), store.ExpectedAny, Events(1)...)
	assert.ErrorIs(t, err, context.Canceled)
}
