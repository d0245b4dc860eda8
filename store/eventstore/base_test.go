package eventstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/EventStore/EventStore-Client-Go/esdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iidesho/aggregates/store"
	"github.com/iidesho/aggregates/store/storetest"
)

// These tests need a running EventStoreDB, e.g. esdb.connection=esdb://localhost:2113?tls=false
func client(t *testing.T) *Client {
	connection := os.Getenv("esdb.connection")
	if connection == "" {
		t.Skip("esdb.connection is not set")
	}
	c, err := NewClient(connection)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnection(t *testing.T) {
	c := client(t)
	storetest.Run(t, func(t *testing.T) store.Connection {
		return c
	})
}

func TestEnd(t *testing.T) {
	c := client(t)
	ctx := context.Background()
	name := storetest.StreamName()

	end, err := c.End(ctx, name)
	require.NoError(t, err)
	assert.EqualValues(t, -1, end)

	_, err = c.Append(ctx, name, store.ExpectedNoStream, storetest.Events(3)...)
	require.NoError(t, err)
	end, err = c.End(ctx, name)
	require.NoError(t, err)
	assert.EqualValues(t, 2, end)
}

func TestPosition(t *testing.T) {
	assert.Equal(t, esdb.Start{}, position(store.STREAM_START, true))
	assert.Equal(t, esdb.End{}, position(store.STREAM_END, false))
	assert.Equal(t, esdb.End{}, position(store.STREAM_END, true))
	assert.Equal(t, esdb.Revision(0), position(store.STREAM_START, false))
	assert.Equal(t, esdb.Revision(7), position(7, true))
}

func TestExpectedRevision(t *testing.T) {
	assert.Equal(t, esdb.Any{}, expectedRevision(store.ExpectedAny))
	assert.Equal(t, esdb.NoStream{}, expectedRevision(store.ExpectedNoStream))
	assert.Equal(t, esdb.Revision(3), expectedRevision(3))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(esdb.ErrWrongExpectedStreamRevision))
	assert.True(t, isConflict(fmt.Errorf("append to order-1: %w", esdb.ErrWrongExpectedStreamRevision)))
	assert.False(t, isConflict(esdb.ErrStreamNotFound))
	assert.False(t, isConflict(errors.New("wrong expected version")))
}

func TestLastVersionWithoutServer(t *testing.T) {
	c := &Client{}
	ctx := context.Background()

	v, err := c.lastVersion(ctx, "order-1", false, -1)
	require.NoError(t, err)
	assert.EqualValues(t, -1, v)

	v, err = c.lastVersion(ctx, "order-1", false, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	v, err = c.lastVersion(ctx, "order-1", true, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 9, v)
}

func TestConflict(t *testing.T) {
	c := client(t)
	ctx := context.Background()
	name := storetest.StreamName()

	_, err := c.Append(ctx, name, store.ExpectedNoStream, storetest.Events(2)...)
	require.NoError(t, err)

	_, err = c.Append(ctx, name, 0, storetest.Events(1)...)
	var conflict *store.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, name, conflict.Stream)
	assert.EqualValues(t, 0, conflict.Expected)
	assert.EqualValues(t, 1, conflict.Actual)

	// Reading from just past the end of an existing stream is an empty final page.
	slice, err := c.ReadForward(ctx, name, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, slice.Events)
	assert.True(t, slice.IsEnd)
	assert.EqualValues(t, 1, slice.LastVersion)
}
