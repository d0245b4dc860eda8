package aggregates

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/store"
	"github.com/iidesho/aggregates/store/inmemory"
)

type order struct {
	id string
}

func (o order) Bucket() string   { return "orders" }
func (o order) StreamId() string { return o.id }

type orderPlaced struct {
	OrderId string `json:"order_id"`
	Total   int    `json:"total"`
}

type itemAdded struct {
	Sku      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type orderState struct {
	Items int `json:"items"`
}

// recordingConnection wraps a connection, records metadata writes and fails on demand.
type recordingConnection struct {
	store.Connection

	lock           sync.Mutex
	metadataWrites []store.StreamMetadata
	failMetadata   error
	failAppend     error
	failRead       error
	reads          int
}

func (c *recordingConnection) SetMetadata(ctx context.Context, stream string, m store.StreamMetadata) error {
	c.lock.Lock()
	c.metadataWrites = append(c.metadataWrites, m)
	err := c.failMetadata
	c.lock.Unlock()
	if err != nil {
		return err
	}
	return c.Connection.SetMetadata(ctx, stream, m)
}

func (c *recordingConnection) Append(ctx context.Context, stream string, expected store.ExpectedVersion, events ...store.Event) (store.WriteResult, error) {
	c.lock.Lock()
	err := c.failAppend
	c.lock.Unlock()
	if err != nil {
		return store.WriteResult{}, err
	}
	return c.Connection.Append(ctx, stream, expected, events...)
}

func (c *recordingConnection) ReadForward(ctx context.Context, stream string, from store.StreamPosition, count uint64) (store.Slice, error) {
	c.lock.Lock()
	c.reads++
	err := c.failRead
	c.lock.Unlock()
	if err != nil {
		return store.Slice{LastVersion: -1}, err
	}
	return c.Connection.ReadForward(ctx, stream, from, count)
}

func (c *recordingConnection) ReadBackward(ctx context.Context, stream string, from store.StreamPosition, count uint64) (store.Slice, error) {
	c.lock.Lock()
	c.reads++
	err := c.failRead
	c.lock.Unlock()
	if err != nil {
		return store.Slice{LastVersion: -1}, err
	}
	return c.Connection.ReadBackward(ctx, stream, from, count)
}

func (c *recordingConnection) MetadataWrites() []store.StreamMetadata {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]store.StreamMetadata(nil), c.metadataWrites...)
}

func (c *recordingConnection) Reads() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.reads
}

func registry(t *testing.T) *serializer.Registry {
	r := serializer.NewRegistry()
	require.NoError(t, serializer.Register[orderPlaced](r, "OrderPlaced"))
	require.NoError(t, serializer.Register[itemAdded](r, "ItemAdded"))
	require.NoError(t, serializer.Register[orderState](r, "OrderState"))
	return r
}

func newStore(t *testing.T, opts ...Option) (*Store, *recordingConnection) {
	mem, err := inmemory.Init()
	require.NoError(t, err)
	conn := &recordingConnection{Connection: mem}
	s, err := New(context.Background(), conn, registry(t), opts...)
	require.NoError(t, err)
	return s, conn
}

func events(payloads ...any) []event.WritableEvent {
	out := make([]event.WritableEvent, len(payloads))
	for i, p := range payloads {
		out[i] = event.WritableEvent{Event: p}
	}
	return out
}
