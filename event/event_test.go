package event

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithHeadersCommitWins(t *testing.T) {
	d := Descriptor{Headers: map[string]string{"user": "a", "source": "api"}}
	merged := d.WithHeaders(map[string]string{"user": "b", "commit": "c1"})

	assert.Equal(t, map[string]string{"user": "b", "source": "api", "commit": "c1"}, merged.Headers)
	assert.Equal(t, "a", d.Headers["user"], "original headers must not change")
}

func TestWithHeadersEmpty(t *testing.T) {
	d := Descriptor{Version: 3}
	assert.Nil(t, d.WithHeaders(nil).Headers)
	assert.Equal(t, map[string]string{"k": "v"}, d.WithHeaders(map[string]string{"k": "v"}).Headers)
}

type itemAdded struct {
	Sku string
}

func TestBuilder(t *testing.T) {
	now := time.Now()
	ev, err := NewBuilder().
		WithEvent(itemAdded{Sku: "A"}).
		WithVersion(2).
		WithHeader("user", "u1").
		WithTimestamp(now).
		Build()
	require.NoError(t, err)
	assert.False(t, ev.Id.IsNil())
	assert.Equal(t, itemAdded{Sku: "A"}, ev.Event)
	assert.EqualValues(t, 2, ev.Descriptor.Version)
	assert.Equal(t, "u1", ev.Descriptor.Headers["user"])
	assert.Equal(t, now, ev.Descriptor.Timestamp)

	id := uuid.Must(uuid.NewV7())
	ev, err = NewBuilder().WithId(id).WithEvent(itemAdded{}).Build()
	require.NoError(t, err)
	assert.Equal(t, id, ev.Id)
}

func TestBuilderMissingEvent(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.ErrorIs(t, err, MissingEventError)
}
