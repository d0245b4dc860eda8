package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNames(t *testing.T) {
	name, err := StreamName("orders", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "orders/ORD-1", name)

	name, err = OOBStreamName("orders", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "orders.OOB/ORD-1", name)

	name, err = SnapshotStreamName("orders", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "orders.snapshots/ORD-1", name)
}

func TestInvalidStreamNames(t *testing.T) {
	for _, c := range []struct{ bucket, id string }{
		{"", "ORD-1"},
		{"orders", ""},
		{"or/ders", "ORD-1"},
		{"orders.OOB", "ORD-1"},
		{"orders.snapshots", "ORD-1"},
	} {
		_, err := StreamName(c.bucket, c.id)
		assert.ErrorIs(t, err, ErrInvalidStreamId, "%q/%q", c.bucket, c.id)
	}
}
