package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderId string `json:"order_id"`
	Total   int    `json:"total"`
}

type itemAdded struct {
	Sku string `json:"sku"`
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Register[orderPlaced](r, "OrderPlaced"))
	require.NoError(t, Register[*itemAdded](r, "ItemAdded"))
	require.NoError(t, Register[orderPlaced](r, "OrderPlaced"))

	name, err := r.TypeName(orderPlaced{})
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", name)
	name, err = r.TypeName(&orderPlaced{})
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", name)
	name, err = r.TypeName(itemAdded{})
	require.NoError(t, err)
	assert.Equal(t, "ItemAdded", name)

	p, err := r.New("OrderPlaced")
	require.NoError(t, err)
	assert.IsType(t, &orderPlaced{}, p)

	assert.Equal(t, []string{"ItemAdded", "OrderPlaced"}, r.Names())
}

func TestRegistryConflicts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Register[orderPlaced](r, "OrderPlaced"))
	assert.Error(t, Register[itemAdded](r, "OrderPlaced"))
	assert.Error(t, Register[orderPlaced](r, "Other"))
	assert.Error(t, Register[itemAdded](r, ""))
}

func TestUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.TypeName(itemAdded{})
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = r.TypeName(nil)
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = r.New("Missing")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Register[orderPlaced](r, "OrderPlaced"))
	in := orderPlaced{OrderId: "ORD-1", Total: 42}

	data, err := JSON.Marshal(in)
	require.NoError(t, err)
	p, err := r.New("OrderPlaced")
	require.NoError(t, err)
	require.NoError(t, JSON.Unmarshal(data, p))
	assert.Equal(t, in, Value(p))
}

func TestRaw(t *testing.T) {
	r := NewRegistry(AllowRaw())
	p, err := r.New("Unregistered")
	require.NoError(t, err)
	require.NoError(t, JSON.Unmarshal([]byte(`{"a":1}`), p))

	raw := Value(p).(Raw)
	assert.Equal(t, "Unregistered", raw.Type)
	name, err := r.TypeName(raw)
	require.NoError(t, err)
	assert.Equal(t, "Unregistered", name)

	out, err := JSON.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
}
