package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type value struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
}

func TestSetGetDelete(t *testing.T) {
	s, err := New[value](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("orders/ORD-1", value{Version: 3, Name: "a"}))
	v, err := s.Get("orders/ORD-1")
	require.NoError(t, err)
	assert.Equal(t, value{Version: 3, Name: "a"}, v)

	require.NoError(t, s.Set("orders/ORD-1", value{Version: 4, Name: "b"}))
	v, err = s.Get("orders/ORD-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, v.Version)

	require.NoError(t, s.Delete("orders/ORD-1"))
	_, err = s.Get("orders/ORD-1")
	assert.Error(t, err)
}

func TestRange(t *testing.T) {
	s, err := New[value](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("a", value{Version: 1}))
	require.NoError(t, s.Set("b", value{Version: 2}))

	got := map[string]int64{}
	for k, v := range s.Range() {
		got[k] = v.Version
	}
	assert.Equal(t, map[string]int64{"a": 1, "b": 2}, got)
}
