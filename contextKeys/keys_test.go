package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValues(t *testing.T) {
	assert.Empty(t, Values(context.Background()))

	ctx := context.WithValue(context.Background(), TraceID, "abc")
	assert.Equal(t, map[string]string{"trace_id": "abc"}, Values(ctx))

	ctx = context.WithValue(context.Background(), TraceID, "")
	assert.Empty(t, Values(ctx))
}
