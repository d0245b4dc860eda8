package mergedcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type key string

func TestCancelSecond(t *testing.T) {
	ctx2, cancel2 := context.WithCancel(context.Background())
	ctx, cancel := MergeContexts(context.Background(), ctx2)
	defer cancel()

	assert.NoError(t, ctx.Err())
	cancel2()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context was not cancelled by its second parent")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestDeadlineFirst(t *testing.T) {
	ctx1, cancel1 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel1()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Hour)
	defer cancel2()
	ctx, cancel := MergeContexts(ctx1, ctx2)
	defer cancel()

	d, ok := ctx.Deadline()
	assert.True(t, ok)
	d1, _ := ctx1.Deadline()
	assert.Equal(t, d1, d)

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestDeadlineFromSecond(t *testing.T) {
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	ctx, cancel := MergeContexts(context.Background(), ctx2)
	defer cancel()

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestValues(t *testing.T) {
	ctx1 := context.WithValue(context.Background(), key("a"), "1")
	ctx2 := context.WithValue(context.Background(), key("b"), "2")
	ctx2 = context.WithValue(ctx2, key("a"), "other")
	ctx, cancel := MergeContexts(ctx1, ctx2)
	defer cancel()

	assert.Equal(t, "1", ctx.Value(key("a")))
	assert.Equal(t, "2", ctx.Value(key("b")))
	assert.Nil(t, ctx.Value(key("c")))
}

func TestCancel(t *testing.T) {
	ctx, cancel := MergeContexts(context.Background(), context.Background())
	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestAlreadyDone(t *testing.T) {
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	ctx, cancel := MergeContexts(context.Background(), ctx2)
	defer cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
