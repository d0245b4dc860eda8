package mergedcontext

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// MergeContexts returns a context that is done as soon as either ctx1 or ctx2 is done.
// Values are looked up in ctx1 first. cancel must be called to release the link to ctx2.
func MergeContexts(ctx1, ctx2 context.Context) (ctxOut context.Context, cancel context.CancelFunc) {
	ctx, cancelCause := context.WithCancelCause(ctx1)
	cancel2 := func() {
		cancelCause(errors.WithMessage(context.Cause(ctx2), "merged context"))
	}
	if ctx2.Err() != nil {
		cancel2()
	}
	stop := context.AfterFunc(ctx2, cancel2)
	ctxOut = &mergedContexts{
		Context: ctx,
		ctx1:    ctx1,
		ctx2:    ctx2,
	}
	cancel = func() {
		stop()
		cancelCause(context.Canceled)
	}
	return
}

type mergedContexts struct {
	context.Context
	ctx1 context.Context
	ctx2 context.Context
}

func (c *mergedContexts) Deadline() (deadline time.Time, ok bool) {
	d1, ok1 := c.ctx1.Deadline()
	d2, ok2 := c.ctx2.Deadline()
	if !ok2 {
		return d1, ok1
	}
	if !ok1 {
		return d2, ok2
	}
	if d1.Before(d2) {
		return d1, ok1
	}
	return d2, ok2
}

// Err reports the error of whichever parent ended the merged context.
func (c *mergedContexts) Err() error {
	err := c.Context.Err()
	if err == nil {
		return nil
	}
	if err1 := c.ctx1.Err(); err1 != nil {
		return err1
	}
	if err2 := c.ctx2.Err(); err2 != nil {
		return err2
	}
	return err
}

func (c *mergedContexts) Value(key any) (val any) {
	val = c.ctx1.Value(key)
	if val != nil {
		return
	}
	return c.ctx2.Value(key)
}
