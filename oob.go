package aggregates

import (
	"context"

	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/store"
)

// DefaultOOBMaxCount is the retention declared on out-of-band streams.
const DefaultOOBMaxCount = 200000

// OOB publishes and retrieves out-of-band events of entities of type T.
// Out-of-band events live next to the entity stream and never take part in version checks.
type OOB[T EventSource] struct {
	s        *Store
	entity   string
	maxCount uint64
}

type OOBOption func(*oobOptions)

type oobOptions struct {
	maxCount uint64
}

func WithOOBMaxCount(n uint64) OOBOption {
	return func(o *oobOptions) {
		if n > 0 {
			o.maxCount = n
		}
	}
}

func NewOOB[T EventSource](s *Store, opts ...OOBOption) OOB[T] {
	o := oobOptions{
		maxCount: DefaultOOBMaxCount,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return OOB[T]{
		s:        s,
		entity:   entityName[T](),
		maxCount: o.maxCount,
	}
}

// Publish appends events to the out-of-band stream. When one of them landed at version 0 the retention
// metadata of the stream is written as well. Should that fail after the append went through a
// *PartialPublishError is returned.
func (o OOB[T]) Publish(ctx context.Context, bucket, streamId string, events []event.WritableEvent, commitHeaders map[string]string) (err error) {
	name, err := OOBStreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := o.s.instrument(ctx, "oob_publish", o.entity, name)
	defer func() { done(err) }()

	last, err := o.s.append(ctx, name, events, commitHeaders)
	if err != nil {
		return
	}
	if !startsStream(last, len(events)) {
		return nil
	}
	err = o.s.writeMetadata(ctx, name, store.StreamMetadata{MaxCount: uint64Ptr(o.maxCount)})
	if err != nil {
		log.WithError(err).Warning("out-of-band events written without retention", "stream", name, "max_count", o.maxCount)
		return &PartialPublishError{
			Stream: name,
			Err:    err,
		}
	}
	o.s.retentionWrites.WithLabelValues(o.entity).Inc()
	return nil
}

func (o OOB[T]) PublishFor(ctx context.Context, entity T, events []event.WritableEvent, commitHeaders map[string]string) error {
	return o.Publish(ctx, entity.Bucket(), entity.StreamId(), events, commitHeaders)
}

// startsStream reports whether a batch of n events whose last one got version last began the stream.
func startsStream(last int64, n int) bool {
	return last-int64(n)+1 == 0
}

type retrieveOptions struct {
	skip       int
	take       int
	descending bool
}

type RetrieveOption func(*retrieveOptions)

func Skip(n int) RetrieveOption {
	return func(o *retrieveOptions) {
		o.skip = n
	}
}

func Take(n int) RetrieveOption {
	return func(o *retrieveOptions) {
		o.take = n
	}
}

// Descending returns the newest events first.
func Descending() RetrieveOption {
	return func(o *retrieveOptions) {
		o.descending = true
	}
}

// Retrieve returns the out-of-band events of the stream, oldest first unless Descending is given.
// Skip and Take count in the chosen order.
func (o OOB[T]) Retrieve(ctx context.Context, bucket, streamId string, opts ...RetrieveOption) (events []event.WritableEvent, err error) {
	name, err := OOBStreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := o.s.instrument(ctx, "oob_retrieve", o.entity, name)
	defer func() { done(err) }()

	ro := retrieveOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.skip < 0 {
		ro.skip = 0
	}
	limit := 0
	if ro.take > 0 {
		limit = ro.skip + ro.take
	}
	if ro.descending {
		events, _, err = o.s.readBackward(ctx, name, store.STREAM_END, limit)
	} else {
		events, _, err = o.s.readForward(ctx, name, store.STREAM_START, limit)
	}
	if err != nil {
		return nil, err
	}
	if ro.skip >= len(events) {
		return nil, nil
	}
	events = events[ro.skip:]
	if ro.take > 0 && len(events) > ro.take {
		events = events[:ro.take]
	}
	return events, nil
}
