package aggregates

import (
	"context"
	"reflect"
	"time"

	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/store"
)

// EventSource is implemented by entities whose events are kept in a stream.
type EventSource interface {
	Bucket() string
	StreamId() string
}

// Events is the stream store for entities of type T. T only names the entity in traces and metrics.
type Events[T EventSource] struct {
	s      *Store
	entity string
}

func entityName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func For[T EventSource](s *Store) Events[T] {
	return Events[T]{
		s:      s,
		entity: entityName[T](),
	}
}

type readOptions struct {
	from  *uint64
	count int
}

type ReadOption func(*readOptions)

// From starts the read at version v, inclusive.
func From(v uint64) ReadOption {
	return func(o *readOptions) {
		o.from = &v
	}
}

// Count bounds the number of events read.
func Count(n int) ReadOption {
	return func(o *readOptions) {
		o.count = n
	}
}

func readOpts(opts []ReadOption) readOptions {
	o := readOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (e Events[T]) GetStream(ctx context.Context, bucket, streamId string, opts ...ReadOption) (stream event.Stream, err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "get_stream", e.entity, name)
	defer func() { done(err) }()
	o := readOpts(opts)
	from := store.STREAM_START
	if o.from != nil {
		from = store.StreamPosition(*o.from)
	}
	events, lastVersion, err := e.s.readForward(ctx, name, from, 0)
	if err != nil {
		return
	}
	return event.Stream{
		Bucket:      bucket,
		StreamId:    streamId,
		LastVersion: lastVersion,
		Events:      events,
	}, nil
}

func (e Events[T]) GetEvents(ctx context.Context, bucket, streamId string, opts ...ReadOption) (events []event.WritableEvent, err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "get_events", e.entity, name)
	defer func() { done(err) }()
	o := readOpts(opts)
	from := store.STREAM_START
	if o.from != nil {
		from = store.StreamPosition(*o.from)
	}
	events, _, err = e.s.readForward(ctx, name, from, o.count)
	return
}

// GetEventsBackwards returns the events newest first, From is then the newest version to include.
func (e Events[T]) GetEventsBackwards(ctx context.Context, bucket, streamId string, opts ...ReadOption) (events []event.WritableEvent, err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "get_events_backwards", e.entity, name)
	defer func() { done(err) }()
	o := readOpts(opts)
	from := store.STREAM_END
	if o.from != nil {
		from = store.StreamPosition(*o.from)
	}
	events, _, err = e.s.readBackward(ctx, name, from, o.count)
	return
}

// Pages hands the events of the stream to fn one backing store page at a time, oldest first,
// without holding the whole stream in memory. It returns the last version of the stream.
func (e Events[T]) Pages(ctx context.Context, bucket, streamId string, fn func(page []event.WritableEvent) error, opts ...ReadOption) (lastVersion int64, err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return -1, err
	}
	ctx, done := e.s.instrument(ctx, "pages", e.entity, name)
	defer func() { done(err) }()
	o := readOpts(opts)
	from := store.STREAM_START
	if o.from != nil {
		from = store.StreamPosition(*o.from)
	}
	return e.s.pageForward(ctx, name, from, o.count, fn)
}

// Load returns the stream of entity.
func (e Events[T]) Load(ctx context.Context, entity T, opts ...ReadOption) (event.Stream, error) {
	return e.GetStream(ctx, entity.Bucket(), entity.StreamId(), opts...)
}

// WriteEvents appends events when the stream is at expectedVersion, -1 meaning an empty stream.
// The descriptors get the versions expectedVersion+1 onwards.
func (e Events[T]) WriteEvents(ctx context.Context, bucket, streamId string, expectedVersion int64, events []event.WritableEvent, commitHeaders map[string]string) (err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "write_events", e.entity, name)
	defer func() { done(err) }()
	_, err = e.s.write(ctx, name, store.ExpectedVersion(expectedVersion), events, commitHeaders)
	return
}

// AppendEvents appends events without checking the stream version.
func (e Events[T]) AppendEvents(ctx context.Context, bucket, streamId string, events []event.WritableEvent, commitHeaders map[string]string) (err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "append_events", e.entity, name)
	defer func() { done(err) }()
	_, err = e.s.append(ctx, name, events, commitHeaders)
	return
}

type RetentionOption func(*store.StreamMetadata)

func MaxCount(n uint64) RetentionOption {
	return func(m *store.StreamMetadata) {
		m.MaxCount = &n
	}
}

func MaxAge(d time.Duration) RetentionOption {
	return func(m *store.StreamMetadata) {
		m.MaxAge = &d
	}
}

func CacheControl(d time.Duration) RetentionOption {
	return func(m *store.StreamMetadata) {
		m.CacheControl = &d
	}
}

// WriteEventMetadata declares the retention policy of the stream. The backing store enforces it.
func (e Events[T]) WriteEventMetadata(ctx context.Context, bucket, streamId string, opts ...RetentionOption) (err error) {
	name, err := StreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "write_event_metadata", e.entity, name)
	defer func() { done(err) }()
	var m store.StreamMetadata
	for _, opt := range opts {
		opt(&m)
	}
	err = e.s.writeMetadata(ctx, name, m)
	return
}
