package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iidesho/aggregates/metrics"
	"github.com/iidesho/aggregates/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var (
	writeCount     *prometheus.CounterVec
	writeTimeTotal *prometheus.CounterVec
	readCount      *prometheus.CounterVec
	readTimeTotal  *prometheus.CounterVec
)

// stream holds the retained events of one stream, oldest first.
type stream struct {
	events   []store.ReadEvent
	next     uint64
	metadata store.StreamMetadata
}

func (s *stream) lastVersion() int64 {
	return int64(s.next) - 1
}

// visible is the retained events that are not older than MaxAge.
func (s *stream) visible(now time.Time) []store.ReadEvent {
	if s.metadata.MaxAge == nil {
		return s.events
	}
	cutoff := now.Add(-*s.metadata.MaxAge)
	for i, e := range s.events {
		if !e.Created.Before(cutoff) {
			return s.events[i:]
		}
	}
	return nil
}

func (s *stream) scavenge() {
	if s.metadata.MaxCount == nil {
		return
	}
	if limit := *s.metadata.MaxCount; uint64(len(s.events)) > limit {
		s.events = append([]store.ReadEvent(nil), s.events[uint64(len(s.events))-limit:]...)
	}
}

type Connection struct {
	lock    sync.RWMutex
	streams map[string]*stream
	now     func() time.Time
}

func Init() (c *Connection, err error) {
	c = &Connection{
		streams: make(map[string]*stream),
		now:     time.Now,
	}
	writeCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_write_count",
		Help: "in-memory event write count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	writeTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_write_time_total",
		Help: "in-memory event write time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_read_count",
		Help: "in-memory event read count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_read_time_total",
		Help: "in-memory event read time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	return
}

func observeRead(name string, start time.Time) {
	readCount.WithLabelValues(name).Inc()
	readTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
}

func (c *Connection) ReadForward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	defer observeRead(name, time.Now())
	c.lock.RLock()
	defer c.lock.RUnlock()
	s, ok := c.streams[name]
	if !ok || s.next == 0 {
		return store.Slice{LastVersion: -1}, store.ErrStreamNotFound
	}
	slice = store.Slice{
		Next:        from,
		IsEnd:       true,
		LastVersion: s.lastVersion(),
	}
	for _, e := range s.visible(c.now()) {
		if e.Version < uint64(from) {
			continue
		}
		if uint64(len(slice.Events)) >= count {
			slice.IsEnd = false
			break
		}
		slice.Events = append(slice.Events, e)
		slice.Next = store.StreamPosition(e.Version + 1)
	}
	log.Trace("read forward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

func (c *Connection) ReadBackward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	defer observeRead(name, time.Now())
	c.lock.RLock()
	defer c.lock.RUnlock()
	s, ok := c.streams[name]
	if !ok || s.next == 0 {
		return store.Slice{LastVersion: -1}, store.ErrStreamNotFound
	}
	slice = store.Slice{
		Next:        from,
		IsEnd:       true,
		LastVersion: s.lastVersion(),
	}
	events := s.visible(c.now())
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Version > uint64(from) {
			continue
		}
		if uint64(len(slice.Events)) >= count {
			slice.IsEnd = false
			break
		}
		slice.Events = append(slice.Events, e)
		if e.Version == 0 {
			break
		}
		slice.Next = store.StreamPosition(e.Version - 1)
	}
	log.Trace("read backward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

func (c *Connection) Append(ctx context.Context, name string, expected store.ExpectedVersion, events ...store.Event) (store.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return store.WriteResult{}, err
	}
	start := time.Now()
	defer func() {
		writeCount.WithLabelValues(name).Add(float64(len(events)))
		writeTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
	}()
	c.lock.Lock()
	defer c.lock.Unlock()
	s := c.stream(name)
	if !expected.Matches(s.lastVersion()) {
		return store.WriteResult{}, &store.ConcurrencyError{
			Stream:   name,
			Expected: expected,
			Actual:   s.lastVersion(),
		}
	}
	created := c.now()
	for _, e := range events {
		s.events = append(s.events, store.ReadEvent{
			Event:   e,
			Version: s.next,
			Created: created,
		})
		s.next++
	}
	s.scavenge()
	log.Debug("appended events", "stream", name, "events", len(events), "version", s.lastVersion())
	return store.WriteResult{NextExpectedVersion: s.lastVersion()}, nil
}

func (c *Connection) SetMetadata(ctx context.Context, name string, metadata store.StreamMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	s := c.stream(name)
	s.metadata = metadata
	s.scavenge()
	return nil
}

func (c *Connection) GetMetadata(ctx context.Context, name string) (store.StreamMetadata, error) {
	if err := ctx.Err(); err != nil {
		return store.StreamMetadata{}, err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	s, ok := c.streams[name]
	if !ok {
		return store.StreamMetadata{}, nil
	}
	return s.metadata, nil
}

func (c *Connection) Close() error {
	return nil
}

// stream must be called with the write lock held.
func (c *Connection) stream(name string) *stream {
	s, ok := c.streams[name]
	if !ok {
		s = &stream{}
		c.streams[name] = s
	}
	return s
}
