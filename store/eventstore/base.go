package eventstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/EventStore/EventStore-Client-Go/esdb"
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

type Client struct {
	c *esdb.Client
}

// NewClient connects to the EventStoreDB described by connection, e.g. esdb://localhost:2113?tls=false
func NewClient(connection string) (c *Client, err error) {
	settings, err := esdb.ParseConnectionString(connection)
	if err != nil {
		return
	}
	esClient, err := esdb.NewClient(settings)
	if err != nil {
		return
	}
	c = &Client{
		c: esClient,
	}
	writeCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventstore_event_write_count",
		Help: "eventstore event write count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	writeTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventstore_event_write_time_total",
		Help: "eventstore event write time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventstore_event_read_count",
		Help: "eventstore event read count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventstore_event_read_time_total",
		Help: "eventstore event read time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	return
}

func (c *Client) Close() error {
	return c.c.Close()
}

func observeRead(name string, start time.Time) {
	readCount.WithLabelValues(name).Inc()
	readTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
}

func position(from store.StreamPosition, forward bool) esdb.StreamPosition {
	switch {
	case from == store.STREAM_START && forward:
		return esdb.Start{}
	case from == store.STREAM_END:
		return esdb.End{}
	}
	return esdb.Revision(uint64(from))
}

// read returns at most count events of name in the given direction.
func (c *Client) read(ctx context.Context, op, name string, direction esdb.Direction, from store.StreamPosition, count uint64) (events []store.ReadEvent, err error) {
	defer observeRead(name, time.Now())
	rs, err := c.c.ReadStream(ctx, name, esdb.ReadStreamOptions{
		Direction: direction,
		From:      position(from, direction == esdb.Forwards),
	}, count)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, op, name, err)
	}
	defer rs.Close()
	for {
		e, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, classify(ctx, op, name, err)
		}
		re := e.OriginalEvent()
		events = append(events, store.ReadEvent{
			Event: store.Event{
				Id:       re.EventID,
				Type:     re.EventType,
				Data:     re.Data,
				Metadata: re.UserMetadata,
			},
			Version: re.EventNumber,
			Created: re.CreatedDate,
		})
	}
}

func (c *Client) ReadForward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	events, err := c.read(ctx, "read forward", name, esdb.Forwards, from, count)
	if err != nil {
		slice.LastVersion = -1
		return
	}
	slice = store.Slice{
		Events: events,
		Next:   from,
		IsEnd:  uint64(len(events)) < count,
	}
	if len(events) > 0 {
		slice.Next = store.StreamPosition(events[len(events)-1].Version + 1)
	}
	known := int64(-1)
	if slice.IsEnd && len(events) > 0 {
		known = int64(events[len(events)-1].Version)
	}
	slice.LastVersion, err = c.lastVersion(ctx, name, slice.IsEnd, known)
	log.Trace("read forward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

func (c *Client) ReadBackward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	events, err := c.read(ctx, "read backward", name, esdb.Backwards, from, count)
	if err != nil {
		slice.LastVersion = -1
		return
	}
	slice = store.Slice{
		Events: events,
		Next:   from,
		IsEnd:  uint64(len(events)) < count,
	}
	if len(events) > 0 {
		last := events[len(events)-1].Version
		if last == 0 {
			slice.IsEnd = true
		} else {
			slice.Next = store.StreamPosition(last - 1)
		}
	}
	known := int64(-1)
	if from == store.STREAM_END && len(events) > 0 {
		known = int64(events[0].Version)
	}
	slice.LastVersion, err = c.lastVersion(ctx, name, slice.IsEnd, known)
	log.Trace("read backward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

// lastVersion only asks the server on a final page that did not reveal the end itself.
func (c *Client) lastVersion(ctx context.Context, name string, isEnd bool, known int64) (int64, error) {
	if known >= 0 || !isEnd {
		return known, nil
	}
	return c.End(ctx, name)
}

// End returns the version of the newest event in name, -1 when there is none.
func (c *Client) End(ctx context.Context, name string) (int64, error) {
	rs, err := c.c.ReadStream(ctx, name, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, 1)
	if err != nil {
		if errors.Is(err, esdb.ErrStreamNotFound) || errors.Is(err, io.EOF) {
			return -1, nil
		}
		return -1, classify(ctx, "end", name, err)
	}
	defer rs.Close()
	e, err := rs.Recv()
	if err != nil {
		if errors.Is(err, esdb.ErrStreamNotFound) || errors.Is(err, io.EOF) {
			return -1, nil
		}
		return -1, classify(ctx, "end", name, err)
	}
	return int64(e.OriginalEvent().EventNumber), nil
}

func expectedRevision(expected store.ExpectedVersion) esdb.ExpectedRevision {
	switch expected {
	case store.ExpectedAny:
		return esdb.Any{}
	case store.ExpectedNoStream:
		return esdb.NoStream{}
	}
	return esdb.Revision(uint64(expected))
}

func (c *Client) Append(ctx context.Context, name string, expected store.ExpectedVersion, events ...store.Event) (store.WriteResult, error) {
	start := time.Now()
	defer func() {
		writeCount.WithLabelValues(name).Add(float64(len(events)))
		writeTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
	}()
	eventDatas := make([]esdb.EventData, len(events))
	for i, e := range events {
		eventDatas[i] = esdb.EventData{
			EventID:     e.Id,
			ContentType: esdb.JsonContentType,
			EventType:   e.Type,
			Data:        e.Data,
			Metadata:    e.Metadata,
		}
	}
	wr, err := c.c.AppendToStream(ctx, name, esdb.AppendToStreamOptions{
		ExpectedRevision: expectedRevision(expected),
	}, eventDatas...)
	if err != nil {
		return store.WriteResult{}, c.appendError(ctx, name, expected, err)
	}
	log.Debug("appended events", "stream", name, "events", len(events), "version", wr.NextExpectedVersion)
	return store.WriteResult{NextExpectedVersion: int64(wr.NextExpectedVersion)}, nil
}

func isConflict(err error) bool {
	return errors.Is(err, esdb.ErrWrongExpectedStreamRevision)
}

// appendError turns a rejected expected revision into a *store.ConcurrencyError, reading the stream end for Actual.
func (c *Client) appendError(ctx context.Context, name string, expected store.ExpectedVersion, err error) error {
	if !isConflict(err) {
		return classify(ctx, "append", name, err)
	}
	actual, endErr := c.End(ctx, name)
	if endErr != nil {
		log.WithError(endErr).Debug("reading end of conflicting stream", "stream", name)
		actual = int64(store.ExpectedAny)
	}
	return &store.ConcurrencyError{
		Stream:   name,
		Expected: expected,
		Actual:   actual,
	}
}

func (c *Client) SetMetadata(ctx context.Context, name string, metadata store.StreamMetadata) error {
	var m esdb.StreamMetadata
	if metadata.MaxCount != nil {
		m.SetMaxCount(*metadata.MaxCount)
	}
	if metadata.MaxAge != nil {
		m.SetMaxAge(*metadata.MaxAge)
	}
	if metadata.CacheControl != nil {
		m.SetCacheControl(*metadata.CacheControl)
	}
	_, err := c.c.SetStreamMetadata(ctx, name, esdb.AppendToStreamOptions{}, m)
	if err != nil {
		return classify(ctx, "set metadata", name, err)
	}
	return nil
}

func (c *Client) GetMetadata(ctx context.Context, name string) (store.StreamMetadata, error) {
	m, err := c.c.GetStreamMetadata(ctx, name, esdb.ReadStreamOptions{})
	if err != nil {
		if errors.Is(err, esdb.ErrStreamNotFound) {
			return store.StreamMetadata{}, nil
		}
		return store.StreamMetadata{}, classify(ctx, "get metadata", name, err)
	}
	return store.StreamMetadata{
		MaxCount:     m.MaxCount(),
		MaxAge:       m.MaxAge(),
		CacheControl: m.CacheControl(),
	}, nil
}

// classify maps client errors onto the store error taxonomy.
func classify(ctx context.Context, op, name string, err error) error {
	if errors.Is(err, esdb.ErrStreamNotFound) {
		return store.ErrStreamNotFound
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.WithError(err).Warning("eventstore request failed", "op", op, "stream", name)
	return store.Transport(op, name, err)
}
