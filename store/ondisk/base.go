package ondisk

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/iidesho/bragi/sbragi"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iidesho/aggregates/metrics"
	"github.com/iidesho/aggregates/store"
)

var (
	log  = sbragi.WithLocalScope(sbragi.LevelInfo)
	json = jsoniter.ConfigFastest
)

var (
	writeCount     *prometheus.CounterVec
	writeTimeTotal *prometheus.CounterVec
	readCount      *prometheus.CounterVec
	readTimeTotal  *prometheus.CounterVec
)

// maxConflictRetries bounds how often a write transaction is retried when badger reports a conflict.
const maxConflictRetries = 16

type badgerLogger struct{}

func (badgerLogger) Errorf(msg string, args ...interface{}) {
	log.Error(fmt.Sprintf(msg, args...))
}
func (badgerLogger) Warningf(msg string, args ...interface{}) {
	log.Warning(fmt.Sprintf(msg, args...))
}
func (badgerLogger) Infof(msg string, args ...interface{}) {
	log.Debug(fmt.Sprintf(msg, args...))
}
func (badgerLogger) Debugf(msg string, args ...interface{}) {
	log.Trace(fmt.Sprintf(msg, args...))
}

// head is the per stream bookkeeping. Versions First up to Next-1 may still be stored.
type head struct {
	Next     uint64               `json:"next"`
	First    uint64               `json:"first"`
	Metadata store.StreamMetadata `json:"metadata"`
}

func (h head) lastVersion() int64 {
	return int64(h.Next) - 1
}

func headKey(stream string) []byte {
	return []byte("h/" + stream)
}

func eventKey(stream string, version uint64) []byte {
	return []byte(fmt.Sprintf("e/%s/%020d", stream, version))
}

type Connection struct {
	db  *badger.DB
	now func() time.Time
}

func Init(dir string) (c *Connection, err error) {
	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, errors.Wrap(err, "creating store dir")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(badgerLogger{}))
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger in %s", dir)
	}
	c = &Connection{
		db:  db,
		now: time.Now,
	}
	writeCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ondisk_event_write_count",
		Help: "on-disk event write count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	writeTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ondisk_event_write_time_total",
		Help: "on-disk event write time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ondisk_event_read_count",
		Help: "on-disk event read count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ondisk_event_read_time_total",
		Help: "on-disk event read time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	return
}

func (c *Connection) Close() error {
	return c.db.Close()
}

func observeRead(name string, start time.Time) {
	readCount.WithLabelValues(name).Inc()
	readTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
}

func getHead(txn *badger.Txn, stream string) (h head, found bool, err error) {
	item, err := txn.Get(headKey(stream))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return head{}, false, nil
	}
	if err != nil {
		return
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &h)
	})
	return h, err == nil, err
}

func setHead(txn *badger.Txn, stream string, h head) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return txn.Set(headKey(stream), b)
}

// getEvent returns false when the event is gone, either scavenged or expired.
func (c *Connection) getEvent(txn *badger.Txn, stream string, version uint64, h head) (e store.ReadEvent, found bool, err error) {
	item, err := txn.Get(eventKey(stream, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, false, nil
	}
	if err != nil {
		return
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return e, false, err
	}
	if h.Metadata.MaxAge != nil && e.Created.Before(c.now().Add(-*h.Metadata.MaxAge)) {
		return e, false, nil
	}
	return e, true, nil
}

func (c *Connection) ReadForward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	defer observeRead(name, time.Now())
	slice = store.Slice{
		Next:        from,
		LastVersion: -1,
	}
	err = c.db.View(func(txn *badger.Txn) error {
		h, found, err := getHead(txn, name)
		if err != nil {
			return err
		}
		if !found || h.Next == 0 {
			return store.ErrStreamNotFound
		}
		slice.LastVersion = h.lastVersion()
		v := uint64(from)
		if v < h.First {
			v = h.First
		}
		for ; v < h.Next && uint64(len(slice.Events)) < count; v++ {
			e, found, err := c.getEvent(txn, name, v, h)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			slice.Events = append(slice.Events, e)
		}
		slice.Next = store.StreamPosition(v)
		slice.IsEnd = v >= h.Next
		return nil
	})
	if err != nil {
		return slice, c.classify(ctx, "read forward", name, err)
	}
	log.Trace("read forward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

func (c *Connection) ReadBackward(ctx context.Context, name string, from store.StreamPosition, count uint64) (slice store.Slice, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	defer observeRead(name, time.Now())
	slice = store.Slice{
		Next:        from,
		LastVersion: -1,
	}
	err = c.db.View(func(txn *badger.Txn) error {
		h, found, err := getHead(txn, name)
		if err != nil {
			return err
		}
		if !found || h.Next == 0 {
			return store.ErrStreamNotFound
		}
		slice.LastVersion = h.lastVersion()
		slice.IsEnd = true
		if uint64(from) < h.First {
			return nil
		}
		v := uint64(from)
		if v > h.Next-1 {
			v = h.Next - 1
		}
		for {
			if uint64(len(slice.Events)) >= count {
				slice.IsEnd = false
				slice.Next = store.StreamPosition(v)
				return nil
			}
			e, found, err := c.getEvent(txn, name, v, h)
			if err != nil {
				return err
			}
			if found {
				slice.Events = append(slice.Events, e)
			}
			if v == h.First {
				return nil
			}
			v--
		}
	})
	if err != nil {
		return slice, c.classify(ctx, "read backward", name, err)
	}
	log.Trace("read backward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

// scavenge drops the events that exceed MaxCount.
func scavenge(txn *badger.Txn, stream string, h *head) error {
	if h.Metadata.MaxCount == nil || h.Next-h.First <= *h.Metadata.MaxCount {
		return nil
	}
	first := h.Next - *h.Metadata.MaxCount
	for v := h.First; v < first; v++ {
		err := txn.Delete(eventKey(stream, v))
		if err != nil {
			return err
		}
	}
	h.First = first
	return nil
}

// update runs f in a write transaction, retrying when badger reports a conflicting transaction.
func (c *Connection) update(ctx context.Context, f func(txn *badger.Txn) error) (err error) {
	for i := 0; i < maxConflictRetries; i++ {
		if err = ctx.Err(); err != nil {
			return
		}
		err = c.db.Update(f)
		if !errors.Is(err, badger.ErrConflict) {
			return
		}
		log.Debug("retrying conflicting transaction", "attempt", i+1)
	}
	return
}

func (c *Connection) Append(ctx context.Context, name string, expected store.ExpectedVersion, events ...store.Event) (res store.WriteResult, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	start := time.Now()
	defer func() {
		writeCount.WithLabelValues(name).Add(float64(len(events)))
		writeTimeTotal.WithLabelValues(name).Add(float64(time.Since(start).Microseconds()))
	}()
	err = c.update(ctx, func(txn *badger.Txn) error {
		h, _, err := getHead(txn, name)
		if err != nil {
			return err
		}
		if !expected.Matches(h.lastVersion()) {
			return &store.ConcurrencyError{
				Stream:   name,
				Expected: expected,
				Actual:   h.lastVersion(),
			}
		}
		created := c.now().UTC()
		for _, e := range events {
			b, err := json.Marshal(store.ReadEvent{
				Event:   e,
				Version: h.Next,
				Created: created,
			})
			if err != nil {
				return err
			}
			entry := badger.NewEntry(eventKey(name, h.Next), b)
			if h.Metadata.MaxAge != nil {
				entry = entry.WithTTL(*h.Metadata.MaxAge)
			}
			err = txn.SetEntry(entry)
			if err != nil {
				return err
			}
			h.Next++
		}
		err = scavenge(txn, name, &h)
		if err != nil {
			return err
		}
		res.NextExpectedVersion = h.lastVersion()
		return setHead(txn, name, h)
	})
	if err != nil {
		return store.WriteResult{}, c.classify(ctx, "append", name, err)
	}
	log.Debug("appended events", "stream", name, "events", len(events), "version", res.NextExpectedVersion)
	return
}

func (c *Connection) SetMetadata(ctx context.Context, name string, metadata store.StreamMetadata) error {
	err := c.update(ctx, func(txn *badger.Txn) error {
		h, _, err := getHead(txn, name)
		if err != nil {
			return err
		}
		h.Metadata = metadata
		err = scavenge(txn, name, &h)
		if err != nil {
			return err
		}
		return setHead(txn, name, h)
	})
	return c.classify(ctx, "set metadata", name, err)
}

func (c *Connection) GetMetadata(ctx context.Context, name string) (metadata store.StreamMetadata, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	err = c.db.View(func(txn *badger.Txn) error {
		h, _, err := getHead(txn, name)
		metadata = h.Metadata
		return err
	})
	return metadata, c.classify(ctx, "get metadata", name, err)
}

// classify keeps the store errors and context errors as they are and reports everything else as a failing backing store.
func (c *Connection) classify(ctx context.Context, op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStreamNotFound) || errors.Is(err, store.ErrConcurrencyConflict) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.WithError(err).Error("badger request failed", "op", op, "stream", name)
	return store.Transport(op, name, err)
}
