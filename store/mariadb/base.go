package mariadb

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofrs/uuid"
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

const (
	maxConflictRetries = 16

	errDeadlock        = 1213
	errLockWaitTimeout = 1205
)

var schema = []string{`
	CREATE TABLE IF NOT EXISTS aggregates_streams (
		name VARBINARY(512) PRIMARY KEY,
		next_version BIGINT UNSIGNED NOT NULL,
		metadata LONGBLOB NULL
	) ENGINE=InnoDB`, `
	CREATE TABLE IF NOT EXISTS aggregates_events (
		stream VARBINARY(512) NOT NULL,
		version BIGINT UNSIGNED NOT NULL,
		event_id CHAR(36) NOT NULL,
		event_type VARCHAR(255) NOT NULL,
		event_data LONGBLOB,
		event_metadata LONGBLOB,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (stream, version),
		INDEX idx_created_at (stream, created_at)
	) ENGINE=InnoDB`,
}

const selectEvents = `SELECT version, event_id, event_type, event_data, event_metadata, created_at FROM aggregates_events `

type Connection struct {
	db  *sql.DB
	now func() time.Time
}

// Init connects to the database in dsn and creates the tables when they are missing.
func Init(ctx context.Context, dsn string) (c *Connection, err error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	for _, q := range schema {
		_, err = db.ExecContext(ctx, q)
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "creating tables")
		}
	}
	c = &Connection{
		db:  db,
		now: time.Now,
	}
	writeCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mariadb_event_write_count",
		Help: "mariadb event write count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	writeTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mariadb_event_write_time_total",
		Help: "mariadb event write time total",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mariadb_event_read_count",
		Help: "mariadb event read count",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}
	readTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mariadb_event_read_time_total",
		Help: "mariadb event read time total",
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

type head struct {
	next     uint64
	metadata store.StreamMetadata
}

func (h head) lastVersion() int64 {
	return int64(h.next) - 1
}

// cutoff is the oldest creation time in unix nanoseconds that is still visible.
func (h head) cutoff(now time.Time) int64 {
	if h.metadata.MaxAge == nil {
		return 0
	}
	return now.Add(-*h.metadata.MaxAge).UnixNano()
}

func getHead(ctx context.Context, tx *sql.Tx, stream string, forUpdate bool) (h head, found bool, err error) {
	q := "SELECT next_version, metadata FROM aggregates_streams WHERE name = ?"
	if forUpdate {
		q += " FOR UPDATE"
	}
	var metadata []byte
	err = tx.QueryRowContext(ctx, q, stream).Scan(&h.next, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return head{}, false, nil
	}
	if err != nil {
		return
	}
	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &h.metadata)
		if err != nil {
			return
		}
	}
	return h, true, nil
}

func (c *Connection) view(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = f(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// update runs f in a transaction, retrying when the database picked it as a deadlock victim.
func (c *Connection) update(ctx context.Context, f func(tx *sql.Tx) error) (err error) {
	for i := 0; i < maxConflictRetries; i++ {
		if err = ctx.Err(); err != nil {
			return
		}
		err = c.tryUpdate(ctx, f)
		if !retryable(err) {
			return
		}
		log.Debug("retrying conflicting transaction", "attempt", i+1)
	}
	return
}

func (c *Connection) tryUpdate(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = f(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func retryable(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDeadlock || me.Number == errLockWaitTimeout
}

// limit is count+1 so a read can tell whether more events follow.
func limit(count uint64) uint64 {
	if count >= math.MaxInt64 {
		return math.MaxInt64
	}
	return count + 1
}

func scanEvents(rows *sql.Rows) (events []store.ReadEvent, err error) {
	defer rows.Close()
	for rows.Next() {
		var (
			e       store.ReadEvent
			id      string
			created int64
		)
		err = rows.Scan(&e.Version, &id, &e.Type, &e.Data, &e.Metadata, &created)
		if err != nil {
			return
		}
		e.Id, err = uuid.FromString(id)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing id of event %d", e.Version)
		}
		e.Created = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
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
	err = c.view(ctx, func(tx *sql.Tx) error {
		h, found, err := getHead(ctx, tx, name, false)
		if err != nil {
			return err
		}
		if !found || h.next == 0 {
			return store.ErrStreamNotFound
		}
		slice.LastVersion = h.lastVersion()
		slice.IsEnd = true
		if uint64(from) >= h.next {
			return nil
		}
		rows, err := tx.QueryContext(ctx, selectEvents+
			"WHERE stream = ? AND version >= ? AND created_at >= ? ORDER BY version ASC LIMIT ?",
			name, uint64(from), h.cutoff(c.now()), limit(count))
		if err != nil {
			return err
		}
		events, err := scanEvents(rows)
		if err != nil {
			return err
		}
		if uint64(len(events)) > count {
			slice.IsEnd = false
			slice.Next = store.StreamPosition(events[count].Version)
			events = events[:count]
		} else if len(events) > 0 {
			slice.Next = store.StreamPosition(events[len(events)-1].Version + 1)
		}
		slice.Events = events
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
	err = c.view(ctx, func(tx *sql.Tx) error {
		h, found, err := getHead(ctx, tx, name, false)
		if err != nil {
			return err
		}
		if !found || h.next == 0 {
			return store.ErrStreamNotFound
		}
		slice.LastVersion = h.lastVersion()
		slice.IsEnd = true
		v := uint64(from)
		if v > h.next-1 {
			v = h.next - 1
		}
		rows, err := tx.QueryContext(ctx, selectEvents+
			"WHERE stream = ? AND version <= ? AND created_at >= ? ORDER BY version DESC LIMIT ?",
			name, v, h.cutoff(c.now()), limit(count))
		if err != nil {
			return err
		}
		events, err := scanEvents(rows)
		if err != nil {
			return err
		}
		if uint64(len(events)) > count {
			slice.IsEnd = false
			slice.Next = store.StreamPosition(events[count].Version)
			events = events[:count]
		}
		slice.Events = events
		return nil
	})
	if err != nil {
		return slice, c.classify(ctx, "read backward", name, err)
	}
	log.Trace("read backward", "stream", name, "from", from, "events", len(slice.Events), "end", slice.IsEnd)
	return
}

// lockHead creates the head row when missing and locks it for the rest of tx.
func lockHead(ctx context.Context, tx *sql.Tx, stream string) (head, error) {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO aggregates_streams (name, next_version) VALUES (?, 0) ON DUPLICATE KEY UPDATE name = name", stream)
	if err != nil {
		return head{}, err
	}
	h, _, err := getHead(ctx, tx, stream, true)
	return h, err
}

// scavenge drops the events that exceed MaxCount.
func scavenge(ctx context.Context, tx *sql.Tx, stream string, h head) error {
	if h.metadata.MaxCount == nil || h.next <= *h.metadata.MaxCount {
		return nil
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM aggregates_events WHERE stream = ? AND version < ?",
		stream, h.next-*h.metadata.MaxCount)
	return err
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
	err = c.update(ctx, func(tx *sql.Tx) error {
		h, err := lockHead(ctx, tx, name)
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
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO aggregates_events
			(stream, version, event_id, event_type, event_data, event_metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		created := c.now().UTC().UnixNano()
		for _, e := range events {
			_, err = stmt.ExecContext(ctx, name, h.next, e.Id.String(), e.Type, e.Data, e.Metadata, created)
			if err != nil {
				return err
			}
			h.next++
		}
		_, err = tx.ExecContext(ctx, "UPDATE aggregates_streams SET next_version = ? WHERE name = ?", h.next, name)
		if err != nil {
			return err
		}
		if h.metadata.MaxAge != nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM aggregates_events WHERE stream = ? AND created_at < ?",
				name, h.cutoff(c.now()))
			if err != nil {
				return err
			}
		}
		res.NextExpectedVersion = h.lastVersion()
		return scavenge(ctx, tx, name, h)
	})
	if err != nil {
		return store.WriteResult{}, c.classify(ctx, "append", name, err)
	}
	log.Debug("appended events", "stream", name, "events", len(events), "version", res.NextExpectedVersion)
	return
}

func (c *Connection) SetMetadata(ctx context.Context, name string, metadata store.StreamMetadata) error {
	b, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	err = c.update(ctx, func(tx *sql.Tx) error {
		h, err := lockHead(ctx, tx, name)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE aggregates_streams SET metadata = ? WHERE name = ?", b, name)
		if err != nil {
			return err
		}
		h.metadata = metadata
		return scavenge(ctx, tx, name, h)
	})
	return c.classify(ctx, "set metadata", name, err)
}

func (c *Connection) GetMetadata(ctx context.Context, name string) (metadata store.StreamMetadata, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	err = c.view(ctx, func(tx *sql.Tx) error {
		h, _, err := getHead(ctx, tx, name, false)
		metadata = h.metadata
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
	log.WithError(err).Error("mariadb request failed", "op", op, "stream", name)
	return store.Transport(op, name, err)
}
