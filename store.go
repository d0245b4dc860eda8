package aggregates

import (
	"context"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/storage"
	"github.com/iidesho/aggregates/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

// DefaultPageSize is how many events are requested from the backing store per read.
const DefaultPageSize = 200

// Store reads and writes event streams on a backing store connection.
// It is safe for concurrent use.
type Store struct {
	conn       store.Connection
	mapper     serializer.Mapper
	serializer serializer.Serializer
	pageSize   int
	ctx        context.Context
	now        func() time.Time
	snapshots  storage.Storage[CachedSnapshot]

	opDuration      *prometheus.HistogramVec
	retentionWrites *prometheus.CounterVec
}

type Option func(*Store)

func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithSerializer(ser serializer.Serializer) Option {
	return func(s *Store) {
		s.serializer = ser
	}
}

// WithSnapshotCache keeps the newest snapshot of every stream in cache so GetSnapshot can skip the backing store.
func WithSnapshotCache(cache storage.Storage[CachedSnapshot]) Option {
	return func(s *Store) {
		s.snapshots = cache
	}
}

// New creates a Store on conn. Every operation is aborted when ctx is done.
func New(ctx context.Context, conn store.Connection, mapper serializer.Mapper, opts ...Option) (*Store, error) {
	s := &Store{
		conn:       conn,
		mapper:     mapper,
		serializer: serializer.JSON,
		pageSize:   DefaultPageSize,
		ctx:        ctx,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	err := s.initMetrics()
	if err != nil {
		return nil, err
	}
	log.Debug("store created", "page_size", s.pageSize)
	return s, nil
}

// Ping checks that the backing store answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, done := s.instrument(ctx, "ping", "", "")
	_, err := s.conn.GetMetadata(ctx, "aggregates/health")
	done(err)
	return err
}

// TypeName is the type name v is stored under.
func (s *Store) TypeName(v any) (string, error) {
	return s.mapper.TypeName(v)
}

// Decode turns encoded data of the payload type registered as typeName into a payload value.
func (s *Store) Decode(typeName string, data []byte) (any, error) {
	p, err := s.mapper.New(typeName)
	if err != nil {
		return nil, err
	}
	err = s.serializer.Unmarshal(data, p)
	if err != nil {
		return nil, err
	}
	return serializer.Value(p), nil
}
