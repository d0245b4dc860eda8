package aggregates

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/crypto"
	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/store"
)

// SnapshotMaxCount is how many snapshots are retained per stream.
const SnapshotMaxCount = 10

type snapshotDescriptor struct {
	Version int64     `json:"version"`
	Taken   time.Time `json:"taken"`
}

// CachedSnapshot is a snapshot as kept by the snapshot cache, payload still encoded.
type CachedSnapshot struct {
	Version int64     `json:"version"`
	Type    string    `json:"type"`
	Data    []byte    `json:"data"`
	Taken   time.Time `json:"taken"`
}

// GetSnapshot returns the newest snapshot of the stream, nil when none has been written.
func (e Events[T]) GetSnapshot(ctx context.Context, bucket, streamId string) (snap *event.Snapshot, err error) {
	name, err := SnapshotStreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "get_snapshot", e.entity, name)
	defer func() { done(err) }()

	if e.s.snapshots != nil {
		cached, err := e.s.snapshots.Get(crypto.SimpleHash(name))
		if err == nil {
			return e.s.decodeSnapshot(name, cached)
		}
		log.WithError(err).Trace("snapshot cache miss", "stream", name)
	}
	slice, err := e.s.conn.ReadBackward(ctx, name, store.STREAM_END, 1)
	if errors.Is(err, store.ErrStreamNotFound) {
		return nil, nil
	}
	if err != nil {
		return
	}
	if len(slice.Events) == 0 {
		return nil, nil
	}
	re := slice.Events[0]
	var d snapshotDescriptor
	err = e.s.serializer.Unmarshal(re.Metadata, &d)
	if err != nil {
		return nil, &store.CorruptDataError{
			Stream:  name,
			Version: re.Version,
			EventId: re.Id,
			Part:    "descriptor",
			Err:     err,
		}
	}
	cached := CachedSnapshot{
		Version: d.Version,
		Type:    re.Type,
		Data:    re.Data,
		Taken:   d.Taken,
	}
	snap, err = e.s.decodeSnapshot(name, cached)
	if err != nil {
		return
	}
	e.s.cacheSnapshot(name, cached)
	return
}

// WriteSnapshot stores payload as the state of the stream at version.
func (e Events[T]) WriteSnapshot(ctx context.Context, bucket, streamId string, version int64, payload any) (err error) {
	name, err := SnapshotStreamName(bucket, streamId)
	if err != nil {
		return
	}
	ctx, done := e.s.instrument(ctx, "write_snapshot", e.entity, name)
	defer func() { done(err) }()

	typeName, err := e.s.mapper.TypeName(payload)
	if err != nil {
		return
	}
	data, err := e.s.serializer.Marshal(payload)
	if err != nil {
		return
	}
	d := snapshotDescriptor{
		Version: version,
		Taken:   e.s.now().UTC(),
	}
	metadata, err := e.s.serializer.Marshal(d)
	if err != nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		return
	}
	res, err := e.s.conn.Append(ctx, name, store.ExpectedAny, store.Event{
		Id:       id,
		Type:     typeName,
		Data:     data,
		Metadata: metadata,
	})
	if err != nil {
		return
	}
	if res.NextExpectedVersion == 0 {
		err = e.s.writeMetadata(ctx, name, store.StreamMetadata{MaxCount: uint64Ptr(SnapshotMaxCount)})
		if err != nil {
			return
		}
	}
	e.s.cacheSnapshot(name, CachedSnapshot{
		Version: version,
		Type:    typeName,
		Data:    data,
		Taken:   d.Taken,
	})
	return
}

func (s *Store) decodeSnapshot(stream string, c CachedSnapshot) (*event.Snapshot, error) {
	payload, err := s.Decode(c.Type, c.Data)
	if err != nil {
		return nil, &store.CorruptDataError{
			Stream: stream,
			Part:   "payload",
			Err:    err,
		}
	}
	return &event.Snapshot{
		Version: c.Version,
		Payload: payload,
		Taken:   c.Taken,
	}, nil
}

func (s *Store) cacheSnapshot(stream string, c CachedSnapshot) {
	if s.snapshots == nil {
		return
	}
	key := crypto.SimpleHash(stream)
	current, err := s.snapshots.Get(key)
	if err == nil && current.Version > c.Version {
		return
	}
	log.WithError(s.snapshots.Set(key, c)).Warning("caching snapshot", "stream", stream)
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
