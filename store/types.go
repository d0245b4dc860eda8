package store

import (
	"context"
	"math"
	"time"

	"github.com/gofrs/uuid"
)

// Event is an event as the backing store sees it, payload and metadata already encoded.
type Event struct {
	Id       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Data     []byte    `json:"data"`
	Metadata []byte    `json:"metadata"`
}

type ReadEvent struct {
	Event

	Version uint64    `json:"version"`
	Created time.Time `json:"created"`
}

type StreamPosition uint64

const (
	STREAM_START StreamPosition = 0
	STREAM_END   StreamPosition = math.MaxUint64
)

// ExpectedVersion is the version a writer believes the stream is at.
// Non negative values are stream versions, the negative values are sentinels.
type ExpectedVersion int64

const (
	ExpectedAny      ExpectedVersion = -2
	ExpectedNoStream ExpectedVersion = -1
)

// Matches reports whether a stream whose last version is current satisfies e.
// current is -1 for an empty or missing stream.
func (e ExpectedVersion) Matches(current int64) bool {
	switch e {
	case ExpectedAny:
		return true
	case ExpectedNoStream:
		return current < 0
	}
	return int64(e) == current
}

// StreamMetadata is the retention policy declared on a stream.
// The backing store enforces it, writers only declare it.
type StreamMetadata struct {
	MaxCount     *uint64        `json:"max_count,omitempty"`
	MaxAge       *time.Duration `json:"max_age,omitempty"`
	CacheControl *time.Duration `json:"cache_control,omitempty"`
}

func (m StreamMetadata) IsZero() bool {
	return m.MaxCount == nil && m.MaxAge == nil && m.CacheControl == nil
}

// Slice is one page of a stream read.
type Slice struct {
	Events []ReadEvent
	// Next is the position to continue reading from in the same direction.
	Next  StreamPosition
	IsEnd bool
	// LastVersion is the last version of the stream as known by the backing store, -1 when unknown or empty.
	// Backends may leave it unknown on pages that are not the last.
	LastVersion int64
}

type WriteResult struct {
	NextExpectedVersion int64
}

// Connection is the set of primitives a backing store has to provide.
//
// Reads of a stream that has never been written return ErrStreamNotFound.
// Append returns a *ConcurrencyError when expected does not match the stream,
// and a *TransportError when the backing store could not be reached.
type Connection interface {
	ReadForward(ctx context.Context, stream string, from StreamPosition, count uint64) (Slice, error)
	ReadBackward(ctx context.Context, stream string, from StreamPosition, count uint64) (Slice, error)
	Append(ctx context.Context, stream string, expected ExpectedVersion, events ...Event) (WriteResult, error)
	SetMetadata(ctx context.Context, stream string, metadata StreamMetadata) error
	GetMetadata(ctx context.Context, stream string) (StreamMetadata, error)
	Close() error
}
