package event

import (
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/exp/maps"
)

// Descriptor is the metadata written alongside every event.
type Descriptor struct {
	// Version is the 0-based position of the event in its stream at write time.
	Version   int64             `json:"version"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// WithHeaders returns a copy of d where commit is merged into the headers.
// Keys present in both take the value from commit.
func (d Descriptor) WithHeaders(commit map[string]string) Descriptor {
	if len(d.Headers) == 0 && len(commit) == 0 {
		return d
	}
	headers := make(map[string]string, len(d.Headers)+len(commit))
	maps.Copy(headers, d.Headers)
	maps.Copy(headers, commit)
	d.Headers = headers
	return d
}

// WritableEvent is a domain event together with its descriptor.
type WritableEvent struct {
	Id         uuid.UUID  `json:"id"`
	Event      any        `json:"event"`
	Descriptor Descriptor `json:"descriptor"`
}

// Stream is a materialized stream, events in ascending version order.
type Stream struct {
	Bucket   string `json:"bucket"`
	StreamId string `json:"stream_id"`
	// LastVersion is the highest version stored in the stream, -1 when there is none.
	LastVersion int64           `json:"last_version"`
	Events      []WritableEvent `json:"events"`
}

func (s Stream) IsEmpty() bool {
	return len(s.Events) == 0
}

type Snapshot struct {
	// Version is the version of the stream the snapshot was taken at.
	Version int64     `json:"version"`
	Payload any       `json:"payload"`
	Taken   time.Time `json:"taken"`
}
