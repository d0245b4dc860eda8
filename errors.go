package aggregates

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/store"
)

var (
	ErrNoEvents               = errors.New("no events to write")
	ErrInvalidStreamId        = errors.New("invalid stream identity")
	ErrInvalidExpectedVersion = errors.New("invalid expected version")
	ErrPartialPublish         = errors.New("events published without retention metadata")
	ErrMissingDescriptor      = errors.New("missing event descriptor")
)

// Aliases so callers only need this package to tell failures apart.
var (
	ErrConcurrencyConflict = store.ErrConcurrencyConflict
	ErrCorruptData         = store.ErrCorruptData
	ErrTransport           = store.ErrTransport
	ErrUnknownType         = serializer.ErrUnknownType
)

// PartialPublishError is returned when OOB events were appended but the retention metadata write failed.
type PartialPublishError struct {
	Stream string
	Err    error
}

func (e *PartialPublishError) Error() string {
	return fmt.Sprintf("%s: stream %q: %v", ErrPartialPublish, e.Stream, e.Err)
}

func (e *PartialPublishError) Is(target error) bool {
	return target == ErrPartialPublish
}

func (e *PartialPublishError) Unwrap() error {
	return e.Err
}
