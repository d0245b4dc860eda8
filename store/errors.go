package store

import (
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrCorruptData         = errors.New("corrupt event data")
	ErrTransport           = errors.New("transport failure")
)

type ConcurrencyError struct {
	Stream   string
	Expected ExpectedVersion
	// Actual is the last version of the stream, -1 when empty and -2 when the backing store did not say.
	Actual int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: stream %q expected version %d, actual %d", ErrConcurrencyConflict, e.Stream, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

type CorruptDataError struct {
	Stream  string
	Version uint64
	EventId uuid.UUID
	// Part is what failed to decode, "descriptor" or "payload".
	Part string
	Err  error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("%s: stream %q version %d event %s %s: %v", ErrCorruptData, e.Stream, e.Version, e.EventId, e.Part, e.Err)
}

func (e *CorruptDataError) Is(target error) bool {
	return target == ErrCorruptData
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}

type TransportError struct {
	Op     string
	Stream string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", ErrTransport, e.Op, e.Stream, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func Transport(op, stream string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{
		Op:     op,
		Stream: stream,
		Err:    err,
	}
}
