package event

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type builder struct {
	Id         uuid.UUID
	Event      any
	Descriptor Descriptor
}

type Builder interface {
	WithId(id uuid.UUID) builder
	WithEvent(e any) builder
	WithVersion(v int64) builder
	WithHeader(key, value string) builder
	WithTimestamp(t time.Time) builder
	Build() (ev WritableEvent, err error)
}

func NewBuilder() Builder {
	return builder{}
}

func (e builder) WithId(id uuid.UUID) builder {
	e.Id = id
	return e
}

func (e builder) WithEvent(ev any) builder {
	e.Event = ev
	return e
}

func (e builder) WithVersion(v int64) builder {
	e.Descriptor.Version = v
	return e
}

func (e builder) WithHeader(key, value string) builder {
	e.Descriptor = e.Descriptor.WithHeaders(map[string]string{key: value})
	return e
}

func (e builder) WithTimestamp(t time.Time) builder {
	e.Descriptor.Timestamp = t
	return e
}

func (e builder) Build() (ev WritableEvent, err error) {
	if e.Event == nil {
		err = MissingEventError
		return
	}
	if e.Id.IsNil() {
		e.Id, err = uuid.NewV7()
		if err != nil {
			return
		}
	}
	ev = WritableEvent{
		Id:         e.Id,
		Event:      e.Event,
		Descriptor: e.Descriptor,
	}
	return
}

var MissingEventError = fmt.Errorf("event payload is missing")
