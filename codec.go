package aggregates

import (
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/store"
)

// encode prepares events for an append with expected as the expected version.
// Guarded writes get their descriptor versions stamped from expected.
func (s *Store) encode(expected store.ExpectedVersion, events []event.WritableEvent, commit map[string]string) ([]store.Event, error) {
	now := s.now().UTC()
	out := make([]store.Event, len(events))
	for i, e := range events {
		if e.Event == nil {
			return nil, errors.WithMessagef(serializer.ErrUnknownType, "event %d has no payload", i)
		}
		typeName, err := s.mapper.TypeName(e.Event)
		if err != nil {
			return nil, err
		}
		d := e.Descriptor.WithHeaders(commit)
		if expected != store.ExpectedAny {
			d.Version = int64(expected) + 1 + int64(i)
		}
		if d.Timestamp.IsZero() {
			d.Timestamp = now
		}
		id := e.Id
		if id.IsNil() {
			id, err = uuid.NewV7()
			if err != nil {
				return nil, err
			}
		}
		data, err := s.serializer.Marshal(e.Event)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding payload of event %d", i)
		}
		metadata, err := s.serializer.Marshal(d)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding descriptor of event %d", i)
		}
		out[i] = store.Event{
			Id:       id,
			Type:     typeName,
			Data:     data,
			Metadata: metadata,
		}
	}
	return out, nil
}

func (s *Store) decode(stream string, re store.ReadEvent) (event.WritableEvent, error) {
	corrupt := func(part string, err error) error {
		return &store.CorruptDataError{
			Stream:  stream,
			Version: re.Version,
			EventId: re.Id,
			Part:    part,
			Err:     err,
		}
	}
	if len(re.Metadata) == 0 {
		return event.WritableEvent{}, corrupt("descriptor", ErrMissingDescriptor)
	}
	var d event.Descriptor
	err := s.serializer.Unmarshal(re.Metadata, &d)
	if err != nil {
		return event.WritableEvent{}, corrupt("descriptor", err)
	}
	// The position in the stream is authoritative, appends do not know it when encoding.
	d.Version = int64(re.Version)
	p, err := s.mapper.New(re.Type)
	if err != nil {
		return event.WritableEvent{}, corrupt("payload", err)
	}
	err = s.serializer.Unmarshal(re.Data, p)
	if err != nil {
		return event.WritableEvent{}, corrupt("payload", err)
	}
	return event.WritableEvent{
		Id:         re.Id,
		Event:      serializer.Value(p),
		Descriptor: d,
	}, nil
}
