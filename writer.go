package aggregates

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	contextkeys "github.com/iidesho/aggregates/contextKeys"
	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/store"
)

// write appends events to stream when the stream is at expected and returns the new last version.
func (s *Store) write(ctx context.Context, stream string, expected store.ExpectedVersion, events []event.WritableEvent, commit map[string]string) (int64, error) {
	if len(events) == 0 {
		return -1, ErrNoEvents
	}
	if expected < store.ExpectedAny {
		return -1, errors.Wrapf(ErrInvalidExpectedVersion, "%d", expected)
	}
	encoded, err := s.encode(expected, events, withContextHeaders(ctx, commit))
	if err != nil {
		return -1, err
	}
	if err = ctx.Err(); err != nil {
		return -1, err
	}
	res, err := s.conn.Append(ctx, stream, expected, encoded...)
	if err != nil {
		log.WithError(err).Debug("appending events", "stream", stream, "expected", expected, "events", len(events))
		return -1, err
	}
	log.Debug("wrote events", "stream", stream, "expected", expected, "events", len(events), "version", res.NextExpectedVersion)
	return res.NextExpectedVersion, nil
}

func (s *Store) append(ctx context.Context, stream string, events []event.WritableEvent, commit map[string]string) (int64, error) {
	return s.write(ctx, stream, store.ExpectedAny, events, commit)
}

func (s *Store) writeMetadata(ctx context.Context, stream string, metadata store.StreamMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.conn.SetMetadata(ctx, stream, metadata)
	if err != nil {
		return err
	}
	log.Debug("wrote stream metadata", "stream", stream)
	return nil
}

// withContextHeaders adds the request scoped values of ctx to commit, explicit commit headers win.
func withContextHeaders(ctx context.Context, commit map[string]string) map[string]string {
	values := contextkeys.Values(ctx)
	if len(values) == 0 {
		return commit
	}
	maps.Copy(values, commit)
	return values
}
