package aggregates

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/store"
)

// batchSize is the size of the next page when limit events are wanted and got are already read.
// A limit of 0 or less is no limit.
func (s *Store) batchSize(limit, got int) uint64 {
	if limit > 0 && limit-got < s.pageSize {
		return uint64(limit - got)
	}
	return uint64(s.pageSize)
}

// readForward reads stream from from towards its end, one page at a time.
// A missing stream is an empty result with lastVersion -1.
func (s *Store) readForward(ctx context.Context, stream string, from store.StreamPosition, limit int) (events []event.WritableEvent, lastVersion int64, err error) {
	lastVersion, err = s.pageForward(ctx, stream, from, limit, func(page []event.WritableEvent) error {
		events = append(events, page...)
		return nil
	})
	if err != nil {
		return nil, -1, err
	}
	log.Trace("read forward", "stream", stream, "from", from, "events", len(events), "last_version", lastVersion)
	return
}

// pageForward hands every decoded page of stream to fn, in order, until the end of the stream or limit events.
// An error from fn stops the read and is returned as is.
func (s *Store) pageForward(ctx context.Context, stream string, from store.StreamPosition, limit int, fn func(page []event.WritableEvent) error) (lastVersion int64, err error) {
	lastVersion = -1
	pos := from
	read := 0
	for {
		if err = ctx.Err(); err != nil {
			return -1, err
		}
		slice, err := s.conn.ReadForward(ctx, stream, pos, s.batchSize(limit, read))
		if errors.Is(err, store.ErrStreamNotFound) {
			return -1, nil
		}
		if err != nil {
			return -1, err
		}
		lastVersion = max(lastVersion, slice.LastVersion)
		page := make([]event.WritableEvent, 0, len(slice.Events))
		for _, re := range slice.Events {
			e, err := s.decode(stream, re)
			if err != nil {
				log.WithError(err).Error("decoding event", "stream", stream, "version", re.Version)
				return -1, err
			}
			page = append(page, e)
		}
		read += len(page)
		if len(page) > 0 {
			err = fn(page)
			if err != nil {
				return -1, err
			}
		}
		if slice.IsEnd || (limit > 0 && read >= limit) {
			break
		}
		if len(slice.Events) == 0 && slice.Next == pos {
			break
		}
		pos = slice.Next
	}
	if lastVersion < 0 {
		return s.streamEnd(ctx, stream)
	}
	return lastVersion, nil
}

// readBackward reads stream from from towards its start, newest event first.
func (s *Store) readBackward(ctx context.Context, stream string, from store.StreamPosition, limit int) (events []event.WritableEvent, lastVersion int64, err error) {
	lastVersion = -1
	pos := from
	for {
		if err = ctx.Err(); err != nil {
			return nil, -1, err
		}
		slice, err := s.conn.ReadBackward(ctx, stream, pos, s.batchSize(limit, len(events)))
		if errors.Is(err, store.ErrStreamNotFound) {
			return nil, -1, nil
		}
		if err != nil {
			return nil, -1, err
		}
		lastVersion = max(lastVersion, slice.LastVersion)
		for _, re := range slice.Events {
			e, err := s.decode(stream, re)
			if err != nil {
				log.WithError(err).Error("decoding event", "stream", stream, "version", re.Version)
				return nil, -1, err
			}
			events = append(events, e)
		}
		if slice.IsEnd || (limit > 0 && len(events) >= limit) {
			break
		}
		if len(slice.Events) == 0 && slice.Next == pos {
			break
		}
		pos = slice.Next
	}
	if lastVersion < 0 {
		lastVersion, err = s.streamEnd(ctx, stream)
		if err != nil {
			return nil, -1, err
		}
	}
	log.Trace("read backward", "stream", stream, "from", from, "events", len(events), "last_version", lastVersion)
	return
}

// streamEnd is for reads that stopped on pages which did not carry the last version of stream.
func (s *Store) streamEnd(ctx context.Context, stream string) (int64, error) {
	slice, err := s.conn.ReadBackward(ctx, stream, store.STREAM_END, 1)
	if errors.Is(err, store.ErrStreamNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	if slice.LastVersion < 0 && len(slice.Events) > 0 {
		return int64(slice.Events[0].Version), nil
	}
	return slice.LastVersion, nil
}
