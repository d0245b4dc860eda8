package api

import (
	"bufio"
	stdJson "encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"
	"github.com/iidesho/bragi/sbragi"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/iidesho/aggregates"
	"github.com/iidesho/aggregates/event"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/webserver"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

type Event struct {
	Id        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	Version   int64              `json:"version"`
	Headers   map[string]string  `json:"headers,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Data      stdJson.RawMessage `json:"data"`
}

type Stream struct {
	Bucket      string  `json:"bucket"`
	StreamId    string  `json:"stream_id"`
	LastVersion int64   `json:"last_version"`
	Events      []Event `json:"events"`
}

type WriteRequest struct {
	// ExpectedVersion makes the write conditional, without it the events are appended.
	ExpectedVersion *int64            `json:"expected_version"`
	Headers         map[string]string `json:"headers"`
	Events          []Event           `json:"events"`
}

type Snapshot struct {
	Version int64              `json:"version"`
	Type    string             `json:"type"`
	Data    stdJson.RawMessage `json:"data"`
	Taken   time.Time          `json:"taken"`
}

type MetadataRequest struct {
	MaxCount     *uint64 `json:"max_count"`
	MaxAge       string  `json:"max_age"`
	CacheControl string  `json:"cache_control"`
}

// Register serves the streams of T under path.
func Register[T aggregates.EventSource](r fiber.Router, s *aggregates.Store, path string, opts ...aggregates.OOBOption) {
	events := aggregates.For[T](s)
	oob := aggregates.NewOOB[T](s, opts...)
	base := path + "/:bucket/:id"

	r.Get(base, func(c *fiber.Ctx) error {
		var ro []aggregates.ReadOption
		from, err := queryUint(c, "from")
		if err != nil {
			return err
		}
		if from != nil {
			ro = append(ro, aggregates.From(*from))
		}
		stream, err := events.GetStream(c.UserContext(), c.Params("bucket"), c.Params("id"), ro...)
		if err != nil {
			return toFiberError(err)
		}
		out, err := toEvents(s, stream.Events)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(Stream{
			Bucket:      stream.Bucket,
			StreamId:    stream.StreamId,
			LastVersion: stream.LastVersion,
			Events:      out,
		})
	})

	r.Get(base+"/backwards", func(c *fiber.Ctx) error {
		ro := []aggregates.ReadOption{aggregates.Count(c.QueryInt("count", 0))}
		from, err := queryUint(c, "from")
		if err != nil {
			return err
		}
		if from != nil {
			ro = append(ro, aggregates.From(*from))
		}
		got, err := events.GetEventsBackwards(c.UserContext(), c.Params("bucket"), c.Params("id"), ro...)
		if err != nil {
			return toFiberError(err)
		}
		out, err := toEvents(s, got)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(out)
	})

	r.Get(base+"/export", func(c *fiber.Ctx) error {
		var ro []aggregates.ReadOption
		from, err := queryUint(c, "from")
		if err != nil {
			return err
		}
		if from != nil {
			ro = append(ro, aggregates.From(*from))
		}
		bucket, id := strings.Clone(c.Params("bucket")), strings.Clone(c.Params("id"))
		_, err = aggregates.StreamName(bucket, id)
		if err != nil {
			return toFiberError(err)
		}
		ctx := c.UserContext()
		c.Set(webserver.CONTENT_TYPE, "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Status(fiber.StatusOK).
			Context().
			SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
				last, err := events.Pages(ctx, bucket, id, func(page []event.WritableEvent) error {
					out, err := toEvents(s, page)
					if err != nil {
						return err
					}
					for _, e := range out {
						b, err := serializer.JSON.Marshal(e)
						if err != nil {
							return err
						}
						fmt.Fprintf(w, "data: %s\n\n", b)
					}
					return w.Flush()
				}, ro...)
				if err != nil {
					log.WithError(err).Warning("exporting stream", "bucket", bucket, "id", id)
					msg, _ := serializer.JSON.Marshal(err.Error())
					fmt.Fprintf(w, "event: error\ndata: %s\n\n", msg)
				} else {
					fmt.Fprintf(w, "event: end\ndata: {\"last_version\":%d}\n\n", last)
				}
				log.WithError(w.Flush()).Debug("flushing export", "bucket", bucket, "id", id)
			}))
		return nil
	})

	r.Post(base, func(c *fiber.Ctx) error {
		req, err := webserver.UnmarshalBody[WriteRequest](c)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		in, err := fromEvents(s, req.Events)
		if err != nil {
			return toFiberError(err)
		}
		if req.ExpectedVersion != nil {
			err = events.WriteEvents(c.UserContext(), c.Params("bucket"), c.Params("id"), *req.ExpectedVersion, in, req.Headers)
		} else {
			err = events.AppendEvents(c.UserContext(), c.Params("bucket"), c.Params("id"), in, req.Headers)
		}
		if err != nil {
			return toFiberError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})

	r.Put(base+"/metadata", func(c *fiber.Ctx) error {
		req, err := webserver.UnmarshalBody[MetadataRequest](c)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var ro []aggregates.RetentionOption
		if req.MaxCount != nil {
			ro = append(ro, aggregates.MaxCount(*req.MaxCount))
		}
		if req.MaxAge != "" {
			d, err := time.ParseDuration(req.MaxAge)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "max_age: "+err.Error())
			}
			ro = append(ro, aggregates.MaxAge(d))
		}
		if req.CacheControl != "" {
			d, err := time.ParseDuration(req.CacheControl)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "cache_control: "+err.Error())
			}
			ro = append(ro, aggregates.CacheControl(d))
		}
		err = events.WriteEventMetadata(c.UserContext(), c.Params("bucket"), c.Params("id"), ro...)
		if err != nil {
			return toFiberError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})

	r.Get(base+"/snapshot", func(c *fiber.Ctx) error {
		snap, err := events.GetSnapshot(c.UserContext(), c.Params("bucket"), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		if snap == nil {
			return fiber.NewError(http.StatusNotFound, "no snapshot")
		}
		typeName, err := s.TypeName(snap.Payload)
		if err != nil {
			return toFiberError(err)
		}
		data, err := serializer.JSON.Marshal(snap.Payload)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(Snapshot{
			Version: snap.Version,
			Type:    typeName,
			Data:    data,
			Taken:   snap.Taken,
		})
	})

	r.Put(base+"/snapshot", func(c *fiber.Ctx) error {
		req, err := webserver.UnmarshalBody[Snapshot](c)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		payload, err := s.Decode(req.Type, req.Data)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err = events.WriteSnapshot(c.UserContext(), c.Params("bucket"), c.Params("id"), req.Version, payload)
		if err != nil {
			return toFiberError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})

	r.Get(base+"/oob", func(c *fiber.Ctx) error {
		ro := []aggregates.RetrieveOption{
			aggregates.Skip(c.QueryInt("skip", 0)),
			aggregates.Take(c.QueryInt("take", 0)),
		}
		if c.Query("order") == "desc" {
			ro = append(ro, aggregates.Descending())
		}
		got, err := oob.Retrieve(c.UserContext(), c.Params("bucket"), c.Params("id"), ro...)
		if err != nil {
			return toFiberError(err)
		}
		out, err := toEvents(s, got)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(out)
	})

	r.Post(base+"/oob", func(c *fiber.Ctx) error {
		req, err := webserver.UnmarshalBody[WriteRequest](c)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		in, err := fromEvents(s, req.Events)
		if err != nil {
			return toFiberError(err)
		}
		err = oob.Publish(c.UserContext(), c.Params("bucket"), c.Params("id"), in, req.Headers)
		if errors.Is(err, aggregates.ErrPartialPublish) {
			return webserver.ErrorResponse(c, err.Error(), http.StatusAccepted)
		}
		if err != nil {
			return toFiberError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})
}

func queryUint(c *fiber.Ctx, key string) (*uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, key+": "+err.Error())
	}
	return &v, nil
}

func toEvents(s *aggregates.Store, in []event.WritableEvent) ([]Event, error) {
	out := make([]Event, len(in))
	for i, e := range in {
		typeName, err := s.TypeName(e.Event)
		if err != nil {
			return nil, err
		}
		data, err := serializer.JSON.Marshal(e.Event)
		if err != nil {
			return nil, err
		}
		out[i] = Event{
			Id:        e.Id,
			Type:      typeName,
			Version:   e.Descriptor.Version,
			Headers:   e.Descriptor.Headers,
			Timestamp: e.Descriptor.Timestamp,
			Data:      data,
		}
	}
	return out, nil
}

func fromEvents(s *aggregates.Store, in []Event) ([]event.WritableEvent, error) {
	out := make([]event.WritableEvent, len(in))
	for i, e := range in {
		payload, err := s.Decode(e.Type, e.Data)
		if errors.Is(err, aggregates.ErrUnknownType) {
			return nil, errors.WithMessagef(err, "event %d", i)
		}
		if err != nil {
			return nil, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
		}
		b := event.NewBuilder().
			WithId(e.Id).
			WithEvent(payload).
			WithVersion(e.Version).
			WithTimestamp(e.Timestamp)
		for k, v := range e.Headers {
			b = b.WithHeader(k, v)
		}
		out[i], err = b.Build()
		if err != nil {
			return nil, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
		}
	}
	return out, nil
}

// toFiberError maps store failures onto http status codes.
func toFiberError(err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, aggregates.ErrCorruptData):
		log.WithError(err).Error("reading corrupt stream")
	case errors.Is(err, aggregates.ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, aggregates.ErrInvalidStreamId),
		errors.Is(err, aggregates.ErrNoEvents),
		errors.Is(err, aggregates.ErrInvalidExpectedVersion),
		errors.Is(err, aggregates.ErrUnknownType):
		status = http.StatusBadRequest
	case errors.Is(err, aggregates.ErrTransport):
		status = http.StatusServiceUnavailable
	default:
		log.WithError(err).Error("handling stream request")
	}
	return fiber.NewError(status, err.Error())
}
