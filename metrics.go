package aggregates

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iidesho/aggregates/mergedcontext"
	"github.com/iidesho/aggregates/metrics"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/store"
	"github.com/iidesho/aggregates/traces"
)

func (s *Store) initMetrics() (err error) {
	s.opDuration, err = metrics.Register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregates_store_operation_duration_seconds",
		Help:    "Duration of event stream store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "entity", "result"}))
	if err != nil {
		return
	}
	s.retentionWrites, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregates_oob_retention_writes_total",
		Help: "Retention metadata writes done while publishing out-of-band events",
	}, []string{"entity"}))
	return
}

// result is the metric label for the outcome err describes.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, store.ErrCorruptData):
		return "corrupt"
	case errors.Is(err, store.ErrTransport):
		return "transport"
	case errors.Is(err, ErrPartialPublish):
		return "partial"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrInvalidStreamId), errors.Is(err, ErrNoEvents), errors.Is(err, ErrInvalidExpectedVersion),
		errors.Is(err, serializer.ErrUnknownType):
		return "invalid"
	}
	return "error"
}

// instrument bounds ctx by the store lifetime and opens a span for op.
// done has to be called with the outcome of the operation.
func (s *Store) instrument(ctx context.Context, op, entity, stream string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, cancel := mergedcontext.MergeContexts(ctx, s.ctx)
	ctx, span := traces.Start(ctx, op,
		attribute.String("op", op),
		attribute.String("entity", entity),
		attribute.String("stream", stream),
	)
	return ctx, func(err error) {
		cancel()
		traces.End(span, err)
		res := result(err)
		s.opDuration.WithLabelValues(op, entity, res).Observe(time.Since(start).Seconds())
		log.Trace("store operation", "op", op, "entity", entity, "stream", stream, "result", res, "duration", time.Since(start))
	}
}
