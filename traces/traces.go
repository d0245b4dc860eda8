package traces

import (
	"context"

	"github.com/iidesho/bragi/sbragi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iidesho/aggregates/webserver/health"
)

var (
	log    = sbragi.WithLocalScope(sbragi.LevelInfo)
	Traces trace.Tracer
)

func Init() {
	name := health.Name
	if name == "" {
		name = "aggregates"
	}
	Traces = otel.Tracer(name)
	log.Debug("tracer initialised", "name", name)
}

// Start opens a span named op. Without Init the global tracer provider is used.
func Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := Traces
	if tracer == nil {
		tracer = otel.Tracer("aggregates")
	}
	return tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
