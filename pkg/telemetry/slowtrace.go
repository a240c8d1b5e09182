package telemetry

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type slowTraceExporter struct {
	next      sdktrace.SpanExporter
	threshold time.Duration
}

var _ sdktrace.SpanExporter = (*slowTraceExporter)(nil)

// NewSlowTraceExporter forwards the spans of a batch whose trace has a root span
// lasting at least threshold. Spans of other traces are dropped. Traces whose
// root span ends in a later batch are dropped too.
func NewSlowTraceExporter(next sdktrace.SpanExporter, threshold time.Duration) sdktrace.SpanExporter {
	return &slowTraceExporter{next: next, threshold: threshold}
}

func (e *slowTraceExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	slow := make(map[trace.TraceID]struct{})
	for _, s := range spans {
		if s.Parent().IsValid() {
			continue
		}
		if s.EndTime().Sub(s.StartTime()) >= e.threshold {
			slow[s.SpanContext().TraceID()] = struct{}{}
		}
	}
	if len(slow) == 0 {
		return nil
	}

	kept := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, s := range spans {
		if _, ok := slow[s.SpanContext().TraceID()]; ok {
			kept = append(kept, s)
		}
	}
	return e.next.ExportSpans(ctx, kept)
}

func (e *slowTraceExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}
