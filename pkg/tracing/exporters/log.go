package exporters

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes one debug line per finished span. It is meant for local runs
// where no collector is available.
type LogExporter struct {
	logger ectologger.Logger
}

// NewLogExporter creates an exporter writing to logger
func NewLogExporter(logger ectologger.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(_ context.Context, spans []trace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := map[string]any{
			"span":        s.Name(),
			"trace_id":    s.SpanContext().TraceID().String(),
			"span_id":     s.SpanContext().SpanID().String(),
			"duration_ms": s.EndTime().Sub(s.StartTime()).Milliseconds(),
		}
		if s.Parent().IsValid() {
			fields["parent_id"] = s.Parent().SpanID().String()
		}
		if st := s.Status(); st.Code == codes.Error {
			fields["error"] = st.Description
		}
		e.logger.WithFields(fields).Debug("span")
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
