package oc

import (
	"context"

	"go.opencensus.io/trace"
)

// DefaultSampler samples every span. The manager runs during boot
// bring-up where the handful of operations traced is tiny; sampling
// them all costs nothing and loses nothing.
var DefaultSampler = trace.AlwaysSample()

// StartSpan wraps go.opencensus.io/trace.StartSpan.
func StartSpan(ctx context.Context, name string, o ...trace.StartOption) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, name, o...)
}

// SetSpanStatus sets the span status from err. A nil err leaves the
// zero (OK) status in place.
func SetSpanStatus(span *trace.Span, err error) {
	status := trace.Status{}
	if err != nil {
		status.Code = toStatusCode(err)
		status.Message = err.Error()
	}
	span.SetStatus(status)
}
