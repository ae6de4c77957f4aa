package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Run identifies one operator command so the log lines of its units of work
// can be told apart from those of concurrent runs against the same host.
type Run struct {
	ID      string
	Command string

	// TraceID is set when the command runs under a sampled span.
	TraceID string
}

type runKey struct{}

// NewRun starts a run for command, picking up the trace of the span in ctx.
func NewRun(ctx context.Context, command string) *Run {
	r := &Run{ID: uuid.NewString(), Command: command}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.TraceID = sc.TraceID().String()
	}
	return r
}

// WithRun binds r to ctx.
func WithRun(ctx context.Context, r *Run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

// RunFrom returns the run bound to ctx, or nil.
func RunFrom(ctx context.Context) *Run {
	r, _ := ctx.Value(runKey{}).(*Run)
	return r
}
