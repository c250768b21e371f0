// Package trace implements the gateway's trace emitter (C8): it builds spans
// around request dispatch, provider invocation, and MCP tool calls, and
// forwards finished spans to an external columnar sink in batches. Emitter
// failure never affects the request path — the sink is a best-effort,
// out-of-band collaborator, matching the spec's framing of persistent trace
// storage as an append-only external system.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Span mirrors the spec's immutable-once-finished Span record: trace_id,
// span_id, parent_id, operation name, microsecond start/finish timestamps,
// and a flat string-keyed attribute bag (model, provider, token counts,
// cost, tool-iteration count, finish reason, error kind).
type Span struct {
	TraceID       string
	SpanID        string
	ParentID      string
	OperationName string
	StartTimeUs   int64
	FinishTimeUs  int64
	FinishDate    string
	Attributes    map[string]string
}

// NewTraceID generates a fresh trace identifier for a root span.
func NewTraceID() string { return uuid.NewString() }

// NewSpanID generates a fresh span identifier.
func NewSpanID() string { return uuid.NewString() }

// Builder assembles one Span's lifecycle: Start captures the opening
// timestamp and identifiers; Finish computes the closing timestamp,
// snapshots attributes, and returns the immutable Span.
type Builder struct {
	span       Span
	attributes map[string]string
}

// StartSpan begins a new span. traceID is empty for a root span (a fresh one
// is generated); parentID is empty for a root span.
func StartSpan(traceID, parentID, operation string, now time.Time) *Builder {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return &Builder{
		span: Span{
			TraceID:       traceID,
			SpanID:        NewSpanID(),
			ParentID:      parentID,
			OperationName: operation,
			StartTimeUs:   now.UnixMicro(),
		},
		attributes: make(map[string]string),
	}
}

// TraceID returns the span's trace identifier, for starting child spans.
func (b *Builder) TraceID() string { return b.span.TraceID }

// SpanID returns the span's own identifier, for starting child spans.
func (b *Builder) SpanID() string { return b.span.SpanID }

// SetAttribute records a string attribute on the span.
func (b *Builder) SetAttribute(key, value string) {
	b.attributes[key] = value
}

// Finish closes the span at now and returns the immutable record ready to
// hand to an Emitter.
func (b *Builder) Finish(now time.Time) Span {
	b.span.FinishTimeUs = now.UnixMicro()
	b.span.FinishDate = now.UTC().Format("2006-01-02")
	b.span.Attributes = b.attributes
	return b.span
}
