// Package tracing provides span plumbing for command and tick execution.
// Two tracer flavours exist: a process-local tracer whose only job is
// producing trace/span IDs for log correlation, and an OpenTelemetry-backed
// tracer for sites that export spans.
package tracing

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// SpanContext carries the identifiers of one span.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Start, End   time.Time
}

// Span is a unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
}

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	Noop() bool
}

type noopTracer struct{}
type noopSpan struct{}

func (noopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopTracer) Noop() bool             { return true }
func (noopSpan) End()                     {}
func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) Context() SpanContext     { return SpanContext{} }

type localTracer struct{}

type localSpan struct {
	mu    sync.Mutex
	ctx   SpanContext
	ended bool
	attrs map[string]any
}

// NewTracer returns a correlation-only tracer, or a noop when disabled.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return noopTracer{}
	}
	return localTracer{}
}

func (localTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := spanFromContext(ctx)
	traceID := ""
	parentID := ""
	if parent != nil {
		traceID = parent.ctx.TraceID
		parentID = parent.ctx.SpanID
	}
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &localSpan{
		ctx:   SpanContext{TraceID: traceID, SpanID: newID(8), ParentSpanID: parentID, Start: time.Now()},
		attrs: map[string]any{"name": name},
	}
	return context.WithValue(ctx, spanKey{}, sp), sp
}

func (localTracer) Noop() bool { return false }

func (s *localSpan) End() {
	s.mu.Lock()
	if !s.ended {
		s.ctx.End = time.Now()
		s.ended = true
	}
	s.mu.Unlock()
}

func (s *localSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

func (s *localSpan) Context() SpanContext { return s.ctx }

type spanKey struct{}

func spanFromContext(ctx context.Context) *localSpan {
	if ctx == nil {
		return nil
	}
	sp, _ := ctx.Value(spanKey{}).(*localSpan)
	return sp
}

// ExtractIDs returns the trace and span IDs active in ctx, or empty strings.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	if sp := spanFromContext(ctx); sp != nil {
		return sp.ctx.TraceID, sp.ctx.SpanID
	}
	return otelExtractIDs(ctx)
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = cryptorand.Read(b)
	return hex.EncodeToString(b)
}
