package observability

import (
	"context"
	"sync"

	"github.com/danmuck/edgerpc/internal/instrumentation"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsHooks feeds the rpc_* series.
type MetricsHooks struct{}

func (MetricsHooks) OnBeforeCall(context.Context, *instrumentation.CallMetadata) {
	RegisterMetrics()
	rpcInFlight.Inc()
}

func (MetricsHooks) OnCallLog(context.Context, *instrumentation.CallMetadata, string) {}

func (MetricsHooks) OnAfterCall(_ context.Context, md *instrumentation.CallMetadata) {
	rpcInFlight.Dec()
	outcome := "ok"
	if md.Error != nil {
		outcome = protocol.ErrorName(md.Error)
	}
	RecordCall(md.Type, md.Method, outcome, md.Duration())
}

// LogHooks writes one line per finished call; call logs go out at trace.
type LogHooks struct {
	Logger zerolog.Logger
}

func (h LogHooks) OnBeforeCall(context.Context, *instrumentation.CallMetadata) {}

func (h LogHooks) OnCallLog(_ context.Context, md *instrumentation.CallMetadata, message string) {
	h.Logger.Trace().Str("call", md.ID).Str("guid", md.ObjectID).Msg(message)
}

func (h LogHooks) OnAfterCall(_ context.Context, md *instrumentation.CallMetadata) {
	event := h.Logger.Debug()
	if md.Error != nil {
		event = h.Logger.Warn().Err(md.Error)
	}
	event.
		Str("conn", md.ConnID).
		Str("call", md.ID).
		Str("type", md.Type).
		Str("method", md.Method).
		Str("guid", md.ObjectID).
		Dur("duration", md.Duration()).
		Msg("observability.LogHooks call")
}

// TraceHooks records one span per call. Span lookup is keyed by the
// metadata pointer, which the dispatcher keeps for the whole call.
type TraceHooks struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[*instrumentation.CallMetadata]trace.Span
}

func NewTraceHooks(tracer trace.Tracer) *TraceHooks {
	return &TraceHooks{tracer: tracer, spans: make(map[*instrumentation.CallMetadata]trace.Span)}
}

func (h *TraceHooks) OnBeforeCall(ctx context.Context, md *instrumentation.CallMetadata) {
	_, span := h.tracer.Start(ctx, md.Type+"."+md.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(md.StartTime),
		trace.WithAttributes(
			attribute.String("rpc.system", "edgerpc"),
			attribute.String("rpc.service", md.Type),
			attribute.String("rpc.method", md.Method),
			attribute.String("edgerpc.guid", md.ObjectID),
			attribute.String("edgerpc.call_id", md.ID),
			attribute.String("edgerpc.conn_id", md.ConnID),
		),
	)
	h.mu.Lock()
	h.spans[md] = span
	h.mu.Unlock()
}

func (h *TraceHooks) OnCallLog(_ context.Context, md *instrumentation.CallMetadata, message string) {
	h.mu.Lock()
	span, ok := h.spans[md]
	h.mu.Unlock()
	if ok {
		span.AddEvent(message)
	}
}

func (h *TraceHooks) OnAfterCall(_ context.Context, md *instrumentation.CallMetadata) {
	h.mu.Lock()
	span, ok := h.spans[md]
	delete(h.spans, md)
	h.mu.Unlock()
	if !ok {
		return
	}
	if md.Error != nil {
		span.RecordError(md.Error)
		span.SetStatus(codes.Error, protocol.ErrorName(md.Error))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(md.EndTime))
}
