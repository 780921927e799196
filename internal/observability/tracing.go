package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider returns an always-sampling provider that writes every
// finished span to logger at debug.
func NewTracerProvider(logger zerolog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(logSpanProcessor{logger: logger}),
	)
}

type logSpanProcessor struct {
	logger zerolog.Logger
}

func (logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	event := p.logger.Debug()
	if s.Status().Code == codes.Error {
		event = p.logger.Warn().Str("error", s.Status().Description)
	}
	event.
		Str("span", s.Name()).
		Str("trace_id", s.SpanContext().TraceID().String()).
		Dur("duration", s.EndTime().Sub(s.StartTime())).
		Msg("observability.span")
}

func (logSpanProcessor) Shutdown(context.Context) error { return nil }

func (logSpanProcessor) ForceFlush(context.Context) error { return nil }
