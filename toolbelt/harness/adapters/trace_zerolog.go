package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

type spanLoggerKey struct{}

// ZerologTracer implements the Tracer interface on top of zerolog. Spans are
// log pairs at Debug level; a failed span ends at Error level.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan opens a span and returns the enriched context plus the finish
// function. The span logger rides the context so events inside the span
// inherit its fields.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.logger.With().Str("span", name)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()

	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)
	start := time.Now()

	spanLogger.Debug().Msg("span start")

	finish := func(err error) {
		event := spanLogger.Debug()
		if err != nil {
			event = spanLogger.Error().Err(err)
		}
		event.Dur("duration", time.Since(start)).Msg("span end")
	}

	return ctx, finish
}

// Event logs a point-in-time event, attached to the surrounding span when
// one is on the context.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if spanLogger, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = spanLogger
	}

	event := logger.Debug().Str("event", name)
	for k, v := range attrs {
		event = event.Interface(k, v)
	}
	event.Msg("trace event")
}

// Ensure ZerologTracer implements the Tracer interface.
var _ ports.Tracer = (*ZerologTracer)(nil)
