package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ZeroLogger struct {
	logger zerolog.Logger
}

func NewZeroLog(env string) *ZeroLogger {
	return NewWithWriter(env, os.Stdout)
}

func NewWithWriter(env string, w io.Writer) *ZeroLogger {
	level := zerolog.DebugLevel
	if env == "production" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZeroLogger{logger: logger}
}

// helper to convert our abstraction []Field -> zerolog fields
func convert(fields []Field) map[string]any {
	items := make(map[string]any, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && err != nil {
			items[f.Key] = err.Error()
			continue
		}
		items[f.Key] = f.Value
	}
	return items
}

// withTrace attaches trace_id and span_id when ctx carries a sampled span.
func withTrace(ctx context.Context, e *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return e
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return e
	}
	return e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
}

func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	withTrace(ctx, l.logger.Debug()).Fields(convert(fields)).Msg(msg)
}

func (l *ZeroLogger) Info(ctx context.Context, msg string, fields ...Field) {
	withTrace(ctx, l.logger.Info()).Fields(convert(fields)).Msg(msg)
}

func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	withTrace(ctx, l.logger.Warn()).Fields(convert(fields)).Msg(msg)
}

func (l *ZeroLogger) Error(ctx context.Context, msg string, fields ...Field) {
	withTrace(ctx, l.logger.Error()).Fields(convert(fields)).Msg(msg)
}

// With returns a child logger that always carries the given fields.
func (l *ZeroLogger) With(fields ...Field) Logger {
	return &ZeroLogger{logger: l.logger.With().Fields(convert(fields)).Logger()}
}
