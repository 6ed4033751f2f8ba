package logger

import "context"

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the logging abstraction shared by services and transport code.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Err is shorthand for an "error" field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Nop discards everything. Useful in tests.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...Field) {}
func (Nop) Info(context.Context, string, ...Field)  {}
func (Nop) Warn(context.Context, string, ...Field)  {}
func (Nop) Error(context.Context, string, ...Field) {}
func (n Nop) With(...Field) Logger                  { return n }
