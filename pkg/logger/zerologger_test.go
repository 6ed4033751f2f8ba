package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("development", &buf)

	l.Info(context.Background(), "session created",
		Field{Key: "session_id", Value: "abc"},
		Err(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "session created", entry["message"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestZeroLogger_ProductionDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)

	l.Debug(context.Background(), "noisy")
	assert.Empty(t, buf.String())

	l.Warn(context.Background(), "kept")
	assert.Contains(t, buf.String(), `"kept"`)
}

func TestZeroLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("development", &buf).With(Field{Key: "component", Value: "reaper"})

	l.Error(context.Background(), "pass failed")
	assert.Contains(t, buf.String(), `"component":"reaper"`)
}
