package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelWarn)

	logger.Info("info message")
	logger.Warn("warning message", slog.String("component", "planner"))

	output := buf.String()
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, `"level":"WARN"`)
	assert.Contains(t, output, `"component":"planner"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "query failed", assert.AnError, slog.String("query_id", "q1"))
	LogError(nil, "ignored", assert.AnError)

	output := buf.String()
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, `"msg":"query failed"`)
	assert.Contains(t, output, `"query_id":"q1"`)
	assert.Contains(t, output, assert.AnError.Error())
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogOperation(logger, "footpaths_built", slog.Int("edges", 12), slog.Duration("duration", 0))
	output := buf.String()
	assert.Contains(t, output, `"msg":"footpaths_built"`)
	assert.Contains(t, output, `"edges":12`)
	assert.NotContains(t, output, `"duration"`)

	buf.Reset()
	LogOperation(logger, "snapshot_loaded", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), `"duration"`)
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
