package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestContextFieldsAndSource(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")
	t.Cleanup(func() { defaultLogger = nil })

	ctx := WithSession(context.Background(), "u-1", "s-1")
	ctx = WithContext(ctx, TraceIDKey, "t-1")
	Info(ctx, "session started", "round", 1)

	m := decodeLine(t, &buf)
	assert.Equal(t, "session started", m["msg"])
	assert.Equal(t, "u-1", m["user_id"])
	assert.Equal(t, "s-1", m["session_id"])
	assert.Equal(t, "t-1", m["trace_id"])
	assert.EqualValues(t, 1, m["round"])

	src, ok := m["source"].(map[string]any)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(src["file"].(string), "logger_test.go"))
}

func TestErrorAndLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn", "json")
	t.Cleanup(func() { defaultLogger = nil })

	Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	Error(context.Background(), "save failed", errors.New("boom"))
	m := decodeLine(t, &buf)
	assert.Equal(t, "ERROR", m["level"])
	assert.Equal(t, "boom", m["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel(" Debug ").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}
