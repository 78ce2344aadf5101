package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Output: &buf})
	l.Info("hidden")
	l.Warn("shown", "k", 1)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.EqualValues(t, 1, rec["k"])
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	FromContext(context.Background()).Info("plain")
	assert.NotContains(t, buf.String(), "request_id")
}
