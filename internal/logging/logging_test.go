package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestNewAppliesLevelAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "scheduler", "production", "warn")

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	entry := decode(t, &buf)
	assert.Equal(t, "scheduler", entry["service"])
	assert.Equal(t, "kept", entry["message"])
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "scheduler", "production", "nonsense")

	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestFromContextAddsRequestAndTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(&buf, "scheduler", "production", "info")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = trace.ContextWithSpanContext(ctx, sc)

	l := FromContext(ctx, base)
	l.Info().Msg("hello")

	entry := decode(t, &buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])
}

func TestFromContextWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(&buf, "scheduler", "production", "info")

	l := FromContext(context.Background(), base)
	l.Info().Msg("plain")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "request_id")
	assert.NotContains(t, entry, "trace_id")
}
