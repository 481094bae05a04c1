package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mkarls/showcased/types"
)

func createContextWithSpan() (context.Context, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	tracer := tp.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	return ctx, func() {
		span.End()
		_ = tp.Shutdown(context.Background())
	}
}

func TestOTELHookAddsTraceIDs(t *testing.T) {
	ctx, cleanup := createContextWithSpan()
	defer cleanup()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(OTELHook{})

	logger.Info().Ctx(ctx).Msg("with span")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "trace_id")
	assert.Contains(t, entry, "span_id")
}

func TestOTELHookWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(OTELHook{})

	logger.Info().Msg("no span")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
}

func TestLoggerDecisionFields(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf)}

	l.LogDecision(context.Background(), &types.Decision{
		EventID:   "evt-1",
		UserID:    "user-1",
		Outcome:   types.OutcomeViolation,
		Reason:    types.ReasonMissingLink,
		CreatedAt: time.Now(),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "violation", entry["outcome"])
	assert.Equal(t, "missing_link", entry["reason"])
}

func TestInitOTELWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := InitOTEL(context.Background(), Config{
		ServiceName:    "showcased-test",
		ServiceVersion: "test",
	})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	require.NotNil(t, PrometheusRegistry)
	require.NotNil(t, EventsReceived)
	require.NotNil(t, DecisionsTotal)
	require.NotNil(t, PipelineDuration)
	require.NotNil(t, StoreRevision)
}
