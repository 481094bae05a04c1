package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkarls/showcased/types"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for the enforcement pipeline

func (l *Logger) LogEventDropped(ctx context.Context, eventID, why string) {
	l.WithContext(ctx).Debug().
		Str("event_id", eventID).
		Str("why", why).
		Msg("event dropped")
}

func (l *Logger) LogMalformedEvent(ctx context.Context, eventType string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("event_type", eventType).
		Msg("malformed event dropped")
}

func (l *Logger) LogDecision(ctx context.Context, d *types.Decision) {
	evt := l.WithContext(ctx).Info().
		Str("event_id", d.EventID).
		Str("user_id", d.UserID).
		Str("outcome", string(d.Outcome))
	if d.Reason != "" {
		evt = evt.Str("reason", string(d.Reason))
	}
	evt.Msg("decision finalized")
}

func (l *Logger) LogEnforcement(ctx context.Context, eventID, action string) {
	l.WithContext(ctx).Info().
		Str("event_id", eventID).
		Str("action", action).
		Msg("enforcement action applied")
}

func (l *Logger) LogEnforcementFailed(ctx context.Context, eventID, action string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("event_id", eventID).
		Str("action", action).
		Msg("enforcement action failed")
}

func (l *Logger) LogStoreError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("state store operation failed")
}

func (l *Logger) LogEscalation(ctx context.Context, userID string, strikes int) {
	l.WithContext(ctx).Warn().
		Str("user_id", userID).
		Int("strikes", strikes).
		Msg("user escalated to moderators")
}
