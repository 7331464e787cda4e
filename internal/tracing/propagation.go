package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields found in ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		logCtx = logCtx.Str("turn_id", tc.TurnID)
	}
	if tc.SessionKey != "" {
		logCtx = logCtx.Str("session_key", tc.SessionKey)
	}

	return logCtx.Logger()
}

// Detach returns a background context carrying the tracing values of ctx.
// Used for work that must outlive the request that started it.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.TurnID != "" {
		out = WithTurnID(out, tc.TurnID)
	}
	if tc.SessionKey != "" {
		out = WithSessionKey(out, tc.SessionKey)
	}
	return out
}
