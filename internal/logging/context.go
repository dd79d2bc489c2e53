package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TraceHeader carries a caller-supplied request ID
const TraceHeader = "X-Trace-ID"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context, or the default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithTraceContext adds a fresh trace ID to the logger carried by ctx
func WithTraceContext(ctx context.Context) (context.Context, zerolog.Logger) {
	l := FromContext(ctx).With().Str("trace_id", GenerateTraceID()).Logger()
	return NewContext(ctx, l), l
}

// PositionContext creates a logger context for position operations
func PositionContext(l zerolog.Logger, positionID, symbol, direction string) zerolog.Logger {
	return l.With().
		Str("component", "position").
		Str("position_id", positionID).
		Str("symbol", symbol).
		Str("direction", direction).
		Logger()
}

// SignalContext creates a logger context for entry and trap signals
func SignalContext(l zerolog.Logger, symbol, direction string, confidence float64) zerolog.Logger {
	return l.With().
		Str("component", "signal").
		Str("symbol", symbol).
		Str("direction", direction).
		Float64("confidence", confidence).
		Logger()
}

// AnalysisContext creates a logger context for one analysis cycle
func AnalysisContext(l zerolog.Logger, symbol, timeframe string, bars int) zerolog.Logger {
	return l.With().
		Str("component", "analysis").
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("bars", bars).
		Logger()
}

// GinMiddleware logs each request with a trace ID and stores the request
// logger in the request context
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = GenerateTraceID()
		}
		c.Header(TraceHeader, traceID)

		// Create logger with request context
		l := base.With().
			Str("component", "http").
			Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), l))

		c.Next()

		l.Info().
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
