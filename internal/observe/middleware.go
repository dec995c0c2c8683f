package observe

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns a gin middleware that:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace).
//  2. Starts an OTel span for the HTTP request.
//  3. Sets the X-Correlation-ID response header from the trace ID.
//  4. Records request duration to [Metrics.HTTPRequestDuration], labelled
//     with the matched route pattern rather than the raw URL so parameterised
//     paths do not explode the label cardinality.
//  5. Logs request completion with status code, duration, and trace info.
//  6. Ends the span on completion with status attributes.
func Middleware(m *Metrics) gin.HandlerFunc {
	prop := propagation.TraceContext{}

	return func(c *gin.Context) {
		start := time.Now()

		// 1. Extract W3C trace context from incoming headers.
		ctx := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		// 2. Start a span for this HTTP request.
		ctx, span := StartSpan(ctx, "HTTP "+c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.URLPath(c.Request.URL.Path),
			),
		)
		defer span.End()

		// 3. Set correlation ID from trace ID.
		cid := CorrelationID(ctx)
		if cid != "" {
			c.Writer.Header().Set("X-Correlation-ID", cid)
		}

		// Inject trace context into response headers for downstream.
		prop.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Request = c.Request.WithContext(ctx)

		// Serve the request.
		c.Next()

		// 4. Record duration.
		duration := time.Since(start)
		if m != nil {
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", c.Request.Method),
					attribute.String("path", route),
				),
			)
		}

		// Set span status attributes.
		span.SetAttributes(semconv.HTTPResponseStatusCode(c.Writer.Status()))

		// 5. Log completion.
		slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
			slog.String("trace_id", cid),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", duration),
		)
	}
}
