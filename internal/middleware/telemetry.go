package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/correlation-regime-go/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// ContextRequestID is the gin context key holding the request id.
const ContextRequestID = "request_id"

// RequestTelemetry assigns a request id, annotates the active server span
// (started by otelgin) and writes one access log line per request, plus an
// error line tagged with the request id on server errors. Paths in
// skip are neither annotated nor logged.
func RequestTelemetry(logger *logging.StandardLogger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("http.request_id", requestID),
				attribute.Int("http.response.size_bytes", c.Writer.Size()),
			)
			if subject := c.GetString(ContextSubject); subject != "" {
				span.SetAttributes(attribute.String("enduser.id", subject))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, "server error")
			}
		}

		if logger != nil {
			logger.LogAPIRequest(c.Request.Method, c.Request.URL.Path, status,
				time.Since(start).Milliseconds(), c.GetString(ContextSubject))
			if status >= 500 {
				logger.WithRequestID(requestID).Error("Request failed",
					"method", c.Request.Method, "path", c.Request.URL.Path, "status", status)
			}
		}
	}
}
