package logger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code).
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns the request id, tags the context with the float the
// route addresses and writes one http.request line per call.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID(c))
		if id, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil && id > 0 {
			ctx = obscontext.WithFloatID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var code string
			if cfg.ErrorClassifier != nil {
				errorType, code = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", code))
			if cfg.Debug && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Error(lastErr.Err))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, status, errorType), "http.request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(requestIDHeader, id)
	return id
}

// requestLevel keeps probes and caller mistakes out of the info stream.
func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest && errorType == "validation_error":
		return zapcore.DebugLevel
	case status == http.StatusTooManyRequests || status == http.StatusUnauthorized:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
