package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/packclaim/internal/auditcontext"
	obscontext "github.com/smallbiznis/packclaim/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Error classes understood by the request logger.
const (
	ErrorClassValidation   = "validation_error"
	ErrorClassConflict     = "conflict"
	ErrorClassTemporal     = "temporal"
	ErrorClassAuthenticity = "authenticity"
	ErrorClassInternal     = "internal"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (class string, code string)
}

// GinMiddleware assigns a request id, seeds the audit context and logs each request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := c.Request.Context()
		ctx = obscontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if packageID := strings.TrimSpace(c.Param("package_id")); packageID != "" {
			fields = append(fields, zap.String("package_id", packageID))
		}

		var errorClass string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorClass, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_class", errorClass),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		FromContext(c.Request.Context()).Log(levelFor(route, status, errorClass), "http_request", fields...)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// Lost races and deadline outcomes are expected traffic, not failures.
func levelFor(route string, status int, errorClass string) zapcore.Level {
	switch {
	case strings.EqualFold(route, "/metrics"), strings.EqualFold(route, "/health"):
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case errorClass == ErrorClassAuthenticity:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}
