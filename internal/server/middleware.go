package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/atlas/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// QueryMetrics records every routed request by route template and status.
func QueryMetrics(m *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" || route == "/metrics" || route == "/health" {
			return
		}
		m.RecordQuery(c.Request.Context(), route, c.Writer.Status())
	}
}

// SyncKeyAuth checks the bearer key against SYNC_API_KEY_HASH. With no hash
// configured the trigger is open.
func (s *Server) SyncKeyAuth() gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(s.cfg.HTTP.SyncKeyHash))
	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.Next()
			return
		}
		key, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) TriggerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			obslogger.WithContext(ctx, s.log).Warn("sync trigger rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			secs := int(res.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
