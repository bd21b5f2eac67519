package http

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/infrastructure/monitoring"
)

// rateLimitExempt lists paths that never count against the per-client budget:
// operational surfaces and the service root.
var rateLimitExempt = []string{"/metrics", "/health", "/app", "/"}

func isRateLimitExempt(path string) bool {
	for _, prefix := range rateLimitExempt {
		if path == prefix || (prefix != "/" && strings.HasPrefix(path, prefix)) {
			return true
		}
	}
	return false
}

// RateLimiter enforces a per-client-IP sliding window over the trailing
// minute. State is process-local, matching the single-instance deployment.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history map[string][]time.Time
	metrics *monitoring.Metrics
}

// NewRateLimiter creates a limiter allowing limit requests per minute per IP.
func NewRateLimiter(limit int, metrics *monitoring.Metrics) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  time.Minute,
		history: make(map[string][]time.Time),
		metrics: metrics,
	}
}

// allow records one request for the client and reports whether it fits the
// window.
func (rl *RateLimiter) allow(clientIP string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	recent := rl.history[clientIP][:0]
	for _, at := range rl.history[clientIP] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= rl.limit {
		rl.history[clientIP] = recent
		return false
	}
	rl.history[clientIP] = append(recent, now)
	return true
}

// Middleware applies the rate limit, exempting operational paths.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 || isRateLimitExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP(), time.Now()) {
			rl.metrics.RateLimited.Inc()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// MetricsMiddleware records request latency per method, route, and status.
func MetricsMiddleware(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
