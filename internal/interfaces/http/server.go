package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/infrastructure/config"
	"github.com/threadsight/threadsight/internal/infrastructure/monitoring"
	"github.com/threadsight/threadsight/internal/interfaces/http/handlers"
)

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Conversations *handlers.ConversationHandler
	Insights      *handlers.InsightHandler
	Trends        *handlers.TrendsHandler
	Health        *handlers.HealthHandler
}

// Server is the HTTP front of the service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router with logging, metrics, and rate limiting.
func NewServer(
	cfg config.GatewayConfig,
	ingestCfg config.IngestConfig,
	h Handlers,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		LoggerMiddleware(logger),
		MetricsMiddleware(metrics),
		NewRateLimiter(ingestCfg.RateLimitRPM, metrics).Middleware(),
	)

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "threadsight", "status": "running"})
	})
	engine.GET("/health", h.Health.Get)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/conversations", h.Conversations.Create)
		v1.POST("/conversations/bulk", h.Conversations.CreateBulk)
		v1.POST("/conversations/bulk/stream", h.Conversations.CreateStream)
		v1.GET("/insights", h.Insights.List)
		v1.GET("/insights/:conversation_id", h.Insights.Get)
		v1.GET("/trends", h.Trends.Get)
	}

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
