package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/application/usecase"
)

// TrendsHandler serves the trend aggregation endpoint.
type TrendsHandler struct {
	trends *usecase.TrendsUseCase
	logger *zap.Logger
}

// NewTrendsHandler creates the handler.
func NewTrendsHandler(trends *usecase.TrendsUseCase, logger *zap.Logger) *TrendsHandler {
	return &TrendsHandler{
		trends: trends,
		logger: logger.With(zap.String("handler", "trends")),
	}
}

// Get handles GET /api/v1/trends?window=7d. Unparseable windows fall back to
// the 7-day default instead of erroring.
func (h *TrendsHandler) Get(c *gin.Context) {
	report, err := h.trends.Trends(c.Request.Context(), c.DefaultQuery("window", "7d"))
	if err != nil {
		h.logger.Error("trends aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, report)
}
