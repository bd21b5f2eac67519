package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/application/usecase"
	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// InsightView is the API shape of one insight.
type InsightView struct {
	ConversationID   string         `json:"conversation_id"`
	Sentiment        string         `json:"sentiment,omitempty"`
	Topics           []string       `json:"topics"`
	Gaps             []string       `json:"gaps"`
	RawOutput        map[string]any `json:"raw_output,omitempty"`
	PromptTokens     *int           `json:"prompt_tokens,omitempty"`
	CompletionTokens *int           `json:"completion_tokens,omitempty"`
	CostEstimate     *float64       `json:"cost_estimate,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	SkippedReason    string         `json:"skipped_reason,omitempty"`
}

func insightView(insight *entity.Insight) InsightView {
	view := InsightView{
		ConversationID:   insight.ConversationID,
		Sentiment:        insight.Sentiment,
		Topics:           insight.Topics,
		Gaps:             insight.Gaps,
		RawOutput:        insight.RawOutput,
		PromptTokens:     insight.PromptTokens,
		CompletionTokens: insight.CompletionTokens,
		CostEstimate:     insight.CostEstimate,
		CreatedAt:        insight.CreatedAt,
		SkippedReason:    insight.SkippedReason,
	}
	if view.Topics == nil {
		view.Topics = []string{}
	}
	if view.Gaps == nil {
		view.Gaps = []string{}
	}
	return view
}

// InsightHandler serves insight listings and lookups.
type InsightHandler struct {
	insights *usecase.InsightQueryUseCase
	logger   *zap.Logger
}

// NewInsightHandler creates the handler.
func NewInsightHandler(insights *usecase.InsightQueryUseCase, logger *zap.Logger) *InsightHandler {
	return &InsightHandler{
		insights: insights,
		logger:   logger.With(zap.String("handler", "insights")),
	}
}

// List handles GET /api/v1/insights with optional conversation_id, sentiment,
// topic, date_from, date_to, limit, and offset query parameters.
func (h *InsightHandler) List(c *gin.Context) {
	filter := repository.InsightFilter{
		ConversationID: c.Query("conversation_id"),
		Sentiment:      c.Query("sentiment"),
		Topic:          c.Query("topic"),
	}

	var err error
	if filter.DateFrom, err = parseDateParam(c.Query("date_from")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid date_from"})
		return
	}
	if filter.DateTo, err = parseDateParam(c.Query("date_to")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid date_to"})
		return
	}
	filter.Limit = intParam(c, "limit", 0)
	filter.Offset = intParam(c, "offset", 0)
	filter = usecase.NormalizeFilter(filter)

	insights, total, err := h.insights.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list insights failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]InsightView, 0, len(insights))
	for _, insight := range insights {
		items = append(items, insightView(insight))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Get handles GET /api/v1/insights/:conversation_id.
func (h *InsightHandler) Get(c *gin.Context) {
	insight, err := h.insights.Get(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("get insight failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, insightView(insight))
}

// parseDateParam accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func intParam(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
