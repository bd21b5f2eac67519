package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/threadsight/threadsight/internal/infrastructure/llm"
	"github.com/threadsight/threadsight/internal/infrastructure/queue"
)

// HealthHandler reports liveness plus the two signals operators care about
// first: queue depth and breaker state.
type HealthHandler struct {
	queue   *queue.ConversationQueue
	breaker *llm.CircuitBreaker
}

// NewHealthHandler creates the handler.
func NewHealthHandler(q *queue.ConversationQueue, breaker *llm.CircuitBreaker) *HealthHandler {
	return &HealthHandler{queue: q, breaker: breaker}
}

// Get handles GET /health.
func (h *HealthHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"process_id":    os.Getpid(),
		"queue_depth":   h.queue.Depth(),
		"queue_max":     h.queue.MaxDepth(),
		"circuit_state": h.breaker.State().String(),
	})
}
