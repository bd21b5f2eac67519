package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/application/usecase"
	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/service"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// FlexBool accepts JSON true/false as well as string spellings ("True", "1",
// "yes") that tabular exports produce.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = FlexBool(t)
	case string:
		*b = FlexBool(service.ParseInbound(t))
	default:
		*b = false
	}
	return nil
}

// MessagePayload is one source message as ingested. created_at accepts
// RFC 3339; created_at_raw carries the tabular-export format and is also the
// fallback when created_at does not parse.
type MessagePayload struct {
	TweetID      string   `json:"tweet_id"`
	AuthorID     string   `json:"author_id"`
	Text         string   `json:"text"`
	Inbound      FlexBool `json:"inbound"`
	CreatedAt    string   `json:"created_at"`
	CreatedAtRaw string   `json:"created_at_raw"`
	InReplyToID  string   `json:"in_reply_to_id"`
	QuotedID     string   `json:"quoted_id"`
}

// ConversationPayload is one thread as ingested.
type ConversationPayload struct {
	Messages []MessagePayload `json:"messages"`
}

func (p ConversationPayload) toEntities() []entity.Message {
	msgs := make([]entity.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		msg := entity.Message{
			ExternalID:    m.TweetID,
			AuthorID:      m.AuthorID,
			Text:          m.Text,
			Inbound:       bool(m.Inbound),
			ReplyParentID: m.InReplyToID,
			QuotedID:      m.QuotedID,
			TimestampRaw:  m.CreatedAtRaw,
		}
		if m.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
				msg.Timestamp = &t
			} else if msg.TimestampRaw == "" {
				msg.TimestampRaw = m.CreatedAt
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// BulkPayload is the request body of the bulk ingest endpoint.
type BulkPayload struct {
	Conversations []ConversationPayload `json:"conversations"`
}

// ItemResult is the per-conversation outcome of a bulk or stream ingest.
// Persisted-but-not-enqueued items carry their ids with enqueued false.
type ItemResult struct {
	Index          int    `json:"index"`
	Status         string `json:"status"` // accepted, invalid, backpressure, error
	ConversationID string `json:"conversation_id,omitempty"`
	RootTweetID    string `json:"root_tweet_id,omitempty"`
	MessageCount   int    `json:"message_count,omitempty"`
	Enqueued       bool   `json:"enqueued"`
	Error          string `json:"error,omitempty"`
}

// StreamSummary is the trailing line of a stream ingest response.
type StreamSummary struct {
	Accepted     int  `json:"accepted"`
	Rejected     int  `json:"rejected"`
	Backpressure bool `json:"backpressure"`
}

// ConversationHandler serves the ingest endpoints.
type ConversationHandler struct {
	ingest  *usecase.IngestUseCase
	bulkMax int
	logger  *zap.Logger
}

// NewConversationHandler creates the handler.
func NewConversationHandler(ingest *usecase.IngestUseCase, bulkMax int, logger *zap.Logger) *ConversationHandler {
	if bulkMax <= 0 {
		bulkMax = 500
	}
	return &ConversationHandler{
		ingest:  ingest,
		bulkMax: bulkMax,
		logger:  logger.With(zap.String("handler", "conversations")),
	}
}

// Create handles POST /api/v1/conversations.
func (h *ConversationHandler) Create(c *gin.Context) {
	if err := h.ingest.EnsureCapacity(); err != nil {
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_full"})
		return
	}

	var payload ConversationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), payload.toEntities())
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !result.Enqueued {
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":           "queue_full",
			"conversation_id": result.Conversation.ID,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"conversation_id": result.Conversation.ID,
		"root_tweet_id":   result.Conversation.RootExternalID,
		"message_count":   len(payload.Messages),
		"enqueued":        true,
	})
}

// CreateBulk handles POST /api/v1/conversations/bulk. Every conversation is
// attempted; the response is 207 with one result per input, in input order.
func (h *ConversationHandler) CreateBulk(c *gin.Context) {
	var payload BulkPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(payload.Conversations) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no conversations"})
		return
	}
	if len(payload.Conversations) > h.bulkMax {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "too many conversations in one request",
			"max":   h.bulkMax,
		})
		return
	}
	if err := h.ingest.EnsureCapacity(); err != nil {
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_full"})
		return
	}

	results := make([]ItemResult, 0, len(payload.Conversations))
	accepted := 0
	backpressure := false
	for i, conv := range payload.Conversations {
		result := h.ingestOne(c, i, conv)
		if result.Status == "accepted" {
			accepted++
		}
		if result.Status == "backpressure" {
			backpressure = true
		}
		results = append(results, result)
	}

	c.JSON(http.StatusMultiStatus, gin.H{
		"results":      results,
		"accepted":     accepted,
		"rejected":     len(results) - accepted,
		"backpressure": backpressure,
	})
}

// CreateStream handles POST /api/v1/conversations/bulk/stream. The request is
// NDJSON, one conversation per line; results stream back line by line,
// terminated by a summary object. Lines are flushed as they are produced so a
// slow upload sees progress immediately.
func (h *ConversationHandler) CreateStream(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")

	encoder := json.NewEncoder(c.Writer)
	if err := h.ingest.EnsureCapacity(); err != nil {
		c.Header("Retry-After", "60")
		c.Status(http.StatusServiceUnavailable)
		encoder.Encode(gin.H{"error": "queue_full", "retry_after": 60})
		return
	}
	c.Status(http.StatusOK)

	scanner := bufio.NewScanner(c.Request.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	summary := StreamSummary{}
	index := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if index >= h.bulkMax {
			encoder.Encode(gin.H{"error": "too_many_lines", "max": h.bulkMax})
			c.Writer.Flush()
			break
		}

		var payload ConversationPayload
		var result ItemResult
		if err := json.Unmarshal(line, &payload); err != nil {
			result = ItemResult{Index: index, Status: "invalid", Error: "invalid JSON: " + err.Error()}
		} else {
			result = h.ingestOne(c, index, payload)
		}

		if result.Status == "accepted" {
			summary.Accepted++
		} else {
			summary.Rejected++
		}

		if result.Status == "backpressure" {
			summary.Backpressure = true
			encoder.Encode(gin.H{
				"index":           result.Index,
				"error":           "queue_full",
				"retry_after":     60,
				"conversation_id": result.ConversationID,
			})
		} else {
			encoder.Encode(result)
		}
		c.Writer.Flush()
		index++
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("stream ingest read failed", zap.Error(err))
	}

	encoder.Encode(gin.H{"_summary": summary})
	c.Writer.Flush()
}

func (h *ConversationHandler) ingestOne(c *gin.Context, index int, payload ConversationPayload) ItemResult {
	result, err := h.ingest.Ingest(c.Request.Context(), payload.toEntities())
	switch {
	case apperrors.IsInvalidInput(err):
		return ItemResult{Index: index, Status: "invalid", Error: err.Error()}
	case err != nil:
		h.logger.Error("ingest failed", zap.Int("index", index), zap.Error(err))
		return ItemResult{Index: index, Status: "error", Error: "internal error"}
	case !result.Enqueued:
		return ItemResult{
			Index:          index,
			Status:         "backpressure",
			ConversationID: result.Conversation.ID,
			RootTweetID:    result.Conversation.RootExternalID,
			MessageCount:   len(payload.Messages),
		}
	default:
		return ItemResult{
			Index:          index,
			Status:         "accepted",
			ConversationID: result.Conversation.ID,
			RootTweetID:    result.Conversation.RootExternalID,
			MessageCount:   len(payload.Messages),
			Enqueued:       true,
		}
	}
}
