package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
	"github.com/threadsight/threadsight/internal/domain/service"
	"github.com/threadsight/threadsight/internal/infrastructure/monitoring"
	"github.com/threadsight/threadsight/internal/infrastructure/queue"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// IngestResult is the outcome of ingesting one conversation. Enqueued is
// false when the thread was persisted but the analysis queue was full; the
// caller surfaces that as backpressure.
type IngestResult struct {
	Conversation *entity.Conversation
	Enqueued     bool
}

// IngestUseCase normalizes, persists, and enqueues conversation threads.
type IngestUseCase struct {
	conversations repository.ConversationRepository
	queue         *queue.ConversationQueue
	metrics       *monitoring.Metrics
	logger        *zap.Logger
}

// NewIngestUseCase creates the use case.
func NewIngestUseCase(
	conversations repository.ConversationRepository,
	q *queue.ConversationQueue,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *IngestUseCase {
	return &IngestUseCase{
		conversations: conversations,
		queue:         q,
		metrics:       metrics,
		logger:        logger.With(zap.String("component", "ingest")),
	}
}

const (
	maxMessagesPerConversation = 500
	maxExternalIDLen           = 64
)

// EnsureCapacity errors when the analysis queue has no room. Advisory, used
// by the ingest endpoints to refuse requests up front; a queue that fills
// between this check and the enqueue still surfaces as per-item backpressure.
func (u *IngestUseCase) EnsureCapacity() error {
	if !u.queue.CanAccept() {
		return apperrors.NewServiceUnavailableError("analysis queue full")
	}
	return nil
}

// Ingest validates and normalizes the messages, infers the thread root,
// upserts the conversation, and enqueues it for analysis. Persistence always
// happens; only the enqueue is subject to backpressure, so a full queue never
// loses ingested data.
func (u *IngestUseCase) Ingest(ctx context.Context, messages []entity.Message) (*IngestResult, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	normalized := service.NormalizeMessages(messages)
	root := service.RootExternalID(normalized)

	conv, err := u.conversations.Upsert(ctx, normalized, root)
	if err != nil {
		return nil, err
	}
	u.metrics.Ingested.Inc()

	enqueued := u.queue.Enqueue(conv.ID)
	if !enqueued {
		u.metrics.Backpressure.Inc()
		u.logger.Warn("analysis queue full",
			zap.String("conversation_id", conv.ID),
			zap.Int("queue_depth", u.queue.Depth()))
	}

	return &IngestResult{Conversation: conv, Enqueued: enqueued}, nil
}

func validateMessages(messages []entity.Message) error {
	if len(messages) == 0 {
		return apperrors.NewInvalidInputError("conversation has no messages")
	}
	if len(messages) > maxMessagesPerConversation {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("conversation exceeds %d messages", maxMessagesPerConversation))
	}
	for i, m := range messages {
		switch {
		case m.ExternalID == "":
			return apperrors.NewInvalidInputError(fmt.Sprintf("message %d has no tweet_id", i))
		case len(m.ExternalID) > maxExternalIDLen,
			len(m.ReplyParentID) > maxExternalIDLen,
			len(m.QuotedID) > maxExternalIDLen:
			return apperrors.NewInvalidInputError(fmt.Sprintf("message %d has an oversized id", i))
		case strings.TrimSpace(m.Text) == "":
			return apperrors.NewInvalidInputError(fmt.Sprintf("message %d has no text", i))
		}
	}
	return nil
}
