package repository

import (
	"context"
	"time"

	"github.com/threadsight/threadsight/internal/domain/entity"
)

// InsightFilter narrows insight listings. Zero values mean "no filter".
type InsightFilter struct {
	ConversationID string
	DateFrom       *time.Time
	DateTo         *time.Time
	Sentiment      string
	Topic          string // exact topic string that must appear in the topics list
	Limit          int
	Offset         int
}

// InsightRepository persists analysis results.
type InsightRepository interface {
	// Insert stores a new insight. Returns an ALREADY_EXISTS AppError when an
	// insight for the conversation already exists; callers treat that as
	// success (idempotent worker re-delivery).
	Insert(ctx context.Context, insight *entity.Insight) error

	// FindByConversationID returns the insight for a conversation, or a
	// NOT_FOUND AppError.
	FindByConversationID(ctx context.Context, conversationID string) (*entity.Insight, error)

	// List returns non-skipped insights matching the filter, newest first,
	// plus the total match count for pagination.
	List(ctx context.Context, filter InsightFilter) ([]*entity.Insight, int64, error)

	// ListSince returns non-skipped insights created at or after the cutoff,
	// for trend aggregation.
	ListSince(ctx context.Context, since time.Time) ([]*entity.Insight, error)
}

// AnalysisCacheRepository maps thread-content hashes to analyzed conversations.
type AnalysisCacheRepository interface {
	// Get returns the conversation id cached for a thread hash, or a
	// NOT_FOUND AppError.
	Get(ctx context.Context, threadHash string) (string, error)

	// Set stores hash → conversation id, ignoring conflicts on the hash
	// (first writer wins).
	Set(ctx context.Context, threadHash, conversationID string) error
}
