package repository

import (
	"context"

	"github.com/threadsight/threadsight/internal/domain/entity"
)

// ConversationRepository persists conversations and their messages.
type ConversationRepository interface {
	// Upsert locates the conversation by root external id, creating it if
	// absent, and inserts every message not already stored. Existing message
	// rows are never updated. Safe under concurrent inserts of the same root.
	Upsert(ctx context.Context, messages []entity.Message, rootExternalID string) (*entity.Conversation, error)

	// LoadThread returns the message texts of a conversation ordered by
	// timestamp ascending (ties broken by message id), plus the root
	// external id. A missing conversation yields an empty slice.
	LoadThread(ctx context.Context, conversationID string) ([]string, string, error)
}
