package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
	"github.com/threadsight/threadsight/internal/infrastructure/persistence/models"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// GormConversationRepository implements repository.ConversationRepository.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates the repository.
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

// Upsert finds or creates the conversation for rootExternalID and inserts any
// messages not already stored. The unique index on root_external_id makes
// concurrent creates of the same root safe: the loser of the insert race
// re-reads the winner's row.
func (r *GormConversationRepository) Upsert(ctx context.Context, messages []entity.Message, rootExternalID string) (*entity.Conversation, error) {
	if rootExternalID == "" {
		return nil, apperrors.NewInvalidInputError("root external id is empty")
	}

	conv, err := r.findOrCreate(ctx, rootExternalID)
	if err != nil {
		return nil, err
	}

	if len(messages) > 0 {
		rows := make([]models.MessageModel, 0, len(messages))
		for _, m := range messages {
			rows = append(rows, models.MessageModel{
				ExternalID:     m.ExternalID,
				ConversationID: conv.ID,
				AuthorID:       m.AuthorID,
				Inbound:        m.Inbound,
				Text:           m.Text,
				ReplyParentID:  m.ReplyParentID,
				QuotedID:       m.QuotedID,
				Timestamp:      m.Timestamp,
				TimestampRaw:   m.TimestampRaw,
			})
		}
		// Existing rows stay untouched; only missing messages are inserted.
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows).Error; err != nil {
			return nil, apperrors.NewInternalErrorWithCause("failed to store messages", err)
		}

		if err := r.db.WithContext(ctx).
			Model(&models.ConversationModel{}).
			Where("id = ?", conv.ID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return nil, apperrors.NewInternalErrorWithCause("failed to touch conversation", err)
		}
	}

	return &entity.Conversation{
		ID:             conv.ID,
		RootExternalID: conv.RootExternalID,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
	}, nil
}

func (r *GormConversationRepository) findOrCreate(ctx context.Context, rootExternalID string) (*models.ConversationModel, error) {
	var conv models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("root_external_id = ?", rootExternalID).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewInternalErrorWithCause("failed to load conversation", err)
	}

	conv = models.ConversationModel{
		ID:             uuid.NewString(),
		RootExternalID: rootExternalID,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&conv)
	if res.Error != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to create conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race; the other writer's row is authoritative.
		if err := r.db.WithContext(ctx).
			Where("root_external_id = ?", rootExternalID).
			First(&conv).Error; err != nil {
			return nil, apperrors.NewInternalErrorWithCause("failed to load conversation after conflict", err)
		}
	}
	return &conv, nil
}

// LoadThread returns the conversation's message texts in thread order plus the
// root external id. A missing conversation yields an empty slice.
func (r *GormConversationRepository) LoadThread(ctx context.Context, conversationID string) ([]string, string, error) {
	var conv models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", conversationID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", apperrors.NewInternalErrorWithCause("failed to load conversation", err)
	}

	var rows []models.MessageModel
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, external_id ASC").
		Find(&rows).Error; err != nil {
		return nil, "", apperrors.NewInternalErrorWithCause("failed to load messages", err)
	}

	texts := make([]string, 0, len(rows))
	for _, row := range rows {
		texts = append(texts, row.Text)
	}
	return texts, conv.RootExternalID, nil
}
