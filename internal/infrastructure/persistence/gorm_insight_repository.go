package persistence

import (
	"context"
	"encoding/json"
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

// GormInsightRepository implements repository.InsightRepository.
type GormInsightRepository struct {
	db *gorm.DB
}

// NewGormInsightRepository creates the repository.
func NewGormInsightRepository(db *gorm.DB) repository.InsightRepository {
	return &GormInsightRepository{db: db}
}

// Insert stores a new insight. The unique index on conversation_id turns
// duplicate inserts into an ALREADY_EXISTS error instead of a second row.
func (r *GormInsightRepository) Insert(ctx context.Context, insight *entity.Insight) error {
	row, err := insightToModel(insight)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to encode insight", err)
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return apperrors.NewInternalErrorWithCause("failed to store insight", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewAlreadyExistsError("insight already exists for conversation " + insight.ConversationID)
	}
	insight.ID = row.ID
	insight.CreatedAt = row.CreatedAt
	return nil
}

// FindByConversationID returns the insight for a conversation.
func (r *GormInsightRepository) FindByConversationID(ctx context.Context, conversationID string) (*entity.Insight, error) {
	var row models.InsightModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("no insight for conversation " + conversationID)
	}
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to load insight", err)
	}
	return insightFromModel(&row)
}

// List returns non-skipped insights matching the filter, newest first, plus
// the total match count.
func (r *GormInsightRepository) List(ctx context.Context, filter repository.InsightFilter) ([]*entity.Insight, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.InsightModel{}).
		Where("skipped_reason IS NULL")

	if filter.ConversationID != "" {
		query = query.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.DateFrom != nil {
		query = query.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_at <= ?", *filter.DateTo)
	}
	if filter.Sentiment != "" {
		query = query.Where("sentiment = ?", filter.Sentiment)
	}
	if filter.Topic != "" {
		// Topics are stored as a JSON array; matching the quoted string
		// avoids substring hits across topic boundaries.
		query = query.Where("topics LIKE ?", `%"`+filter.Topic+`"%`)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.NewInternalErrorWithCause("failed to count insights", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []models.InsightModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, 0, apperrors.NewInternalErrorWithCause("failed to list insights", err)
	}

	insights := make([]*entity.Insight, 0, len(rows))
	for i := range rows {
		insight, err := insightFromModel(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		insights = append(insights, insight)
	}
	return insights, total, nil
}

// ListSince returns non-skipped insights created at or after the cutoff.
func (r *GormInsightRepository) ListSince(ctx context.Context, since time.Time) ([]*entity.Insight, error) {
	var rows []models.InsightModel
	if err := r.db.WithContext(ctx).
		Where("skipped_reason IS NULL AND created_at >= ?", since).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to list insights", err)
	}

	insights := make([]*entity.Insight, 0, len(rows))
	for i := range rows {
		insight, err := insightFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, nil
}

func insightToModel(insight *entity.Insight) (*models.InsightModel, error) {
	row := &models.InsightModel{
		ID:               insight.ID,
		ConversationID:   insight.ConversationID,
		Sentiment:        insight.Sentiment,
		PromptTokens:     insight.PromptTokens,
		CompletionTokens: insight.CompletionTokens,
		CostEstimate:     insight.CostEstimate,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if insight.SkippedReason != "" {
		reason := insight.SkippedReason
		row.SkippedReason = &reason
	}

	if insight.RawOutput != nil {
		raw, err := json.Marshal(insight.RawOutput)
		if err != nil {
			return nil, err
		}
		row.RawOutput = string(raw)
	}
	topics, err := json.Marshal(orEmpty(insight.Topics))
	if err != nil {
		return nil, err
	}
	row.Topics = string(topics)
	gaps, err := json.Marshal(orEmpty(insight.Gaps))
	if err != nil {
		return nil, err
	}
	row.Gaps = string(gaps)
	return row, nil
}

func insightFromModel(row *models.InsightModel) (*entity.Insight, error) {
	insight := &entity.Insight{
		ID:               row.ID,
		ConversationID:   row.ConversationID,
		Sentiment:        row.Sentiment,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		CostEstimate:     row.CostEstimate,
		CreatedAt:        row.CreatedAt,
	}
	if row.SkippedReason != nil {
		insight.SkippedReason = *row.SkippedReason
	}
	if row.RawOutput != "" {
		if err := json.Unmarshal([]byte(row.RawOutput), &insight.RawOutput); err != nil {
			return nil, apperrors.NewInternalErrorWithCause("corrupt insight raw_output", err)
		}
	}
	if row.Topics != "" {
		if err := json.Unmarshal([]byte(row.Topics), &insight.Topics); err != nil {
			return nil, apperrors.NewInternalErrorWithCause("corrupt insight topics", err)
		}
	}
	if row.Gaps != "" {
		if err := json.Unmarshal([]byte(row.Gaps), &insight.Gaps); err != nil {
			return nil, apperrors.NewInternalErrorWithCause("corrupt insight gaps", err)
		}
	}
	return insight, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
