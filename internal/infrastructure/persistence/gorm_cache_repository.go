package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threadsight/threadsight/internal/domain/repository"
	"github.com/threadsight/threadsight/internal/infrastructure/persistence/models"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// GormAnalysisCacheRepository implements repository.AnalysisCacheRepository.
type GormAnalysisCacheRepository struct {
	db *gorm.DB
}

// NewGormAnalysisCacheRepository creates the repository.
func NewGormAnalysisCacheRepository(db *gorm.DB) repository.AnalysisCacheRepository {
	return &GormAnalysisCacheRepository{db: db}
}

// Get returns the conversation id cached for a thread hash.
func (r *GormAnalysisCacheRepository) Get(ctx context.Context, threadHash string) (string, error) {
	var row models.AnalysisCacheModel
	err := r.db.WithContext(ctx).
		Where("thread_hash = ?", threadHash).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.NewNotFoundError("thread hash not cached")
	}
	if err != nil {
		return "", apperrors.NewInternalErrorWithCause("failed to load cache entry", err)
	}
	return row.ConversationID, nil
}

// Set stores hash -> conversation id. A concurrent writer of the same hash
// wins silently; the mapping stays stable either way.
func (r *GormAnalysisCacheRepository) Set(ctx context.Context, threadHash, conversationID string) error {
	row := models.AnalysisCacheModel{
		ID:             uuid.NewString(),
		ThreadHash:     threadHash,
		ConversationID: conversationID,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("failed to store cache entry", err)
	}
	return nil
}
