package usecase

import (
	"context"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// InsightQueryUseCase serves insight listings and lookups.
type InsightQueryUseCase struct {
	insights repository.InsightRepository
}

// NewInsightQueryUseCase creates the use case.
func NewInsightQueryUseCase(insights repository.InsightRepository) *InsightQueryUseCase {
	return &InsightQueryUseCase{insights: insights}
}

// NormalizeFilter applies the listing defaults: limit defaults to 50 and is
// capped at 500, a negative offset becomes zero.
func NormalizeFilter(filter repository.InsightFilter) repository.InsightFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// List returns matching insights plus the total count, with the filter
// normalized first.
func (u *InsightQueryUseCase) List(ctx context.Context, filter repository.InsightFilter) ([]*entity.Insight, int64, error) {
	return u.insights.List(ctx, NormalizeFilter(filter))
}

// Get returns the insight for one conversation.
func (u *InsightQueryUseCase) Get(ctx context.Context, conversationID string) (*entity.Insight, error) {
	return u.insights.FindByConversationID(ctx, conversationID)
}
