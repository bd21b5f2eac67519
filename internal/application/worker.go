package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
	"github.com/threadsight/threadsight/internal/domain/service"
	"github.com/threadsight/threadsight/internal/infrastructure/llm"
	"github.com/threadsight/threadsight/internal/infrastructure/monitoring"
	"github.com/threadsight/threadsight/internal/infrastructure/queue"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

// Analyzer is the analysis endpoint as the worker sees it.
type Analyzer interface {
	Analyze(ctx context.Context, threadText string) (*llm.Analysis, error)
}

// Worker drains the conversation queue and produces insights. It is safe to
// run exactly one worker loop per process; idempotency against re-delivered
// ids comes from the unique insight-per-conversation constraint, not from the
// queue.
type Worker struct {
	queue         *queue.ConversationQueue
	conversations repository.ConversationRepository
	insights      repository.InsightRepository
	cache         repository.AnalysisCacheRepository
	analyzer      Analyzer
	pacer         *llm.Pacer
	preFilter     service.PreFilter
	metrics       *monitoring.Metrics
	logger        *zap.Logger
	pollInterval  time.Duration
}

// NewWorker creates the worker.
func NewWorker(
	q *queue.ConversationQueue,
	conversations repository.ConversationRepository,
	insights repository.InsightRepository,
	cache repository.AnalysisCacheRepository,
	analyzer Analyzer,
	pacer *llm.Pacer,
	preFilter service.PreFilter,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	pollInterval time.Duration,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		queue:         q,
		conversations: conversations,
		insights:      insights,
		cache:         cache,
		analyzer:      analyzer,
		pacer:         pacer,
		preFilter:     preFilter,
		metrics:       metrics,
		logger:        logger.With(zap.String("component", "worker")),
		pollInterval:  pollInterval,
	}
}

// Run polls the queue until the context is cancelled. Failures are logged and
// dropped: a conversation whose analysis failed is picked up again on the next
// ingest of the same thread.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("analysis worker started",
		zap.Duration("poll_interval", w.pollInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("analysis worker stopped")
			return
		default:
		}

		id, ok := w.queue.Dequeue(ctx, w.pollInterval)
		if !ok {
			continue
		}
		if err := w.processSafely(ctx, id); err != nil {
			w.logger.Warn("analysis failed",
				zap.String("conversation_id", id),
				zap.Error(err))
		}
	}
}

// processSafely confines a panic to the current iteration so one poisoned
// conversation cannot kill the loop.
func (w *Worker) processSafely(ctx context.Context, conversationID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during analysis: %v", r)
		}
	}()
	return w.ProcessOne(ctx, conversationID)
}

// ProcessOne runs the full analysis pipeline for one conversation: skip if an
// insight already exists, pre-filter, consult the content cache, call the
// analysis endpoint under the pacer, store the insight, and publish the
// content hash for future reuse.
func (w *Worker) ProcessOne(ctx context.Context, conversationID string) error {
	if existing, err := w.insights.FindByConversationID(ctx, conversationID); err == nil {
		return w.republishCache(ctx, conversationID, existing)
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	texts, _, err := w.conversations.LoadThread(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		w.logger.Warn("conversation has no messages",
			zap.String("conversation_id", conversationID))
		return nil
	}

	if result := w.preFilter.CheckTexts(texts); !result.Interesting {
		w.metrics.PreFiltered.Inc()
		return w.storeInsight(ctx, &entity.Insight{
			ConversationID: conversationID,
			SkippedReason:  result.Reason,
		})
	}

	hash := service.ThreadHash(texts)
	if done, err := w.tryCache(ctx, conversationID, hash); err != nil || done {
		return err
	}

	analysis, err := w.analyze(ctx, texts)
	if err != nil {
		return err
	}

	insight := insightFromAnalysis(conversationID, analysis)
	if err := w.storeInsight(ctx, insight); err != nil {
		return err
	}
	return w.cache.Set(ctx, hash, conversationID)
}

// republishCache handles a re-delivered id whose insight already exists. The
// hash mapping is re-inserted so a crash between insight write and cache write
// does not leave identical future threads paying for fresh analysis calls.
func (w *Worker) republishCache(ctx context.Context, conversationID string, existing *entity.Insight) error {
	if existing.Skipped() {
		return nil
	}
	texts, _, err := w.conversations.LoadThread(ctx, conversationID)
	if err != nil || len(texts) == 0 {
		return err
	}
	return w.cache.Set(ctx, service.ThreadHash(texts), conversationID)
}

// tryCache reuses the insight of an identical-content conversation. Returns
// done=true when a skip row was stored and no analysis call is needed.
func (w *Worker) tryCache(ctx context.Context, conversationID, hash string) (bool, error) {
	cachedConvID, err := w.cache.Get(ctx, hash)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cachedConvID == conversationID {
		// Self-mapping without an insight: a previous run died between
		// cache write and insight write. Analyze fresh.
		return false, nil
	}

	source, err := w.insights.FindByConversationID(ctx, cachedConvID)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if source.Skipped() {
		return false, nil
	}

	w.metrics.CacheHits.Inc()
	w.logger.Info("reusing insight for identical thread content",
		zap.String("conversation_id", conversationID),
		zap.String("source_conversation_id", cachedConvID))
	return true, w.storeInsight(ctx, &entity.Insight{
		ConversationID: conversationID,
		RawOutput:      source.RawOutput,
		Sentiment:      source.Sentiment,
		Topics:         source.Topics,
		Gaps:           source.Gaps,
		SkippedReason:  entity.SkippedReasonCacheHit,
	})
}

// analyze calls the endpoint under the pacer and records the outcome.
func (w *Worker) analyze(ctx context.Context, texts []string) (*llm.Analysis, error) {
	if err := w.pacer.Acquire(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	analysis, err := w.analyzer.Analyze(ctx, llm.BuildThreadText(texts))
	if err != nil {
		w.pacer.RecordFailure()
		w.metrics.GrokRequests.WithLabelValues(llm.ErrorCode(err)).Inc()
		return nil, err
	}

	w.pacer.RecordSuccess(time.Since(start), analysis.TotalTokens)
	w.metrics.GrokRequests.WithLabelValues("success").Inc()
	w.metrics.GrokTokens.Add(float64(analysis.TotalTokens))
	if analysis.CostEstimate != nil {
		w.metrics.GrokCostUSD.Add(*analysis.CostEstimate)
	}
	return analysis, nil
}

// storeInsight inserts the row, treating a duplicate as success.
func (w *Worker) storeInsight(ctx context.Context, insight *entity.Insight) error {
	err := w.insights.Insert(ctx, insight)
	if apperrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return err
	}
	w.metrics.InsightsStored.Inc()
	return nil
}

func insightFromAnalysis(conversationID string, analysis *llm.Analysis) *entity.Insight {
	insight := &entity.Insight{
		ConversationID: conversationID,
		RawOutput:      analysis.Insight,
		Topics:         stringList(analysis.Insight["topics"]),
		Gaps:           stringList(analysis.Insight["gaps"]),
	}
	if s, ok := analysis.Insight["sentiment"].(string); ok {
		insight.Sentiment = s
	}
	if analysis.PromptTokens > 0 {
		v := analysis.PromptTokens
		insight.PromptTokens = &v
	}
	if analysis.CompletionTokens > 0 {
		v := analysis.CompletionTokens
		insight.CompletionTokens = &v
	}
	insight.CostEstimate = analysis.CostEstimate
	return insight
}

// stringList extracts a []string from a decoded JSON value, dropping
// non-string elements.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
