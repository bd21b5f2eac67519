package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/threadsight/threadsight/internal/application/usecase"
	"github.com/threadsight/threadsight/internal/domain/service"
	"github.com/threadsight/threadsight/internal/infrastructure/config"
	"github.com/threadsight/threadsight/internal/infrastructure/llm"
	"github.com/threadsight/threadsight/internal/infrastructure/monitoring"
	"github.com/threadsight/threadsight/internal/infrastructure/persistence"
	"github.com/threadsight/threadsight/internal/infrastructure/queue"
	httpserver "github.com/threadsight/threadsight/internal/interfaces/http"
	"github.com/threadsight/threadsight/internal/interfaces/http/handlers"
	"github.com/threadsight/threadsight/pkg/safego"
)

// App wires the whole service together: store, queue, analysis pipeline, and
// HTTP front.
type App struct {
	server *httpserver.Server
	worker *Worker
	logger *zap.Logger
	cancel context.CancelFunc
}

// New builds the dependency graph from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := persistence.NewDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	q := queue.New(cfg.Ingest.MaxQueueDepth)
	metrics.RegisterQueueDepth(func() float64 { return float64(q.Depth()) })

	breaker := llm.NewCircuitBreaker(cfg.Grok.CircuitBreakerFailures, cfg.Grok.Cooldown())
	metrics.RegisterCircuitState(func() float64 { return float64(breaker.State()) })

	pacer := llm.NewPacer(llm.PacerConfig{
		RPM:     cfg.Grok.RPM,
		TPM:     cfg.Grok.TPM,
		MinSize: cfg.Worker.BatchMinSize,
		MaxSize: cfg.Worker.BatchMaxSize,
	})
	grok := llm.NewGrokClient(llm.ClientConfig{
		APIKey:     cfg.Grok.APIKey,
		BaseURL:    cfg.Grok.BaseURL,
		Model:      cfg.Grok.Model,
		Timeout:    cfg.Grok.Timeout(),
		MaxRetries: cfg.Grok.MaxRetries,
	}, breaker, logger)

	conversations := persistence.NewGormConversationRepository(db)
	insights := persistence.NewGormInsightRepository(db)
	cache := persistence.NewGormAnalysisCacheRepository(db)

	ingest := usecase.NewIngestUseCase(conversations, q, metrics, logger)
	insightQuery := usecase.NewInsightQueryUseCase(insights)
	trends := usecase.NewTrendsUseCase(insights)

	server := httpserver.NewServer(cfg.Gateway, cfg.Ingest, httpserver.Handlers{
		Conversations: handlers.NewConversationHandler(ingest, cfg.Ingest.BulkMaxConversations, logger),
		Insights:      handlers.NewInsightHandler(insightQuery, logger),
		Trends:        handlers.NewTrendsHandler(trends, logger),
		Health:        handlers.NewHealthHandler(q, breaker),
	}, metrics, logger)

	worker := NewWorker(
		q,
		conversations,
		insights,
		cache,
		grok,
		pacer,
		service.PreFilter{
			MinMessages:   cfg.Worker.PreFilterMinMessages,
			MinTotalChars: cfg.Worker.PreFilterMinTotalChars,
		},
		metrics,
		logger,
		cfg.Worker.PollInterval(),
	)

	return &App{server: server, worker: worker, logger: logger}, nil
}

// Start launches the worker and serves HTTP. Blocks until the server exits.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	safego.Go(a.logger, "worker-loop", func() {
		a.worker.Run(ctx)
	})
	return a.server.Start()
}

// Stop shuts the worker and drains the HTTP server.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return a.server.Shutdown(ctx)
}
