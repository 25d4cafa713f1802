package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/handlers"
	"github.com/ternarybob/indago/internal/jobs"
	"github.com/ternarybob/indago/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	JobStore     *storage.JobStore
	StoreManager *storage.StoreManager
	Manager      *jobs.Manager
	Scheduler    *jobs.Scheduler
	LogConsumer  *handlers.LogConsumer

	// HTTP handlers
	WSHandler     *handlers.WebSocketHandler
	CrawlHandler  *handlers.CrawlHandler
	BrowseHandler *handlers.BrowseHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	jobStore, err := storage.OpenJobStore(cfg.Storage.DataDir, cfg.Storage.ResetOnStartup, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	app.JobStore = jobStore

	// Jobs left pending or running by a previous process can never finish.
	interrupted, err := jobStore.MarkInterrupted()
	if err != nil {
		return nil, fmt.Errorf("failed to sweep interrupted jobs: %w", err)
	}
	if interrupted > 0 {
		logger.Warn().Int("count", interrupted).Msg("Jobs interrupted by restart marked as failed")
	}

	app.StoreManager = storage.NewStoreManager(logger)

	// The WebSocket hub is created early so job events and log entries can
	// be broadcast from the moment the manager starts.
	app.WSHandler = handlers.NewWebSocketHandler(&cfg.WebSocket, logger)

	app.LogConsumer = handlers.NewLogConsumer(app.WSHandler, &cfg.WebSocket, logger)
	app.LogConsumer.Start()
	logger.SetChannel("context", app.LogConsumer.Channel())

	app.Manager = jobs.NewManager(cfg, jobStore, app.StoreManager, app.WSHandler, logger)

	app.Scheduler = jobs.NewScheduler(app.Manager, logger)
	defs, err := jobs.LoadDefinitions(cfg.Definitions.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl definitions: %w", err)
	}
	app.Scheduler.RegisterAll(defs)
	app.Scheduler.Start()

	app.CrawlHandler = handlers.NewCrawlHandler(app.Manager, logger)
	app.BrowseHandler = handlers.NewBrowseHandler(cfg.Storage.DataDir, app.StoreManager, logger)

	logger.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Int("definitions", len(defs)).
		Msg("Application initialization complete")

	return app, nil
}

// Close shuts components down in reverse dependency order. Running crawls
// are cancelled and given time to persist their final state.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.Manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Manager.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Job manager shutdown incomplete")
		}
	}

	if a.LogConsumer != nil {
		a.LogConsumer.Stop()
	}

	if a.StoreManager != nil {
		if err := a.StoreManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close document stores")
		}
	}

	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			return fmt.Errorf("failed to close job store: %w", err)
		}
		a.Logger.Info().Msg("Job store closed")
	}

	return nil
}
