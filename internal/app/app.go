package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/handlers"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/services/auth"
	"github.com/ternarybob/prospector/internal/services/browser"
	"github.com/ternarybob/prospector/internal/services/csvstore"
	"github.com/ternarybob/prospector/internal/services/events"
	"github.com/ternarybob/prospector/internal/services/jobs"
	"github.com/ternarybob/prospector/internal/services/jobstore"
	"github.com/ternarybob/prospector/internal/services/maintenance"
	"github.com/ternarybob/prospector/internal/services/pacing"
	"github.com/ternarybob/prospector/internal/services/pagination"
	"github.com/ternarybob/prospector/internal/services/sidebar"
	"github.com/ternarybob/prospector/internal/storage"
)

// statusThrottle bounds how often progress snapshots are pushed to websocket clients
const statusThrottle = time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	EventService interfaces.EventService
	JobStore     *jobstore.Store
	AuthService  *auth.Service
	JobService   *jobs.Service
	Maintenance  *maintenance.Service

	// HTTP handlers
	APIHandler  *handlers.APIHandler
	JobHandler  *handlers.JobHandler
	AuthHandler *handlers.AuthHandler
	WSHandler   *handlers.WebSocketHandler
}

// New initializes the application. Startup order is load, retention sweep, then
// recovery of jobs a previous process left running.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	if err := app.initServices(); err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()
	app.WSHandler.Start(app.ctx)

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("output_dir", cfg.Output.Dir).
		Int("jobs", len(app.JobStore.GetAll())).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	a.JobStore = jobstore.NewStore(a.StorageManager.JobStorage(), a.EventService, a.Logger)
	if err := a.JobStore.Load(a.ctx); err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	a.AuthService = auth.NewService(a.StorageManager.AuthStorage(), a.Logger)
	if cfg.Auth.CredentialsDir != "" {
		imported := a.AuthService.ImportDir(a.ctx, cfg.Auth.CredentialsDir)
		a.Logger.Info().
			Str("dir", cfg.Auth.CredentialsDir).
			Int("imported", imported).
			Msg("Cookie exports imported")
	}

	scheduler := jobs.NewScheduler()
	primary := sidebar.NewPrimary(sidebar.NewOrchestrator(cfg.Sidebars.Primary, a.AuthService, a.Logger))
	enrichment := sidebar.NewEnrichment(sidebar.NewOrchestrator(cfg.Sidebars.Enrichment, a.AuthService, a.Logger))

	runner := jobs.NewRunner(jobs.RunnerDeps{
		Config:      jobs.RunnerConfigFrom(cfg.Scraper),
		Store:       a.JobStore,
		Scheduler:   scheduler,
		Browser:     browser.NewProvider(cfg.Browser, a.Logger),
		Credentials: a.AuthService,
		Primary:     primary,
		Enrichment:  enrichment,
		Paginator:   pagination.NewAdvancer(pagination.ConfigFrom(cfg.Scraper.Pagination), a.Logger),
		NewView: func(session interfaces.BrowserSession) pagination.ResultView {
			return pagination.NewSessionView(session, cfg.Scraper.Pagination)
		},
		Pacer:  pacing.NewPacer(cfg.Scraper.Pacing, a.Logger),
		CSV:    csvstore.NewStore(a.Logger),
		Logger: a.Logger,
	})

	a.JobService = jobs.NewService(jobs.ServiceConfig{
		OutputDir:         cfg.Output.Dir,
		SearchURLPrefixes: cfg.Scraper.SearchURLPrefixes,
	}, a.JobStore, scheduler, runner, a.Logger)

	// Retention sweep runs before recovery
	a.Maintenance = maintenance.NewService(a.JobStore, a.JobService.CurrentJobID, cfg.Jobs, a.Logger)
	if err := a.Maintenance.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	if recovered := a.JobService.Recover(a.ctx); recovered > 0 {
		a.Logger.Warn().Int("count", recovered).Msg("Jobs interrupted by previous shutdown were paused")
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.JobService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.AuthHandler = handlers.NewAuthHandler(a.AuthService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.JobService, statusThrottle, a.Logger)
}

// Close pauses the running job, stops background work and closes storage.
// ctx bounds how long the running job may take to reach a checkpoint.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.JobService != nil {
		if err := a.JobService.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Job runner did not stop cleanly")
			errs = append(errs, err)
		}
	}

	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		} else {
			a.Logger.Info().Msg("Storage closed")
		}
	}

	return errors.Join(errs...)
}
