package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/catalog"
	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/handlers"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/services/detector"
	"github.com/Stonelukas/curator/internal/services/events"
	"github.com/Stonelukas/curator/internal/services/history"
	"github.com/Stonelukas/curator/internal/services/orchestrator"
	"github.com/Stonelukas/curator/internal/services/scheduler"
	"github.com/Stonelukas/curator/internal/services/tracker"
	"github.com/Stonelukas/curator/internal/services/watcher"
	"github.com/Stonelukas/curator/internal/storage/badger"
	"github.com/Stonelukas/curator/internal/ui"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event bus
	EventService interfaces.EventService

	// External collaborators
	CatalogClient interfaces.CatalogClient
	UIDriver      interfaces.UIDriver

	// Core services
	DetectionService  interfaces.DetectionService
	StatusService     interfaces.StatusService
	HistoryService    interfaces.HistoryService
	AutomationService interfaces.AutomationService
	WatcherService    *watcher.Service
	SchedulerService  *scheduler.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	AutomationHandler *handlers.AutomationHandler
	StatusHandler     *handlers.StatusHandler
	HistoryHandler    *handlers.HistoryHandler
	WSHandler         *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.SchedulerService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	app.WatcherService.Start()

	logger.Info().
		Int("enabled_sources", len(cfg.Automation.EnabledSources())).
		Bool("auto_apply", cfg.Automation.AutoApply).
		Bool("organize_enabled", cfg.Automation.OrganizeEnabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires core services bottom-up
func (a *App) initServices() error {
	a.CatalogClient = catalog.NewClient(&a.Config.Catalog, a.Logger)

	driver, err := ui.NewChromeDriver(&a.Config.UI, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect UI driver: %w", err)
	}
	a.UIDriver = driver

	a.DetectionService = detector.NewService(a.CatalogClient, a.UIDriver, &a.Config.Automation, a.Logger)

	a.StatusService = tracker.NewService(a.DetectionService, a.CatalogClient, a.UIDriver, &a.Config.Automation, a.EventService, a.Logger)

	historyService, err := history.NewService(a.StorageManager.History(), a.EventService, a.Config.History.MaxEntries, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create history service: %w", err)
	}
	a.HistoryService = historyService

	a.AutomationService = orchestrator.NewService(a.StatusService, a.DetectionService, a.HistoryService, a.UIDriver, &a.Config.Automation, a.EventService, a.Logger)

	a.WatcherService = watcher.NewService(a.StatusService, &a.Config.Watcher, a.EventService, a.Logger)
	a.SchedulerService = scheduler.NewService(a.HistoryService, &a.Config.History, a.Logger)

	return nil
}

// initHandlers wires the HTTP surface
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.AutomationHandler = handlers.NewAutomationHandler(a.AutomationService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.AutomationService, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.HistoryService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
}

// Close shuts components down in reverse dependency order
func (a *App) Close(ctx context.Context) error {
	if a.AutomationService != nil && a.AutomationService.Active() {
		a.AutomationService.Cancel()
	}

	if a.WatcherService != nil {
		a.WatcherService.Stop()
	}
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}

	if closer, ok := a.UIDriver.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("UI driver close failed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	return nil
}
