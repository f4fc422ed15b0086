package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/handlers"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/services/bot"
	"github.com/ternarybob/atozbot/internal/services/cache"
	"github.com/ternarybob/atozbot/internal/services/events"
	"github.com/ternarybob/atozbot/internal/services/scheduler"
	"github.com/ternarybob/atozbot/internal/services/supervisor"
	"github.com/ternarybob/atozbot/internal/storage/sqlite"
)

// App holds all controller components and dependencies
type App struct {
	Config      *common.Config
	ConfigPaths []string
	Logger      arbor.ILogger
	ctx         context.Context
	cancelCtx   context.CancelFunc

	StorageManager interfaces.StorageManager
	StateCache     interfaces.StateCache

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService

	// Bot controller
	Supervisor *supervisor.Supervisor
	Health     *bot.HealthChecker
	BotService *bot.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	BotHandler       *handlers.BotHandler
	WSHandler        *handlers.WebSocketHandler
	SchedulerHandler *handlers.SchedulerHandler
	ConfigHandler    *handlers.ConfigHandler
}

// New initializes the controller with all dependencies
func New(cfg *common.Config, configPaths []string, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:      cfg,
		ConfigPaths: configPaths,
		Logger:      logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	// Initialize database
	if err := app.initDatabase(); err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.StateCache = cache.New(app.ctx, cfg, logger)

	app.EventService = events.NewService(logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.initScheduler(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	logger.Info().
		Str("cache", app.StateCache.Name()).
		Str("sqlite_path", cfg.Storage.SQLite.Path).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the session state store
func (a *App) initDatabase() error {
	storageManager, err := sqlite.NewManager(a.Logger, &a.Config.Storage.SQLite)
	if err != nil {
		return err
	}
	a.StorageManager = storageManager

	a.Logger.Info().Str("path", a.Config.Storage.SQLite.Path).Msg("Storage layer initialized")
	return nil
}

// initServices builds the worker supervisor, dependency checks and the bot controller
func (a *App) initServices() error {
	grace := common.Duration(a.Config.Worker.StopGracePeriod, 10*time.Second)

	launcher, err := supervisor.NewExecLauncher(a.Config.Worker.Executable, a.Logger)
	if err != nil {
		return err
	}
	sweeper := supervisor.NewProcessSweeper(a.Config.Worker.Executable, grace, a.Logger)
	a.Supervisor = supervisor.New(launcher, sweeper, grace, a.Config.Worker.LockFile, a.Logger)

	checks := []bot.HealthCheck{
		{Name: "storage", Critical: true, Check: a.StorageManager.Ping},
		{Name: "cache", Critical: false, Check: a.StateCache.Ping},
	}
	if !a.Config.Portal.SkipHealthCheck {
		client := &http.Client{Timeout: 5 * time.Second}
		checks = append(checks, bot.HealthCheck{
			Name:     "portal",
			Critical: true,
			Check:    bot.HTTPReachable(client, a.Config.Portal.BaseURL+a.Config.Portal.LoginPath),
		})
	}
	a.Health = bot.NewHealthChecker(5*time.Second, a.Logger, checks...)

	a.BotService = bot.NewService(
		a.StorageManager,
		a.StateCache,
		a.EventService,
		a.Supervisor,
		a.Health,
		a.Config,
		a.ConfigPaths,
		a.Logger,
	)

	a.Logger.Info().
		Dur("stop_grace", grace).
		Int("health_checks", len(checks)).
		Msg("Bot controller initialized")
	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.BotService, a.Logger, &a.Config.WebSocket)
	a.WSHandler.StartStatusBroadcaster(a.ctx)
	a.Health.Register(bot.HealthCheck{Name: "realtime", Critical: true, Check: a.WSHandler.Ping})

	a.APIHandler = handlers.NewAPIHandler(a.BotService, a.WSHandler, a.Logger)
	a.BotHandler = handlers.NewBotHandler(a.BotService, a.Logger)
	a.ConfigHandler = handlers.NewConfigHandler(a.Logger, a.Config)

	a.Logger.Info().Msg("HTTP handlers initialized")
}

// initScheduler registers the maintenance jobs and starts cron
func (a *App) initScheduler() error {
	schedulerService := scheduler.NewService(a.Logger)
	if err := scheduler.RegisterBotJobs(schedulerService, a.BotService, &a.Config.Scheduler); err != nil {
		return err
	}
	if err := schedulerService.Start(); err != nil {
		return err
	}
	a.SchedulerService = schedulerService
	a.SchedulerHandler = handlers.NewSchedulerHandler(schedulerService)
	return nil
}

// Close stops the worker and releases all resources
func (a *App) Close() error {
	// Cancel the status broadcaster
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// A controller exit never leaves a worker behind
	if a.BotService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.BotService.Shutdown(ctx)
		cancel()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StateCache != nil {
		if err := a.StateCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close state cache")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
