// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/database"
	"adc-service/internal/driver"
	"adc-service/internal/events"
	"adc-service/internal/repository"
	"adc-service/internal/routes"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	router   *routes.Router
	database *database.DB

	// Services
	deviceService *service.DeviceService

	// Repositories
	operationRepo   repository.OperationRepository
	acquisitionRepo repository.AcquisitionRepository

	// Events
	eventBus *events.EventBus
	nats     *events.NATSPublisher

	// Driver registry
	driverRegistry *driver.Registry

	background sync.WaitGroup
}

func main() {
	configPath := flag.StringP("config", "c", "", "path to the configuration file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "adc-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeDriverRegistry()

	if err := app.initializeEvents(); err != nil {
		return nil, fmt.Errorf("failed to initialize events: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeDatabase sets up the database connection and runs migrations.
// Without a database, history is kept in memory.
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, acquisition history kept in memory")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.operationRepo = repository.NewOperationRepository(app.database, app.logger)
		app.acquisitionRepo = repository.NewAcquisitionRepository(app.database, app.logger)
	} else {
		app.operationRepo = repository.NewMemoryOperationRepository()
		app.acquisitionRepo = repository.NewMemoryAcquisitionRepository()
	}
}

// initializeDriverRegistry sets up device driver registry
func (app *Application) initializeDriverRegistry() {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Strings("models", app.driverRegistry.ListDrivers()),
		zap.Int("devices", len(app.config.Device.Devices)),
	)
}

// initializeEvents creates the in-process bus and, when enabled, the NATS
// publisher
func (app *Application) initializeEvents() error {
	app.eventBus = events.NewEventBus(app.logger)

	if !app.config.NATS.Enabled {
		return nil
	}
	publisher, err := events.NewNATSPublisher(&app.config.NATS, app.logger)
	if err != nil {
		return err
	}
	app.nats = publisher
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.deviceService = service.NewDeviceService(
		app.driverRegistry,
		app.operationRepo,
		app.acquisitionRepo,
		app.eventBus,
		app.config,
		app.logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.deviceService.Recover(ctx); err != nil {
		return err
	}

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.deviceService,
		app.eventBus,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)
}

// startBackgroundServices starts event distribution and housekeeping
func (app *Application) startBackgroundServices(ctx context.Context) {
	app.goBackground(func() { app.eventBus.Run(ctx) })
	app.goBackground(func() { app.router.RunEventStream(ctx) })
	if app.nats != nil {
		sub := app.eventBus.Subscribe()
		app.goBackground(func() { app.nats.Forward(sub) })
	}
	app.goBackground(func() { app.startCleanupService(ctx) })

	app.logger.Info("Background services started")
}

func (app *Application) goBackground(fn func()) {
	app.background.Add(1)
	go func() {
		defer app.background.Done()
		fn()
	}()
}

// startCleanupService removes history older than the configured retention
func (app *Application) startCleanupService(ctx context.Context) {
	retention := app.config.Database.Retention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if app.database != nil {
			migrator := database.NewMigrator(app.database, app.logger, &app.config.Database)
			if err := migrator.RunCleanup(retention); err != nil {
				app.logger.Error("Failed to cleanup old records", zap.Error(err))
			}
			continue
		}

		cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
		deleted, err := app.operationRepo.DeleteOldOperations(cleanupCtx, time.Now().Add(-retention))
		cancel()
		if err != nil {
			app.logger.Error("Failed to cleanup old operations", zap.Error(err))
		} else if deleted > 0 {
			app.logger.Info("Cleaned up old operations", zap.Int64("deleted", deleted))
		}
	}
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully
func (app *Application) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	background, cancelBackground := context.WithCancel(context.Background())
	app.startBackgroundServices(background)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("Received shutdown signal")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	app.shutdown(cancelBackground)
	return runErr
}

// shutdown performs graceful shutdown
func (app *Application) shutdown(cancelBackground context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Running captures stop their instruments before history is closed.
	if err := app.deviceService.Shutdown(ctx); err != nil {
		app.logger.Error("Device service shutdown error", zap.Error(err))
	}

	cancelBackground()
	app.background.Wait()

	if app.nats != nil {
		if err := app.nats.Close(); err != nil {
			app.logger.Error("NATS close error", zap.Error(err))
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
