package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/admin"
	"github.com/quantfold/tickerlens/internal/config"
	"github.com/quantfold/tickerlens/internal/events"
	"github.com/quantfold/tickerlens/internal/handlers"
	"github.com/quantfold/tickerlens/internal/lifecycle"
	"github.com/quantfold/tickerlens/internal/middleware"
	"github.com/quantfold/tickerlens/internal/migration"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/remote"
	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/routes"
	"github.com/quantfold/tickerlens/internal/scheduler"
	"github.com/quantfold/tickerlens/internal/state"
	"github.com/quantfold/tickerlens/internal/submission"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load()

	// Open the legacy key-value store; it also holds preferences.
	badgerDB, err := repository.OpenBadger(cfg.Storage.BadgerPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open key-value store")
	}
	defer badgerDB.Close()

	// Open the relational store and bring its schema up to date.
	sqliteDB, err := repository.OpenSqlite(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open relational store")
	}
	defer sqliteDB.Close()
	if err := migration.RunSchemaMigrations(sqliteDB); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run schema migrations")
	}

	// Preferences, repositories and routing.
	stateStore := state.NewStore(badgerDB, logger)
	installationID, err := stateStore.InstallationID()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve installation id")
	}
	legacyRepo := repository.NewBadgerRepository(badgerDB, logger)
	relationalRepo := repository.NewSqliteRepository(sqliteDB, logger)
	factory := repository.NewFactory(legacyRepo, relationalRepo, stateStore, installationID, logger)

	// Core services.
	eventChannel := events.NewChannel(cfg.Events.BufferSize, logger)
	defer eventChannel.Close()
	monitor := lifecycle.NewMonitor(logger)
	remoteClient := remote.NewHTTPClient(cfg.Remote, logger)

	sched := scheduler.New(factory, remoteClient, eventChannel, monitor, scheduler.Config{
		JobTimeout:             cfg.Polling.JobTimeout,
		MaxConsecutiveFailures: cfg.Polling.MaxConsecutiveFailures,
	}, logger)

	submissionService := submission.NewService(factory, remoteClient, eventChannel, sched, stateStore, logger)

	engine := migration.NewEngine(legacyRepo, relationalRepo, stateStore, migration.Config{
		BackupDir:  cfg.Migration.BackupDir,
		SampleSize: cfg.Migration.SampleSize,
	}, logger)
	engine.OnComplete(func() {
		submissionService.Flush(context.Background())
	})

	driftChecker := repository.NewDriftChecker(factory, cfg.Migration.DriftCheckInterval, cfg.Migration.SampleSize, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()
	go driftChecker.Run(ctx)

	// Kick off the record migration at startup when configured and not yet
	// cut over.
	if cfg.Migration.AutoStart {
		go func() {
			st, err := stateStore.MigrationState()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to read migration state")
				return
			}
			if st.Status == models.MigrationCompleted || st.Status == models.MigrationRolledBack {
				return
			}
			if _, err := engine.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Startup migration failed")
			}
		}()
	}

	// Admin surface.
	adminService := admin.NewService(engine, factory, stateStore, driftChecker, logger)

	jobHandler := handlers.NewJobHandler(submissionService, logger)
	migrationHandler := handlers.NewMigrationHandler(adminService, logger)
	lifecycleHandler := handlers.NewLifecycleHandler(monitor)

	router := routes.NewRouter(jobHandler, migrationHandler, lifecycleHandler)
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	startServer(corsHandler, cfg.ServerPort, logger)

	logger.Info().Msg("Application terminated.")
}

// startServer launches the HTTP server and handles graceful shutdown.
func startServer(handler http.Handler, port string, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
