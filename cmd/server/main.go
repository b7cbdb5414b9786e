package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tasknode/internal/api"
	"tasknode/internal/broker"
	"tasknode/internal/config"
	"tasknode/internal/database"
	"tasknode/internal/service"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
	"tasknode/internal/tss"
	"tasknode/internal/worker"

	"go.uber.org/zap"
)

const eventBuffer = 1024

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting task node")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("num_networks", len(cfg.Networks)),
		zap.Bool("executor", cfg.Node.Account != ""))

	params, err := cfg.TaskParams()
	if err != nil {
		logger.Fatal("Invalid task parameters", zap.Error(err))
	}

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	migrationPath := "internal/database/migrations/001_schema.sql"
	if err := database.RunMigrations(db, migrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	// Event consumers
	consumers := []worker.EventConsumer{db}
	if cfg.NATS.URL != "" {
		publisher, err := broker.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Timeout, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer publisher.Close()
		consumers = append(consumers, publisher)
	} else {
		logger.Info("NATS_URL not set, event streaming disabled")
	}
	relay := worker.NewEventRelay(eventBuffer, logger, consumers...)

	// Scheduler state
	registry := shards.NewRegistry(logger)
	engine := tasks.NewEngine(registry, params, relay, logger)
	registry.SetListener(engine)

	signer := tss.NewSigner(cfg.Node.TSSTimeout, logger)

	if cfg.Node.GenesisFile != "" {
		genesis, err := config.LoadGenesis(cfg.Node.GenesisFile)
		if err != nil {
			logger.Fatal("Failed to load genesis", zap.Error(err))
		}
		if err := applyGenesis(genesis, registry, engine, signer, logger); err != nil {
			logger.Fatal("Failed to apply genesis", zap.Error(err))
		}
	}

	// Initialize services
	taskService := service.NewTaskService(engine, db, logger)
	feeService := service.NewFeeService(cfg, engine, logger)

	logger.Info("Services initialized")

	apiHandler := api.NewHandler(taskService, feeService, logger)
	router := api.SetupRouter(apiHandler, cfg.Server.AdminToken, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	workerManager, err := worker.NewWorkerManager(cfg, engine, registry, signer, db, relay, logger)
	if err != nil {
		logger.Fatal("Failed to initialize worker manager", zap.Error(err))
	}

	workerManager.Start()
	logger.Info("Workers started")

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown workers first
	if err := workerManager.Shutdown(10 * time.Second); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
