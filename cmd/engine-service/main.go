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

	"golang-options-engine/internal/engine/config"
	delivery "golang-options-engine/internal/engine/delivery/http"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/engine/service"
	"golang-options-engine/pkg/logger"
	"golang-options-engine/pkg/postgres"
	"golang-options-engine/pkg/redis"
	"golang-options-engine/pkg/telegram"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the options trading decision engine",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Engine Service", logger.Field("name", cfg.App.Name))

	// Initialize database
	postgresCfg := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	}
	db, err := postgres.NewDB(postgresCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Initialize Redis
	redisCfg := redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
	redisClient, err := redis.NewClient(redisCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize Telegram notifier
	var notifier telegram.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
		}
	} else {
		notifier = telegram.NewNoopNotifier()
	}

	// Initialize repositories
	automationRepo := repository.NewAutomationRepository(db.DB)
	positionRepo := repository.NewPositionRepository(db.DB)
	tradeRepo := repository.NewTradeRepository(db.DB)
	cycleRunRepo := repository.NewCycleRunRepository(db.DB)
	riskRepo := repository.NewRiskRepository(db.DB, redisClient)
	lockRepo := repository.NewCycleLockRepository(redisClient)
	marketDataRepo := repository.NewMarketDataRepository(cfg, appLogger)
	signalRepo := repository.NewSignalRepository(cfg, appLogger)
	brokerRepo := repository.NewBrokerRepository(cfg, appLogger)

	// Initialize services
	selector := service.NewOptionSelector(cfg, appLogger)
	riskGate := service.NewRiskGate(riskRepo, appLogger)
	executor := service.NewTradeExecutor(cfg, appLogger, brokerRepo, tradeRepo, notifier)
	monitor := service.NewPositionMonitor(cfg, appLogger, positionRepo, marketDataRepo, riskGate, executor)
	scanner := service.NewOpportunityScanner(cfg, appLogger, automationRepo, positionRepo, marketDataRepo, signalRepo, selector, riskGate, executor)
	orchestrator := service.NewCycleOrchestrator(cfg, appLogger, automationRepo, positionRepo, cycleRunRepo, lockRepo, monitor, scanner, notifier)

	manager, err := service.NewEngineManager(cfg, appLogger, orchestrator)
	if err != nil {
		appLogger.Fatal("Failed to initialize engine manager", logger.ErrorField(err))
	}

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true

	// Initialize handlers and routes
	engineHandler := delivery.NewEngineHandler(manager, orchestrator, automationRepo, cycleRunRepo, appLogger)
	apiV1 := e.Group("/api/v1")
	engineGroup := apiV1.Group("/engine")
	engineHandler.RegisterRoutes(engineGroup)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.API.Port)
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop() // trigger shutdown
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	appLogger.Info("Shutting down server...")

	// Let in-flight cycles finish their current item before exiting.
	manager.Shutdown()

	// Gracefully shutdown the server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	appLogger.Info("Server exiting")
}

func main() {
	rootCmd := &cobra.Command{Use: "engine-service"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config-engine.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing engine-service CLI: %s\n", err)
		os.Exit(1)
	}
}
