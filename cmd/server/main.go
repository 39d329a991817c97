package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/api"
	"github.com/cornchan/cornchan/internal/ban"
	"github.com/cornchan/cornchan/internal/board"
	"github.com/cornchan/cornchan/internal/images"
	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
	"github.com/cornchan/cornchan/pkg/telemetry"
)

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting cornchan server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	st, err := store.New(&cfg.Store, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer st.Close()

	pipeline, err := images.New(&cfg.Images)
	if err != nil {
		logger.Fatal("Failed to prepare image directories", zap.Error(err))
	}

	boards := board.NewService(st, pipeline)
	gate := ban.NewGate(st)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	for _, b := range cfg.Boards {
		if _, err := boards.SeedBoard(seedCtx, b.Name, b.Slug, b.Description); err != nil {
			logger.Fatal("Failed to seed board", zap.String("name", b.Name), zap.Error(err))
		}
	}
	cancelSeed()

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := api.NewRouter(&cfg.Server, boards, gate, st).SetupRoutes(engine, cfg.Telemetry.ServiceName); err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
