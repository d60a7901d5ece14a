package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medsafe-analysis-server/internal/api"
	"github.com/medsafe-analysis-server/internal/app"
	"github.com/medsafe-analysis-server/internal/config"
	"github.com/medsafe-analysis-server/internal/logging"
)

func main() {
	bootstrap := logging.New(config.DefaultLogging())

	if err := config.LoadDotEnv(); err != nil {
		bootstrap.WithError(err).Fatal("Failed to load .env file")
	}

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		bootstrap.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		bootstrap.WithError(err).Fatal("Configuration validation failed")
	}

	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)
	logger.WithField("config_file", configManager.ConfigFileUsed()).Info("Starting medication safety analysis server")

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build analysis engine")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Shutdown was not clean")
		}
	}()

	engine.Sweeper.Start()

	server := api.NewServer(configManager, engine.APIOptions())
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
