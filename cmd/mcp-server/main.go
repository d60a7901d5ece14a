// Package main runs the analysis engine as an MCP server over stdio.
// Logs go to stderr so stdout carries only protocol messages.
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
	"github.com/medsafe-analysis-server/internal/mcp"
)

func main() {
	bootstrap := logging.New(config.DefaultLogging())

	if err := config.LoadDotEnv(); err != nil {
		bootstrap.WithError(err).Fatal("Failed to load .env file")
	}

	configManager, err := config.NewManager()
	if err != nil {
		bootstrap.WithError(err).Fatal("Failed to load configuration")
	}

	// Desktop clients spawn one process per session, so shared stores are not needed
	cfg := configManager.GetConfig()
	dataDir := config.DefaultDataDir()
	if err := config.EnsureDataDir(dataDir); err != nil {
		bootstrap.WithError(err).Fatal("Failed to create data directory")
	}
	config.ApplyLite(cfg, dataDir)

	if err := config.Validate(cfg); err != nil {
		bootstrap.WithError(err).Fatal("Configuration validation failed")
	}

	logger := logging.New(cfg.Logging)
	logger.WithField("data_dir", dataDir).Info("Starting medication safety MCP server")

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

	server := mcp.NewServer(engine.Analyzer, engine.Resolver, api.Version, logger)
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("MCP server stopped")
}
