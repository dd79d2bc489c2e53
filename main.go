package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liquidity-trap-engine/config"
	"liquidity-trap-engine/internal/api"
	"liquidity-trap-engine/internal/engine"
	"liquidity-trap-engine/internal/events"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
	"liquidity-trap-engine/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("LTE_CONFIG"), "path to a JSON or YAML config file")
	sample := flag.String("sample-config", "", "write a sample config to this path and exit")
	flag.Parse()

	if *sample != "" {
		if err := config.GenerateSampleConfig(*sample); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := logging.New(cfg.Logging)
	logging.SetDefault(logger)
	logger.Info().Str("level", cfg.Logging.Level).Msg("Structured logging initialized")

	// Initialize tracing
	if err := tracing.Init(cfg.Tracing); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Initialize event bus
	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventPositionClosed, func(event events.Event) {
		logger.Info().
			Str("symbol", event.Symbol).
			Interface("data", event.Data).
			Msg("Position closed")
	})
	eventBus.Subscribe(events.EventError, func(event events.Event) {
		logger.Error().
			Interface("data", event.Data).
			Msg("Engine error")
	})

	// Core components
	manager := risk.NewManager(cfg.Risk, eventBus, logger)
	manager.UpdateAccountBalance(cfg.Engine.AccountBalance)
	analyzer := pipeline.NewAnalyzer(cfg.Strategy, logger)
	eng := engine.New(cfg.Engine, analyzer, manager, eventBus, logger)

	logger.Info().
		Str("base_timeframe", string(cfg.Engine.BaseTimeframe)).
		Bool("auto_execute", cfg.Engine.AutoExecute).
		Int("max_open_positions", cfg.Risk.MaxOpenPositions).
		Msg("Engine initialized")

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		server = api.NewServer(api.ServerConfig{
			Port:           cfg.Server.Port,
			Host:           cfg.Server.Host,
			AllowedOrigins: api.ParseOrigins(cfg.Server.AllowedOrigins),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
			ProductionMode: true,
		}, eng, manager, eventBus, cfg.Strategy, logger)

		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down web server")
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}

	pr := manager.PortfolioRisk()
	logger.Info().
		Int("open_positions", pr.PositionCount).
		Float64("open_risk", pr.TotalRisk).
		Msg("Shutdown complete")
}
