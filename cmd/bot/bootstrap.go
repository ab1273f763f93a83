package main

import (
	"context"
	"fmt"
	"os"

	"ai-trading-bot/internal/gateway"
	"ai-trading-bot/internal/gateway/gatewayobs"
	"ai-trading-bot/internal/interfaces"
	"ai-trading-bot/internal/logger"
	"ai-trading-bot/internal/store"
	"ai-trading-bot/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger and tracer
func initializeSystem(cfg *store.Config) error {
	// No logging section in the config file falls back to the LOG_* env vars.
	var err error
	if cfg.Logging.Level == "" && cfg.Logging.Format == "" && cfg.Logging.File == "" {
		err = logger.Init()
	} else {
		err = logger.InitWithConfig(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads environment variables and the configuration file
func loadConfig() (*store.Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("BOT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return store.LoadConfig(path)
}

// initializeGateway builds the broker gateway connector with observability
func initializeGateway(ctx context.Context, cfg *store.Config) interfaces.Gateway {
	mgr := gateway.New(gateway.Config{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		ClientID:        cfg.Gateway.ClientID,
		ConnectTimeout:  cfg.ConnectTimeout(),
		RequestTimeout:  cfg.RequestTimeout(),
		OrderTimeout:    cfg.OrderTimeout(),
		OrderIDWait:     cfg.OrderIDWait(),
		MarketDataMode:  cfg.Gateway.MarketDataMode,
		AccountTag:      cfg.Gateway.AccountTag,
		AccountCurrency: cfg.Gateway.AccountCurrency,
		IndexSymbol:     cfg.Gateway.IndexSymbol,
		ReconnectBase:   cfg.ReconnectBase(),
		ReconnectMax:    cfg.ReconnectMax(),
	})

	mgr.OnConnectivityChange(func(connected bool) {
		if connected {
			logger.Info(ctx, "Gateway connectivity restored")
		} else {
			logger.Warn(ctx, "Gateway connectivity lost")
		}
	})
	mgr.OnError(func(err error) {
		logger.Warn(ctx, "Gateway error event", "error", err)
	})

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will not be placed")
	}

	return gatewayobs.Wrap(mgr)
}
