package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-trading-bot/internal/interfaces"
	"ai-trading-bot/internal/logger"
	"ai-trading-bot/internal/store"
	"ai-trading-bot/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	cfg, err := loadConfig()
	must(err)
	must(initializeSystem(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	gw := initializeGateway(ctx, cfg)

	if err := gw.Connect(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Initial gateway connect failed", err)
		os.Exit(1)
	}

	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()

	logger.Info(ctx, "Bot started", "poll_seconds", cfg.PollSeconds, "universe", cfg.Universe)

	for {
		select {
		case <-tick.C:
			pollCycle(ctx, cfg, gw)
		case <-sigc:
			logger.Info(ctx, "Shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Disconnect(shutdownCtx)
			_ = trace.Shutdown(shutdownCtx)
			shutdownCancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollCycle exercises the connector once: benchmark level, account value,
// positions and quotes for the configured universe. Trading decisions live
// outside this process.
func pollCycle(ctx context.Context, cfg *store.Config, gw interfaces.Gateway) {
	if level, err := gw.IndexLevel(ctx); err != nil {
		logger.Warn(ctx, "Index level unavailable", "error", err)
	} else {
		logger.Info(ctx, "Index level", "symbol", cfg.Gateway.IndexSymbol, "level", level)
	}

	if value, err := gw.AccountValue(ctx); err != nil {
		logger.Warn(ctx, "Account value unavailable", "error", err)
	} else {
		logger.Info(ctx, "Account value", "tag", cfg.Gateway.AccountTag, "value", value.String())
	}

	if positions, err := gw.Positions(ctx); err != nil {
		logger.Warn(ctx, "Positions unavailable", "error", err)
	} else {
		logger.Info(ctx, "Position snapshot", "count", len(positions))
		for symbol, qty := range positions {
			logger.Debug(ctx, "Position", "symbol", symbol, "qty", qty)
		}
	}

	for _, symbol := range cfg.Universe {
		price, err := gw.Quote(ctx, symbol)
		if err != nil {
			logger.Warn(ctx, "Quote unavailable", "symbol", symbol, "error", err)
			continue
		}
		logger.Info(ctx, "Quote", "symbol", symbol, "price", price)
	}
}
