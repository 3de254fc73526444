// Command bot runs the automated trading agent: a market maker, live
// arbitrage, and statistical-edge strategy engine sitting behind a shared
// risk pipeline, in either paper or live execution mode (§4.12).
//
// Architecture:
//
//	internal/config        — environment-variable configuration (§6)
//	internal/venue          — signed REST client for the exchange (§4.1)
//	internal/book           — local order-book mirror + completeness-arb scan
//	internal/state          — in-memory balance/position/order store (§4.4)
//	internal/feed           — polling market-data feed (§4.3)
//	internal/events         — websocket score/odds adapters (§4.13)
//	internal/risk           — Kelly sizing, exposure limits, circuit breaker
//	internal/strategy       — market maker, live arb, stat edge (§4.6-4.8)
//	internal/execution      — paper fill simulator / live venue executor
//	internal/orchestrator   — wires everything above and drives the tick loop
//
// All configuration is read from the environment; there is no config file.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"predict-agent/internal/config"
	"predict-agent/internal/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "bot",
		Short:         "Automated trading agent for a binary prediction-market exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := newLogger(cfg)

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct orchestrator", "error", err)
		return err
	}

	logger.Info("starting trading agent",
		"mode", cfg.Mode,
		"market_maker", cfg.EnableMarketMaker,
		"live_arbitrage", cfg.EnableLiveArbitrage,
		"statistical_edge", cfg.EnableStatisticalEdge,
		"initial_balance", cfg.InitialBalance,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		logger.Error("agent exited with error", "error", err)
		return err
	}

	logger.Info("agent stopped cleanly")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
