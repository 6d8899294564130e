package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"flipperBot/config"
	"flipperBot/internal/adapters/binanceclient"
	"flipperBot/internal/adapters/logger"
	"flipperBot/internal/adapters/paperclient"
	"flipperBot/internal/adapters/sqlite"
	"flipperBot/internal/app"
	"flipperBot/internal/control"
	"flipperBot/internal/engine"
	"flipperBot/internal/exits"
	"flipperBot/internal/ports"
	"flipperBot/internal/reconcile"
	"flipperBot/internal/risk"
	"flipperBot/internal/sizing"
	"flipperBot/internal/strategy"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading process",
	Long: `Starts the flip engine:
1. Loads configuration from the environment (.env supported)
2. Reconciles local state against the exchange before accepting signals
3. Streams klines into the strategy and fills into the engine
4. Serves the control API and Prometheus metrics

Set PAPER_MODE=true to simulate fills locally against live market data.`,
	RunE: runProcess,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	ctx := cmd.Context()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{
		"level": cfg.LogLevel.String(), "format": cfg.LogFormat,
	})

	store, err := sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing store")
		}
	}()

	gateway, err := newGateway(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("create exchange gateway: %w", err)
	}

	guard := risk.New(risk.Config{
		MaxPositionSize: cfg.MaxPositionSize,
		MaxNotional:     cfg.MaxNotional,
		MaxLeverage:     cfg.MaxLeverage,
	}, appLogger)

	sizer, err := sizing.New(sizing.Config{
		Mode:    cfg.SizingMode,
		Value:   cfg.SizingValue,
		Reserve: cfg.SizingReserve,
		Cap:     cfg.SizingCap,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("create sizer: %w", err)
	}

	strat, err := strategy.New(strategy.DefaultConfig(), appLogger)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}

	eng, err := engine.New(engine.Config{
		DefaultLeverage:      cfg.DefaultLeverage,
		QuoteAsset:           cfg.QuoteAsset,
		TransitionalTimeout:  cfg.TransitionalTimeout,
		StaleIntentTTL:       cfg.StaleIntentTTL,
		HousekeepingInterval: cfg.HousekeepingInterval,
		SubmitTimeout:        cfg.SubmitTimeout,
		ExitDefaults: exits.Config{
			TakeProfitPct:       cfg.TakeProfitPct,
			StopLossPct:         cfg.StopLossPct,
			BreakEvenTriggerPct: cfg.BreakEvenTriggerPct,
			BreakEvenOffsetPct:  cfg.BreakEvenOffsetPct,
			MaxHold:             cfg.MaxHold,
		},
	}, engine.Deps{Logger: appLogger, Gateway: gateway, Store: store, Guard: guard, Sizer: sizer})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	recon, err := reconcile.New(reconcile.Config{
		Interval: cfg.ReconcileInterval,
		Timeout:  cfg.ReconcileTimeout,
	}, gateway, store, eng, appLogger)
	if err != nil {
		return fmt.Errorf("create reconciliation loop: %w", err)
	}

	ctrl, err := control.New(control.Config{
		ListenAddr: cfg.ControlListenAddr,
		Engine:     eng,
		Store:      store,
		Logger:     appLogger,
	})
	if err != nil {
		return fmt.Errorf("create control server: %w", err)
	}

	svc, err := app.New(app.Deps{
		Config:   cfg,
		Logger:   appLogger,
		Gateway:  gateway,
		Store:    store,
		Strategy: strat,
		Engine:   eng,
		Recon:    recon,
		Control:  ctrl,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("run service: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) (ports.Logger, error) {
	if cfg.LogFormat == "std" {
		return logger.NewStdLogger(cfg.LogLevel), nil
	}
	return logger.NewZapLogger(cfg.LogLevel)
}

// newGateway builds the Binance adapter and, in paper mode, wraps it so
// orders fill against live market data without touching the account.
func newGateway(cfg *config.Config, appLogger ports.Logger) (ports.Gateway, error) {
	binance, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		MaxSubmitAttempts:    cfg.MaxSubmitAttempts,
		RetryMinDelay:        cfg.RetryMinDelay,
		RetryMaxDelay:        cfg.RetryMaxDelay,
		OrderRateLimit:       cfg.OrderRateLimit,
		OrderRateBurst:       cfg.OrderRateBurst,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, err
	}
	if !cfg.PaperMode {
		return binance, nil
	}
	appLogger.Warn(context.Background(), "Paper mode enabled, orders are simulated locally")
	return paperclient.New(paperclient.Config{
		Market:         binance,
		Logger:         appLogger,
		InitialBalance: cfg.PaperBalance,
	})
}
