package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockpilot/broker"
	"stockpilot/broker/paper"
	"stockpilot/config"
	"stockpilot/executor"
	"stockpilot/journal"
	"stockpilot/notify"
	"stockpilot/risk"
	"stockpilot/scheduler"
	"stockpilot/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine from a config file",
	Long: `Start the engine: strategy analysis, order execution and the risk
sweep run on their configured intervals until interrupted.

Example:
  stockpilot run -f stockpilot.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "file", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("file")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	store, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	// Config-declared symbols are upserted every start, so edits to the
	// file take effect without touching manually added rows.
	for _, w := range cfg.Watchlist {
		if err := store.AddWatch(journal.WatchItem{
			Symbol: w.Symbol,
			Market: broker.Market(strings.ToUpper(w.Market)),
			Name:   w.Name,
			Source: "config",
		}); err != nil {
			return fmt.Errorf("seed watchlist: %w", err)
		}
	}

	paperEngine := paper.NewEngine(cfg.Paper.StartingCash, cfg.Budget.USDKRWRate)
	brk := broker.NewRetrying(paperEngine, 3, time.Second, 10*time.Second, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled() {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	}

	riskMgr := risk.NewManager(risk.Config{
		StopLossPct:             cfg.Risk.StopLossPct,
		TakeProfitPct:           cfg.Risk.TakeProfitPct,
		TrailingActivationPct:   cfg.Risk.TrailingActivationPct,
		TrailingStopPct:         cfg.Risk.TrailingStopPct,
		DailyMaxLossPct:         cfg.Risk.DailyMaxLossPct,
		ConsecutiveLossLimit:    cfg.Risk.ConsecutiveLossLimit,
		ConsecutiveLossCooldown: time.Duration(cfg.Risk.ConsecutiveLossCooldownMins) * time.Minute,
		MaxDailyTrades:          cfg.Risk.MaxDailyTrades,
		TotalBudget:             cfg.Budget.Total,
		USDKRWRate:              cfg.Budget.USDKRWRate,
	}, brk, store, log)

	exec := executor.New(executor.Config{
		LimitOrderEnabled:   cfg.Execution.LimitOrderEnabled,
		LimitBuyOffsetPct:   cfg.Execution.LimitBuyOffsetPct,
		LimitTPOffsetPct:    cfg.Execution.LimitTPOffsetPct,
		LimitOrderTimeout:   time.Duration(cfg.Execution.LimitOrderTimeoutSec) * time.Second,
		SplitBuyEnabled:     cfg.Execution.SplitBuyEnabled,
		SplitBuyFirstRatio:  cfg.Execution.SplitBuyFirstRatio,
		SplitBuyDipPct:      cfg.Execution.SplitBuyDipPct,
		SplitSellEnabled:    cfg.Execution.SplitSellEnabled,
		SplitSellFirstRatio: cfg.Execution.SplitSellFirstRatio,
	}, brk, store, notifier, riskMgr, log)

	strat, err := strategies.ByName(cfg.Strategy.Name)
	if err != nil {
		return fmt.Errorf("select strategy: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Markets:           cfg.ParsedMarkets(),
		StrategyInterval:  time.Duration(cfg.Schedule.StrategyIntervalSec) * time.Second,
		RiskInterval:      time.Duration(cfg.Schedule.RiskIntervalSec) * time.Second,
		SettlementHour:    cfg.Schedule.SettlementHour,
		MinSignalStrength: cfg.Strategy.MinStrength,
		CandleCount:       cfg.Strategy.CandleCount,
		RetentionDays:     cfg.Journal.RetentionDays,
	}, brk, paperEngine, store, exec, riskMgr, strat, notifier, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("engine starting",
		slog.String("mode", cfg.Mode),
		slog.String("strategy", strat.Name()),
		slog.String("schedule", sched.Describe()))
	notifier.NotifySystem("stockpilot started: " + sched.Describe())

	err = sched.Run(ctx)
	notifier.NotifySystem("stockpilot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
