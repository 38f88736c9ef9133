// Package scheduler drives the engine's periodic jobs: the strategy run,
// the risk sweep and the end-of-day settlement. Each job fans out across
// the watchlist with a bounded errgroup; a failure on one symbol is logged
// and never aborts the rest of the cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"stockpilot/broker"
	"stockpilot/journal"
	"stockpilot/market"
	"stockpilot/notify"
	"stockpilot/risk"
	"stockpilot/strategies"
)

const (
	defaultMinStrength = 0.3
	defaultCandleCount = 60
	defaultConcurrency = 4
)

// CandleSource provides OHLCV history for strategy analysis.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, m broker.Market, count int) (market.Series, error)
}

// Executor is the slice of the execution engine the scheduler drives.
type Executor interface {
	ExecuteSignal(ctx context.Context, symbol string, m broker.Market, res strategies.Result) *broker.OrderResult
	ExecuteStopLoss(ctx context.Context, symbol string, m broker.Market, qty int64) *broker.OrderResult
	ExecuteTakeProfit(ctx context.Context, symbol string, m broker.Market, qty int64) *broker.OrderResult
	CheckSplitBuyOpportunity(ctx context.Context, symbol string, m broker.Market) *broker.OrderResult
	CheckPendingOrders(ctx context.Context)
	StageSymbols(m broker.Market) []string
}

// RiskChecker is the slice of the risk engine the scheduler consults.
type RiskChecker interface {
	CanTrade(ctx context.Context) (allowed bool, reason string)
	UpdateDynamicThresholds(symbol string, s market.Series)
	CheckPositions(positions []broker.Position) risk.CheckResult
}

// Store is the persistence the scheduler reads and settles against.
type Store interface {
	WatchSymbols(m broker.Market) ([]string, error)
	GetTradesToday() ([]journal.Trade, error)
	SaveDailySummary(d journal.DailySummary) error
	CleanupOldData(retentionDays int) error
}

// Config holds the job cadence and fan-out bounds.
type Config struct {
	Markets           []broker.Market
	StrategyInterval  time.Duration
	RiskInterval      time.Duration
	SettlementHour    int // local hour for the daily settlement, e.g. 16
	MinSignalStrength float64
	CandleCount       int
	RetentionDays     int
	MaxConcurrency    int
}

// Scheduler owns the job loop. Construct with New, start with Run.
type Scheduler struct {
	cfg      Config
	broker   broker.Broker
	candles  CandleSource
	store    Store
	exec     Executor
	risk     RiskChecker
	strategy strategies.Strategy
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time

	lastSettled string // YYYY-MM-DD of the last settlement run
}

// New wires a scheduler. Zero-value knobs fall back to sane defaults; a nil
// logger falls back to the global one.
func New(cfg Config, b broker.Broker, candles CandleSource, store Store, exec Executor, rc RiskChecker, strat strategies.Strategy, notifier notify.Notifier, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.MinSignalStrength <= 0 {
		cfg.MinSignalStrength = defaultMinStrength
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = defaultCandleCount
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultConcurrency
	}
	return &Scheduler{
		cfg:      cfg,
		broker:   b,
		candles:  candles,
		store:    store,
		exec:     exec,
		risk:     rc,
		strategy: strat,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// SetClock replaces the scheduler's clock, for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run blocks, firing jobs on their tickers until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	strategyTick := time.NewTicker(s.cfg.StrategyInterval)
	defer strategyTick.Stop()
	riskTick := time.NewTicker(s.cfg.RiskInterval)
	defer riskTick.Stop()
	settleTick := time.NewTicker(time.Minute)
	defer settleTick.Stop()

	s.log.Info("scheduler started",
		slog.Duration("strategy_interval", s.cfg.StrategyInterval),
		slog.Duration("risk_interval", s.cfg.RiskInterval),
		slog.Int("settlement_hour", s.cfg.SettlementHour))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-strategyTick.C:
			s.RunStrategyJob(ctx)
		case <-riskTick.C:
			s.RunRiskJob(ctx)
		case <-settleTick.C:
			if s.settlementDue() {
				s.RunSettlementJob(ctx)
			}
		}
	}
}

func (s *Scheduler) settlementDue() bool {
	now := s.now()
	return now.Hour() >= s.cfg.SettlementHour && now.Format("2006-01-02") != s.lastSettled
}

// RunStrategyJob analyzes every watched symbol and executes the signals
// that clear the strength gate. Also refreshes the volatility-derived
// stop/take thresholds from the same candle fetch.
func (s *Scheduler) RunStrategyJob(ctx context.Context) {
	for _, m := range s.cfg.Markets {
		symbols, err := s.store.WatchSymbols(m)
		if err != nil {
			s.log.Error("watchlist read failed", slog.String("market", string(m)), slog.String("error", err.Error()))
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, symbol := range symbols {
			symbol := symbol
			g.Go(func() error {
				s.analyzeSymbol(gctx, symbol, m)
				return nil
			})
		}
		_ = g.Wait() // goroutines log their own failures
	}
}

func (s *Scheduler) analyzeSymbol(ctx context.Context, symbol string, m broker.Market) {
	series, err := s.candles.Candles(ctx, symbol, m, s.cfg.CandleCount)
	if err != nil {
		s.log.Warn("candle fetch failed",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return
	}

	s.risk.UpdateDynamicThresholds(symbol, series)

	res := s.strategy.Analyze(series)
	if res.Signal == strategies.Hold {
		return
	}
	if res.Strength < s.cfg.MinSignalStrength {
		s.log.Info("weak signal dropped",
			slog.String("symbol", symbol),
			slog.String("signal", string(res.Signal)),
			slog.Float64("strength", res.Strength))
		return
	}
	s.exec.ExecuteSignal(ctx, symbol, m, res)
}

// RunRiskJob is the protective sweep: expire stale limit orders, exit
// positions that hit their stop/take/trailing thresholds, then look for
// second-tranche buy opportunities. Exits always run; only the fresh buys
// at the end consult the trade gates.
func (s *Scheduler) RunRiskJob(ctx context.Context) {
	s.exec.CheckPendingOrders(ctx)

	for _, m := range s.cfg.Markets {
		positions, err := s.broker.GetPositions(ctx, m)
		if err != nil {
			s.log.Error("position fetch failed", slog.String("market", string(m)), slog.String("error", err.Error()))
			continue
		}

		res := s.risk.CheckPositions(positions)
		for _, pos := range res.StopLoss {
			s.exec.ExecuteStopLoss(ctx, pos.Symbol, m, pos.Qty)
		}
		for _, pos := range res.TakeProfit {
			s.exec.ExecuteTakeProfit(ctx, pos.Symbol, m, pos.Qty)
		}

		staged := s.exec.StageSymbols(m)
		if len(staged) == 0 {
			continue
		}
		if ok, reason := s.risk.CanTrade(ctx); !ok {
			s.log.Warn("split-buy sweep skipped", slog.String("reason", reason))
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, symbol := range staged {
			symbol := symbol
			g.Go(func() error {
				s.exec.CheckSplitBuyOpportunity(gctx, symbol, m)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// RunSettlementJob writes the daily summary, reports it, and prunes old
// journal rows. Wins and losses are counted from the exit reason recorded
// with each successful sell.
func (s *Scheduler) RunSettlementJob(ctx context.Context) {
	today := s.now().Format("2006-01-02")
	s.lastSettled = today

	trades, err := s.store.GetTradesToday()
	if err != nil {
		s.log.Error("settlement read failed", slog.String("error", err.Error()))
		return
	}

	summary := journal.DailySummary{Date: today}
	for _, t := range trades {
		if !t.Success {
			continue
		}
		summary.TotalTrades++
		if t.Side != broker.SideSell {
			continue
		}
		switch t.Strategy {
		case "stop_loss":
			summary.LossCount++
		case "take_profit":
			summary.WinCount++
		}
	}
	if bal, err := s.broker.GetCashBalance(ctx); err == nil {
		summary.TotalPnL = bal.TotalPnL
	} else {
		s.log.Warn("cash balance unavailable at settlement", slog.String("error", err.Error()))
	}

	if err := s.store.SaveDailySummary(summary); err != nil {
		s.log.Error("save daily summary failed", slog.String("error", err.Error()))
	}

	var positions []broker.Position
	for _, m := range s.cfg.Markets {
		if ps, err := s.broker.GetPositions(ctx, m); err == nil {
			positions = append(positions, ps...)
		}
	}
	s.notifier.NotifyDailySummary(summary, positions)

	if s.cfg.RetentionDays > 0 {
		if err := s.store.CleanupOldData(s.cfg.RetentionDays); err != nil {
			s.log.Error("journal cleanup failed", slog.String("error", err.Error()))
		}
	}

	s.log.Info("daily settlement written",
		slog.String("date", today),
		slog.Int("trades", summary.TotalTrades),
		slog.Float64("pnl", summary.TotalPnL))
}

// Describe returns a one-line human description of the job cadence, for the
// startup banner.
func (s *Scheduler) Describe() string {
	return fmt.Sprintf("strategy every %s, risk every %s, settlement at %02d:00",
		s.cfg.StrategyInterval, s.cfg.RiskInterval, s.cfg.SettlementHour)
}
