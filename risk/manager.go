// Package risk owns the money-protecting state: position sizing, dynamic
// stop/take thresholds, trailing stops and the portfolio circuit breakers.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"stockpilot/broker"
	"stockpilot/indicators"
	"stockpilot/market"
)

const (
	atrPeriod         = 14
	stopATRMultiplier = 1.5
	takeATRMultiplier = 2.5

	dynamicStopFloorPct = 2.0
	dynamicTakeFloorPct = 3.0

	cashMaxAge      = 30 * time.Second
	dailyLossMaxAge = 60 * time.Second
)

// Config is the risk option surface, read once at construction.
type Config struct {
	StopLossPct             float64
	TakeProfitPct           float64
	TrailingActivationPct   float64
	TrailingStopPct         float64
	DailyMaxLossPct         float64
	ConsecutiveLossLimit    int
	ConsecutiveLossCooldown time.Duration
	MaxDailyTrades          int
	TotalBudget             float64
	USDKRWRate              float64
}

// Store is the slice of persistence the risk engine needs. All other risk
// state lives in memory.
type Store interface {
	GetTradeCountToday() (int, error)
}

type thresholds struct {
	stopPct float64
	takePct float64
}

// Manager evaluates the trading gates and per-position exit rules.
// Safe for concurrent use.
type Manager struct {
	cfg    Config
	broker broker.Broker
	store  Store
	log    *slog.Logger
	now    func() time.Time

	mu                sync.Mutex
	dynamic           map[string]thresholds
	highWater         map[string]float64
	consecutiveLosses int
	lastLossAt        time.Time
	halted            bool
	cash              cached[broker.CashBalance]
}

// NewManager creates a risk manager. A nil logger falls back to the default.
func NewManager(cfg Config, b broker.Broker, store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		broker:    b,
		store:     store,
		log:       log,
		now:       time.Now,
		dynamic:   make(map[string]thresholds),
		highWater: make(map[string]float64),
	}
}

// SetClock replaces the manager's clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// cashSnapshot returns the cached cash balance, refreshing from the broker
// when older than maxAge. The daily-loss gate and sizing share one snapshot
// with different staleness bounds, so a decision cycle makes at most one
// balance call. The fetch runs outside the mutex: a slow balance endpoint
// must not block RecordStopLoss or the position sweep.
func (m *Manager) cashSnapshot(ctx context.Context, maxAge time.Duration) (broker.CashBalance, error) {
	m.mu.Lock()
	v, ok := m.cash.get(m.now(), maxAge)
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := m.broker.GetCashBalance(ctx)
	if err != nil {
		return broker.CashBalance{}, err
	}

	m.mu.Lock()
	m.cash.put(v, m.now())
	m.mu.Unlock()
	return v, nil
}

// CanTrade evaluates the three portfolio gates in order and returns the
// first denial: daily trade cap, consecutive-loss halt, daily loss cap.
func (m *Manager) CanTrade(ctx context.Context) (bool, string) {
	// Gate 1: daily trade count.
	if count, err := m.store.GetTradeCountToday(); err != nil {
		m.log.Warn("trade count unavailable, skipping gate", slog.String("error", err.Error()))
	} else if count >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade cap reached (%d/%d)", count, m.cfg.MaxDailyTrades)
	}

	// Gate 2: consecutive-loss halt with cooldown.
	m.mu.Lock()
	if m.halted {
		elapsed := m.now().Sub(m.lastLossAt)
		if elapsed >= m.cfg.ConsecutiveLossCooldown {
			m.halted = false
			m.log.Info("trading halt cleared after cooldown")
		} else {
			remaining := m.cfg.ConsecutiveLossCooldown - elapsed
			m.mu.Unlock()
			return false, fmt.Sprintf("trading halted, %d minutes of cooldown remaining",
				int(math.Ceil(remaining.Minutes())))
		}
	}
	m.mu.Unlock()

	// Gate 3: daily realized loss cap. Tripping it also sets the halt, so
	// recovery requires the cooldown, not just the next day.
	budget := m.cfg.TotalBudget
	snap, err := m.cashSnapshot(ctx, dailyLossMaxAge)
	if err != nil {
		m.log.Warn("cash balance unavailable, skipping daily loss gate", slog.String("error", err.Error()))
		return true, "ok"
	}
	if budget <= 0 {
		budget = snap.TotalEval
	}
	if budget > 0 {
		lossLimit := budget * m.cfg.DailyMaxLossPct / 100
		if snap.TotalPnL <= -lossLimit {
			m.mu.Lock()
			m.halted = true
			m.lastLossAt = m.now()
			m.mu.Unlock()
			return false, fmt.Sprintf("daily loss cap hit (%.0f <= -%.0f)", snap.TotalPnL, lossLimit)
		}
	}

	return true, "ok"
}

// budgetSlots maps budget size to how many symbols it should be spread
// across. Small accounts concentrate, large accounts diversify:
//
//	< 10M KRW  → 2
//	< 30M KRW  → 3
//	< 50M KRW  → 5
//	< 100M KRW → 7
//	else       → 10
func budgetSlots(budget float64) int {
	switch {
	case budget < 10_000_000:
		return 2
	case budget < 30_000_000:
		return 3
	case budget < 50_000_000:
		return 5
	case budget < 100_000_000:
		return 7
	default:
		return 10
	}
}

// CalculateBuyQty sizes a buy from the budget policy. Quantity 0 is a valid
// "do not buy" answer, never an error: missing prices, a zero budget or a
// failed balance fetch all degrade to 0.
func (m *Manager) CalculateBuyQty(ctx context.Context, symbol string, price float64, mk broker.Market) int64 {
	if price <= 0 {
		return 0
	}

	snap, err := m.cashSnapshot(ctx, cashMaxAge)
	if err != nil {
		m.log.Warn("buy sizing failed, cash balance unavailable",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return 0
	}

	budget := m.cfg.TotalBudget
	if budget <= 0 {
		budget = snap.TotalEval
	}
	if budget <= 0 {
		return 0
	}

	alloc := budget / float64(budgetSlots(budget))
	if cashCap := snap.Cash * 0.95; alloc > cashCap {
		alloc = cashCap
	}
	if mk == broker.US {
		if m.cfg.USDKRWRate <= 0 {
			return 0
		}
		alloc /= m.cfg.USDKRWRate
	}

	qty := int64(math.Floor(alloc / price))
	if qty < 0 {
		qty = 0
	}
	m.log.Info("buy sizing",
		slog.String("symbol", symbol),
		slog.Float64("budget", budget),
		slog.Float64("allocation", alloc),
		slog.Float64("price", price),
		slog.Int64("qty", qty))
	return qty
}

func clamp(v, floor, ceiling float64) float64 {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

// UpdateDynamicThresholds derives per-symbol stop/take percentages from
// realized volatility, overriding the static configuration until the next
// update. No-op without enough history.
func (m *Manager) UpdateDynamicThresholds(symbol string, s market.Series) {
	atr, err := indicators.ATR(s, atrPeriod)
	if err != nil {
		return
	}
	last := s.Last().Close
	if last <= 0 {
		return
	}
	atrPct := atr / last * 100

	th := thresholds{
		stopPct: clamp(atrPct*stopATRMultiplier, dynamicStopFloorPct, m.cfg.StopLossPct),
		takePct: clamp(atrPct*takeATRMultiplier, dynamicTakeFloorPct, m.cfg.TakeProfitPct),
	}

	m.mu.Lock()
	m.dynamic[symbol] = th
	m.mu.Unlock()

	m.log.Debug("dynamic thresholds updated",
		slog.String("symbol", symbol),
		slog.Float64("atr_pct", atrPct),
		slog.Float64("stop_pct", th.stopPct),
		slog.Float64("take_pct", th.takePct))
}

// Thresholds returns the effective (stop, take) percentages for a symbol:
// dynamic if present, the configured statics otherwise.
func (m *Manager) Thresholds(symbol string) (stopPct, takePct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholdsLocked(symbol)
}

func (m *Manager) thresholdsLocked(symbol string) (float64, float64) {
	if th, ok := m.dynamic[symbol]; ok {
		return th.stopPct, th.takePct
	}
	return m.cfg.StopLossPct, m.cfg.TakeProfitPct
}

// CheckResult lists positions that hit an exit rule in one sweep.
type CheckResult struct {
	StopLoss   []broker.Position
	TakeProfit []broker.Position
}

// CheckPositions updates high-water marks and flags positions that crossed
// their stop, take, or trailing-stop thresholds. Trailing state is implicit
// in the high-water mark: it activates once profit crosses the activation
// threshold and dies with the mark when the position closes.
func (m *Manager) CheckPositions(positions []broker.Position) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateHighWaterLocked(positions)

	var res CheckResult
	for _, pos := range positions {
		stopPct, takePct := m.thresholdsLocked(pos.Symbol)

		if pos.PnLPct <= -stopPct {
			m.log.Warn("stop-loss target",
				slog.String("symbol", pos.Symbol),
				slog.Float64("pnl_pct", pos.PnLPct),
				slog.Float64("stop_pct", stopPct))
			res.StopLoss = append(res.StopLoss, pos)
			continue
		}

		// Hard ceiling always wins over trailing logic.
		if pos.PnLPct >= takePct {
			m.log.Info("take-profit target",
				slog.String("symbol", pos.Symbol),
				slog.Float64("pnl_pct", pos.PnLPct),
				slog.Float64("take_pct", takePct))
			res.TakeProfit = append(res.TakeProfit, pos)
			continue
		}

		if pos.PnLPct >= m.cfg.TrailingActivationPct {
			high := m.highWater[pos.Symbol]
			if high > 0 {
				dropPct := (high - pos.CurrentPrice) / high * 100
				if dropPct >= m.cfg.TrailingStopPct {
					m.log.Info("trailing-stop target",
						slog.String("symbol", pos.Symbol),
						slog.Float64("high", high),
						slog.Float64("drop_pct", dropPct))
					res.TakeProfit = append(res.TakeProfit, pos)
				}
			}
		}
	}
	return res
}

// updateHighWaterLocked raises marks for held symbols and drops marks for
// symbols no longer held, so a stale mark can't re-trigger trailing logic
// on a re-entered position.
func (m *Manager) updateHighWaterLocked(positions []broker.Position) {
	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.Symbol] = true
		if pos.CurrentPrice > m.highWater[pos.Symbol] {
			m.highWater[pos.Symbol] = pos.CurrentPrice
		}
	}
	for symbol := range m.highWater {
		if !held[symbol] {
			delete(m.highWater, symbol)
		}
	}
}

// RecordStopLoss registers a realized stop-loss. Call exactly once per
// realized stop, never on a failed order. Crossing the configured limit
// trips the halt.
func (m *Manager) RecordStopLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveLosses++
	m.lastLossAt = m.now()
	if m.consecutiveLosses >= m.cfg.ConsecutiveLossLimit {
		m.halted = true
		m.log.Warn("consecutive-loss breaker tripped",
			slog.Int("losses", m.consecutiveLosses),
			slog.Duration("cooldown", m.cfg.ConsecutiveLossCooldown))
	}
}

// RecordProfit registers a realized profit, resetting the loss streak.
func (m *Manager) RecordProfit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveLosses = 0
}
