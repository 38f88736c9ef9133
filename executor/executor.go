// Package executor turns strategy signals into broker orders: split
// entries/exits, limit pricing with timeout fallback, duplicate-signal
// suppression and trade-record persistence.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stockpilot/broker"
	"stockpilot/journal"
	"stockpilot/market"
	"stockpilot/notify"
	"stockpilot/strategies"
)

const positionCacheTTL = 30 * time.Second

// Config is the execution option surface, read once at construction.
type Config struct {
	LimitOrderEnabled   bool
	LimitBuyOffsetPct   float64
	LimitTPOffsetPct    float64
	LimitOrderTimeout   time.Duration
	SplitBuyEnabled     bool
	SplitBuyFirstRatio  float64
	SplitBuyDipPct      float64
	SplitSellEnabled    bool
	SplitSellFirstRatio float64
}

// RiskGate is the slice of the risk engine the executor consumes.
type RiskGate interface {
	CanTrade(ctx context.Context) (allowed bool, reason string)
	CalculateBuyQty(ctx context.Context, symbol string, price float64, m broker.Market) int64
	RecordStopLoss()
	RecordProfit()
}

// Store is the slice of persistence the executor writes to.
type Store interface {
	SaveTrade(t journal.Trade) error
	SaveSignal(s journal.SignalRecord) error
}

// Engine is the order execution engine. Methods for a single symbol are
// serialized through a per-symbol mutex; different symbols may run
// concurrently.
type Engine struct {
	broker   broker.Broker
	store    Store
	notifier notify.Notifier
	risk     RiskGate
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	pending  map[string]PendingLimitOrder
	stages   map[string]*PositionStage
	posCache map[broker.Market]positionsSnapshot
	symMu    map[string]*sync.Mutex
}

// New creates an execution engine. A nil logger falls back to the default.
func New(cfg Config, b broker.Broker, store Store, notifier notify.Notifier, risk RiskGate, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		broker:   b,
		store:    store,
		notifier: notifier,
		risk:     risk,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		pending:  make(map[string]PendingLimitOrder),
		stages:   make(map[string]*PositionStage),
		posCache: make(map[broker.Market]positionsSnapshot),
		symMu:    make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the engine's clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.symMu[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.symMu[symbol] = l
	}
	return l
}

// cachedPositions returns the position snapshot for a market, at most
// positionCacheTTL old.
func (e *Engine) cachedPositions(ctx context.Context, m broker.Market) ([]broker.Position, error) {
	e.mu.Lock()
	snap, ok := e.posCache[m]
	now := e.now()
	e.mu.Unlock()
	if ok && now.Sub(snap.fetchedAt) <= positionCacheTTL {
		return snap.positions, nil
	}

	positions, err := e.broker.GetPositions(ctx, m)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.posCache[m] = positionsSnapshot{positions: positions, fetchedAt: e.now()}
	e.mu.Unlock()
	return positions, nil
}

func (e *Engine) heldPosition(ctx context.Context, symbol string, m broker.Market) (*broker.Position, error) {
	positions, err := e.cachedPositions(ctx, m)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Qty > 0 {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// ExecuteSignal runs the full decision for one strategy signal. It returns
// nil when no order was attempted: HOLD signals, duplicate signals against
// the current holdings, policy denials and sizing to zero are all normal
// negative decisions, not errors.
func (e *Engine) ExecuteSignal(ctx context.Context, symbol string, m broker.Market, res strategies.Result) *broker.OrderResult {
	if res.Signal == strategies.Hold {
		return nil
	}

	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if !e.broker.SupportsMarket(m) {
		e.log.Warn("market not supported, signal dropped",
			slog.String("symbol", symbol), slog.String("market", string(m)))
		return nil
	}

	held, err := e.heldPosition(ctx, symbol, m)
	if err != nil {
		e.log.Error("position check failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		e.notifier.NotifyError("position check failed: " + symbol)
		return nil
	}
	// Duplicate-signal suppression: a strategy re-emitting the same signal
	// across ticks must not double an order.
	if res.Signal == strategies.Buy && held != nil {
		e.log.Info("already held, buy skipped", slog.String("symbol", symbol))
		return nil
	}
	if res.Signal == strategies.Sell && held == nil {
		e.log.Info("not held, sell skipped", slog.String("symbol", symbol))
		return nil
	}

	if ok, reason := e.risk.CanTrade(ctx); !ok {
		e.log.Warn("trade blocked", slog.String("symbol", symbol), slog.String("reason", reason))
		e.notifier.NotifyError("trade blocked: " + reason)
		return nil
	}

	if err := e.store.SaveSignal(journal.SignalRecord{
		Symbol:   symbol,
		Market:   m,
		Strategy: res.StrategyName,
		Signal:   string(res.Signal),
		Strength: res.Strength,
		Detail:   res.Detail,
		At:       e.now(),
	}); err != nil {
		e.log.Error("save signal failed", slog.String("error", err.Error()))
	}
	e.notifier.NotifySignal(symbol, m, res.StrategyName, string(res.Signal), res.Detail)

	if res.Signal == strategies.Buy {
		return e.executeBuy(ctx, symbol, m, res.StrategyName)
	}
	return e.executeSell(ctx, symbol, m, held, res.StrategyName)
}

func (e *Engine) executeBuy(ctx context.Context, symbol string, m broker.Market, strategy string) *broker.OrderResult {
	price, err := e.broker.GetPrice(ctx, symbol, m)
	if err != nil {
		e.log.Error("price fetch failed, buy skipped", slog.String("symbol", symbol), slog.String("error", err.Error()))
		e.notifier.NotifyError("buy failed: " + symbol + ": " + err.Error())
		return nil
	}

	fullQty := e.risk.CalculateBuyQty(ctx, symbol, price.Price, m)
	if fullQty <= 0 {
		e.log.Info("buy quantity 0, order skipped", slog.String("symbol", symbol))
		return nil
	}

	orderQty := fullQty
	if e.cfg.SplitBuyEnabled {
		orderQty = int64(float64(fullQty) * e.cfg.SplitBuyFirstRatio)
		if orderQty < 1 {
			orderQty = 1
		}
	}

	var limitPrice float64
	if e.cfg.LimitOrderEnabled {
		if !e.pendingFree(entryKey(symbol)) {
			e.log.Warn("entry order still pending, buy skipped", slog.String("symbol", symbol))
			return nil
		}
		limitPrice = market.RoundDownToTick(m, price.Price*(1-e.cfg.LimitBuyOffsetPct/100))
	}

	result := e.placeOrder(ctx, broker.SideBuy, symbol, m, orderQty, limitPrice)
	e.logOrder(result, m, strategy, price.Name)

	if result.Success {
		if limitPrice > 0 {
			e.registerPending(entryKey(symbol), PendingLimitOrder{
				OrderNo:  result.OrderNo,
				Symbol:   symbol,
				Market:   m,
				Side:     broker.SideBuy,
				Qty:      orderQty,
				Price:    limitPrice,
				PlacedAt: e.now(),
				Strategy: strategy,
			})
		}
		if e.cfg.SplitBuyEnabled {
			e.setStage(&PositionStage{
				Symbol:     symbol,
				Market:     m,
				Stage:      1,
				FirstPrice: price.Price,
				FirstQty:   orderQty,
			})
		}
	}
	return &result
}

// executeSell closes the whole holding at market: a strategy SELL is always
// a complete exit, unlike the partial take-profit path.
func (e *Engine) executeSell(ctx context.Context, symbol string, m broker.Market, held *broker.Position, strategy string) *broker.OrderResult {
	if held == nil || held.Qty <= 0 {
		return nil
	}
	result := e.placeOrder(ctx, broker.SideSell, symbol, m, held.Qty, 0)
	e.logOrder(result, m, strategy, held.Name)
	if result.Success {
		e.deleteStage(symbol)
	}
	return &result
}

// placeOrder dispatches to the broker and converts a transport error into a
// failed OrderResult, so every realized attempt flows through one path.
func (e *Engine) placeOrder(ctx context.Context, side broker.Side, symbol string, m broker.Market, qty int64, limitPrice float64) broker.OrderResult {
	var res broker.OrderResult
	var err error
	if side == broker.SideBuy {
		res, err = e.broker.Buy(ctx, symbol, m, qty, limitPrice)
	} else {
		res, err = e.broker.Sell(ctx, symbol, m, qty, limitPrice)
	}
	if err != nil {
		return broker.OrderResult{
			Success: false,
			Message: err.Error(),
			Symbol:  symbol,
			Side:    side,
			Qty:     qty,
			Price:   limitPrice,
		}
	}
	return res
}

// logOrder persists and notifies exactly once per realized order attempt.
func (e *Engine) logOrder(res broker.OrderResult, m broker.Market, strategy, name string) {
	if err := e.store.SaveTrade(journal.Trade{
		Symbol:   res.Symbol,
		Name:     name,
		Market:   m,
		Side:     res.Side,
		Qty:      res.Qty,
		Price:    res.Price,
		OrderNo:  res.OrderNo,
		Strategy: strategy,
		Success:  res.Success,
		Message:  res.Message,
		At:       e.now(),
	}); err != nil {
		e.log.Error("save trade failed", slog.String("symbol", res.Symbol), slog.String("error", err.Error()))
	}
	e.notifier.NotifyOrder(res.Symbol, res.Side, res.Qty, res.Price, res.Success, res.Message)

	if res.Success {
		e.log.Info("order placed",
			slog.String("symbol", res.Symbol),
			slog.String("side", string(res.Side)),
			slog.Int64("qty", res.Qty),
			slog.Float64("price", res.Price),
			slog.String("strategy", strategy))
	} else {
		e.log.Error("order failed",
			slog.String("symbol", res.Symbol),
			slog.String("side", string(res.Side)),
			slog.String("message", res.Message))
	}
}
