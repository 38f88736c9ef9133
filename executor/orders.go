package executor

import (
	"context"
	"log/slog"

	"stockpilot/broker"
	"stockpilot/market"
)

// ExecuteStopLoss sells the full quantity at market. Risk exits never wait
// on price negotiation.
func (e *Engine) ExecuteStopLoss(ctx context.Context, symbol string, m broker.Market, qty int64) *broker.OrderResult {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	e.log.Warn("stop-loss exit", slog.String("symbol", symbol), slog.Int64("qty", qty))

	result := e.placeOrder(ctx, broker.SideSell, symbol, m, qty, 0)
	e.logOrder(result, m, "stop_loss", "")
	if result.Success {
		e.risk.RecordStopLoss()
		e.deleteStage(symbol)
	}
	return &result
}

// ExecuteTakeProfit sells the first split-sell tranche if one is still owed,
// the full requested quantity otherwise. Domestic exits go out as limit
// orders when enabled, tracked under the take-profit key so they cannot
// collide with a pending entry on the same symbol.
func (e *Engine) ExecuteTakeProfit(ctx context.Context, symbol string, m broker.Market, qty int64) *broker.OrderResult {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	sellQty := qty
	partial := false
	if e.cfg.SplitSellEnabled {
		if st, ok := e.stage(symbol); ok && !st.PartialExitDone {
			sellQty = int64(float64(qty) * e.cfg.SplitSellFirstRatio)
			if sellQty < 1 {
				sellQty = 1
			}
			partial = true
		}
	}

	var limitPrice float64
	if m == broker.KR && e.cfg.LimitOrderEnabled {
		if !e.pendingFree(tpKey(symbol)) {
			e.log.Info("take-profit order still pending, skipped", slog.String("symbol", symbol))
			return nil
		}
		price, err := e.broker.GetPrice(ctx, symbol, m)
		if err != nil {
			e.log.Error("price fetch failed, take-profit skipped",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
			e.notifier.NotifyError("take-profit failed: " + symbol + ": " + err.Error())
			return nil
		}
		limitPrice = market.RoundDownToTick(m, price.Price*(1+e.cfg.LimitTPOffsetPct/100))
	}

	e.log.Info("take-profit exit",
		slog.String("symbol", symbol), slog.Int64("qty", sellQty), slog.Bool("partial", partial))

	result := e.placeOrder(ctx, broker.SideSell, symbol, m, sellQty, limitPrice)
	e.logOrder(result, m, "take_profit", "")

	if result.Success {
		if limitPrice > 0 {
			e.registerPending(tpKey(symbol), PendingLimitOrder{
				OrderNo:  result.OrderNo,
				Symbol:   symbol,
				Market:   m,
				Side:     broker.SideSell,
				Qty:      sellQty,
				Price:    limitPrice,
				PlacedAt: e.now(),
				Strategy: "take_profit",
			})
		}
		if partial {
			e.markPartialExitDone(symbol)
		} else {
			e.deleteStage(symbol)
		}
		e.risk.RecordProfit()
	}
	return &result
}

// CheckSplitBuyOpportunity buys the second tranche when price has dipped
// far enough below the first entry. Only stage 1 qualifies, so the second
// buy can never fire twice.
func (e *Engine) CheckSplitBuyOpportunity(ctx context.Context, symbol string, m broker.Market) *broker.OrderResult {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	st, ok := e.stage(symbol)
	if !ok || st.Stage != 1 || st.FirstPrice <= 0 {
		return nil
	}

	price, err := e.broker.GetPrice(ctx, symbol, m)
	if err != nil {
		e.log.Error("price fetch failed, split-buy check skipped",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return nil
	}

	dipPct := (st.FirstPrice - price.Price) / st.FirstPrice * 100
	if dipPct < e.cfg.SplitBuyDipPct {
		return nil
	}

	fullQty := e.risk.CalculateBuyQty(ctx, symbol, price.Price, m)
	remaining := fullQty - int64(float64(fullQty)*e.cfg.SplitBuyFirstRatio)
	if remaining < 1 {
		return nil
	}

	e.log.Info("split-buy second tranche",
		slog.String("symbol", symbol),
		slog.Float64("dip_pct", dipPct),
		slog.Int64("qty", remaining))

	result := e.placeOrder(ctx, broker.SideBuy, symbol, m, remaining, 0)
	e.logOrder(result, m, "split_buy", price.Name)
	if result.Success {
		e.advanceStage(symbol)
	}
	return &result
}

// CheckPendingOrders cancels limit orders older than the configured
// timeout. Local tracking is cleared even when the cancel fails: the order
// may have filled in the meantime, and the next risk cycle re-observes the
// true broker-side position rather than trusting a stale record.
func (e *Engine) CheckPendingOrders(ctx context.Context) {
	e.mu.Lock()
	now := e.now()
	var expired []PendingLimitOrder
	for key, p := range e.pending {
		if now.Sub(p.PlacedAt) > e.cfg.LimitOrderTimeout {
			expired = append(expired, p)
			delete(e.pending, key)
		}
	}
	e.mu.Unlock()

	for _, p := range expired {
		res, err := e.broker.Cancel(ctx, p.OrderNo, p.Symbol, p.Market, p.Qty)
		switch {
		case err != nil:
			e.log.Warn("cancel failed, pending record cleared anyway",
				slog.String("symbol", p.Symbol),
				slog.String("order_no", p.OrderNo),
				slog.String("error", err.Error()))
		case !res.Success:
			e.log.Warn("cancel rejected, order likely filled",
				slog.String("symbol", p.Symbol),
				slog.String("order_no", p.OrderNo),
				slog.String("message", res.Message))
		default:
			e.log.Info("stale limit order canceled",
				slog.String("symbol", p.Symbol),
				slog.String("order_no", p.OrderNo))
		}
	}
}

// ── pending / stage bookkeeping ─────────────────────────────────────────

func (e *Engine) pendingFree(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, exists := e.pending[key]
	return !exists
}

func (e *Engine) registerPending(key string, p PendingLimitOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[key] = p
}

// PendingOrders returns a snapshot of tracked limit orders.
func (e *Engine) PendingOrders() []PendingLimitOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingLimitOrder, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p)
	}
	return out
}

func (e *Engine) setStage(st *PositionStage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages[st.Symbol] = st
}

// stage returns a copy; mutations go through the helpers below.
func (e *Engine) stage(symbol string) (PositionStage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.stages[symbol]
	if !ok {
		return PositionStage{}, false
	}
	return *st, true
}

func (e *Engine) deleteStage(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stages, symbol)
}

func (e *Engine) markPartialExitDone(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.stages[symbol]; ok {
		st.PartialExitDone = true
	}
}

func (e *Engine) advanceStage(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.stages[symbol]; ok && st.Stage == 1 {
		st.Stage = 2
	}
}

// StageSymbols lists symbols still waiting on their second tranche in the
// given market, for the risk-check sweep.
func (e *Engine) StageSymbols(m broker.Market) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for symbol, st := range e.stages {
		if st.Market == m && st.Stage == 1 {
			out = append(out, symbol)
		}
	}
	return out
}
