// Package paper provides an in-memory broker for paper trading. It fills
// market orders at the last quoted price, tracks cash and positions, and
// leaves limit orders pending until canceled.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockpilot/broker"
	"stockpilot/market"
	"stockpilot/pkg/id"
)

type holding struct {
	qty      int64
	avgPrice float64
	name     string
}

type limitOrder struct {
	symbol string
	market broker.Market
	side   broker.Side
	qty    int64
	price  float64
	placed time.Time
}

// Engine is a paper-trading broker. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	cash     float64
	realized float64 // realized P&L since construction
	prices   map[string]broker.Price
	holdings map[string]*holding
	pending  map[string]limitOrder
	history  map[string]market.Series
	usdKrw   float64
	now      func() time.Time
}

func key(symbol string, m broker.Market) string {
	return string(m) + ":" + symbol
}

// NewEngine creates a paper broker seeded with starting cash in KRW.
// usdKrw converts US position valuations back into the account currency.
func NewEngine(startingCash, usdKrw float64) *Engine {
	if usdKrw <= 0 {
		usdKrw = 1
	}
	return &Engine{
		cash:     startingCash,
		prices:   make(map[string]broker.Price),
		holdings: make(map[string]*holding),
		pending:  make(map[string]limitOrder),
		history:  make(map[string]market.Series),
		usdKrw:   usdKrw,
		now:      time.Now,
	}
}

// SetClock replaces the engine's clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetPrice publishes a quote. Positions revalue against it on read, and the
// quote is appended to the symbol's candle history as a flat bar.
func (e *Engine) SetPrice(p broker.Price) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[key(p.Symbol, p.Market)] = p
	k := key(p.Symbol, p.Market)
	e.history[k] = append(e.history[k], market.Candle{
		Time: e.now(), Open: p.Price, High: p.Price, Low: p.Price, Close: p.Price,
		Volume: p.Volume,
	})
}

// SeedCandles replaces a symbol's candle history, for backfilling before a
// paper session starts.
func (e *Engine) SeedCandles(symbol string, m broker.Market, s market.Series) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[key(symbol, m)] = append(market.Series(nil), s...)
}

// Candles returns up to count most recent bars, oldest first.
func (e *Engine) Candles(ctx context.Context, symbol string, m broker.Market, count int) (market.Series, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.history[key(symbol, m)]
	if len(s) == 0 {
		return nil, fmt.Errorf("paper: no history for %s %s", m, symbol)
	}
	if count > 0 && len(s) > count {
		s = s[len(s)-count:]
	}
	return append(market.Series(nil), s...), nil
}

func (e *Engine) SupportsMarket(m broker.Market) bool {
	return m == broker.KR || m == broker.US
}

func (e *Engine) GetPrice(ctx context.Context, symbol string, m broker.Market) (broker.Price, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[key(symbol, m)]
	if !ok {
		return broker.Price{}, fmt.Errorf("paper: no quote for %s %s", m, symbol)
	}
	return p, nil
}

// toKRW converts a quote-currency amount into the account currency.
func (e *Engine) toKRW(m broker.Market, v float64) float64 {
	if m == broker.US {
		return v * e.usdKrw
	}
	return v
}

func (e *Engine) GetPositions(ctx context.Context, m broker.Market) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.Position
	for k, h := range e.holdings {
		p, ok := e.prices[k]
		if !ok || p.Market != m {
			continue
		}
		cur := p.Price
		pnl := float64(h.qty) * (cur - h.avgPrice)
		pnlPct := 0.0
		if h.avgPrice > 0 {
			pnlPct = (cur - h.avgPrice) / h.avgPrice * 100
		}
		out = append(out, broker.Position{
			Symbol:       p.Symbol,
			Name:         h.name,
			Market:       m,
			Qty:          h.qty,
			AvgPrice:     h.avgPrice,
			CurrentPrice: cur,
			PnL:          e.toKRW(m, pnl),
			PnLPct:       pnlPct,
		})
	}
	return out, nil
}

func (e *Engine) GetCashBalance(ctx context.Context) (broker.CashBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stockEval := 0.0
	unrealized := 0.0
	for k, h := range e.holdings {
		p, ok := e.prices[k]
		if !ok {
			continue
		}
		stockEval += e.toKRW(p.Market, float64(h.qty)*p.Price)
		unrealized += e.toKRW(p.Market, float64(h.qty)*(p.Price-h.avgPrice))
	}
	return broker.CashBalance{
		TotalEval: e.cash + stockEval,
		Cash:      e.cash,
		StockEval: stockEval,
		TotalPnL:  e.realized + unrealized,
	}, nil
}

func (e *Engine) Buy(ctx context.Context, symbol string, m broker.Market, qty int64, limitPrice float64) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if qty <= 0 {
		return rejected(symbol, broker.SideBuy, qty, limitPrice, "quantity must be positive"), nil
	}

	if limitPrice > 0 {
		orderNo := id.New()
		e.pending[orderNo] = limitOrder{
			symbol: symbol, market: m, side: broker.SideBuy,
			qty: qty, price: limitPrice, placed: e.now(),
		}
		return broker.OrderResult{
			Success: true, OrderNo: orderNo, Message: "limit order accepted",
			Symbol: symbol, Side: broker.SideBuy, Qty: qty, Price: limitPrice,
		}, nil
	}

	p, ok := e.prices[key(symbol, m)]
	if !ok {
		return broker.OrderResult{}, fmt.Errorf("paper: no quote for %s %s", m, symbol)
	}
	cost := e.toKRW(m, float64(qty)*p.Price)
	if cost > e.cash {
		return rejected(symbol, broker.SideBuy, qty, p.Price, "insufficient funds"), nil
	}

	e.cash -= cost
	h := e.holdings[key(symbol, m)]
	if h == nil {
		h = &holding{name: p.Name}
		e.holdings[key(symbol, m)] = h
	}
	total := h.avgPrice*float64(h.qty) + p.Price*float64(qty)
	h.qty += qty
	h.avgPrice = total / float64(h.qty)

	return broker.OrderResult{
		Success: true, OrderNo: id.New(), Message: "filled",
		Symbol: symbol, Side: broker.SideBuy, Qty: qty, Price: p.Price,
	}, nil
}

func (e *Engine) Sell(ctx context.Context, symbol string, m broker.Market, qty int64, limitPrice float64) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.holdings[key(symbol, m)]
	if h == nil || h.qty < qty || qty <= 0 {
		return rejected(symbol, broker.SideSell, qty, limitPrice, "no position to sell"), nil
	}

	if limitPrice > 0 {
		orderNo := id.New()
		e.pending[orderNo] = limitOrder{
			symbol: symbol, market: m, side: broker.SideSell,
			qty: qty, price: limitPrice, placed: e.now(),
		}
		return broker.OrderResult{
			Success: true, OrderNo: orderNo, Message: "limit order accepted",
			Symbol: symbol, Side: broker.SideSell, Qty: qty, Price: limitPrice,
		}, nil
	}

	p, ok := e.prices[key(symbol, m)]
	if !ok {
		return broker.OrderResult{}, fmt.Errorf("paper: no quote for %s %s", m, symbol)
	}

	e.cash += e.toKRW(m, float64(qty)*p.Price)
	e.realized += e.toKRW(m, float64(qty)*(p.Price-h.avgPrice))
	h.qty -= qty
	if h.qty == 0 {
		delete(e.holdings, key(symbol, m))
	}

	return broker.OrderResult{
		Success: true, OrderNo: id.New(), Message: "filled",
		Symbol: symbol, Side: broker.SideSell, Qty: qty, Price: p.Price,
	}, nil
}

func (e *Engine) Cancel(ctx context.Context, orderNo, symbol string, m broker.Market, qty int64) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[orderNo]; !ok {
		return rejected(symbol, broker.SideSell, qty, 0, "order not found or already filled"), nil
	}
	delete(e.pending, orderNo)
	return broker.OrderResult{
		Success: true, OrderNo: orderNo, Message: "canceled",
		Symbol: symbol, Qty: qty,
	}, nil
}

// PendingCount reports how many limit orders sit unfilled, for tests and
// the CLI status view.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func rejected(symbol string, side broker.Side, qty int64, price float64, msg string) broker.OrderResult {
	return broker.OrderResult{
		Success: false, Message: msg,
		Symbol: symbol, Side: side, Qty: qty, Price: price,
	}
}
