package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpilot/broker"
	"stockpilot/journal"
	"stockpilot/strategies"
)

type orderCall struct {
	side  broker.Side
	qty   int64
	price float64
}

type scriptedBroker struct {
	mu        sync.Mutex
	positions []broker.Position
	posCalls  int
	prices    map[string]float64
	priceErr  error
	orders    map[string][]orderCall // by symbol
	cancels   []string
	cancelErr error
	rejectMsg string // non-empty: orders come back Success=false
	seq       int
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{
		prices: make(map[string]float64),
		orders: make(map[string][]orderCall),
	}
}

func (b *scriptedBroker) SupportsMarket(m broker.Market) bool { return true }

func (b *scriptedBroker) GetPrice(ctx context.Context, symbol string, m broker.Market) (broker.Price, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.priceErr != nil {
		return broker.Price{}, b.priceErr
	}
	p, ok := b.prices[symbol]
	if !ok {
		return broker.Price{}, errors.New("no quote")
	}
	return broker.Price{Symbol: symbol, Market: m, Price: p}, nil
}

func (b *scriptedBroker) GetPositions(ctx context.Context, m broker.Market) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posCalls++
	return b.positions, nil
}

func (b *scriptedBroker) GetCashBalance(ctx context.Context) (broker.CashBalance, error) {
	return broker.CashBalance{}, nil
}

func (b *scriptedBroker) order(symbol string, side broker.Side, qty int64, price float64) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[symbol] = append(b.orders[symbol], orderCall{side: side, qty: qty, price: price})
	b.seq++
	if b.rejectMsg != "" {
		return broker.OrderResult{Success: false, Message: b.rejectMsg, Symbol: symbol, Side: side, Qty: qty, Price: price}, nil
	}
	return broker.OrderResult{
		Success: true,
		OrderNo: fmt.Sprintf("ORD-%d", b.seq),
		Symbol:  symbol,
		Side:    side,
		Qty:     qty,
		Price:   price,
	}, nil
}

func (b *scriptedBroker) Buy(ctx context.Context, symbol string, m broker.Market, qty int64, limitPrice float64) (broker.OrderResult, error) {
	return b.order(symbol, broker.SideBuy, qty, limitPrice)
}

func (b *scriptedBroker) Sell(ctx context.Context, symbol string, m broker.Market, qty int64, limitPrice float64) (broker.OrderResult, error) {
	return b.order(symbol, broker.SideSell, qty, limitPrice)
}

func (b *scriptedBroker) Cancel(ctx context.Context, orderNo, symbol string, m broker.Market, qty int64) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return broker.OrderResult{}, b.cancelErr
	}
	b.cancels = append(b.cancels, orderNo)
	return broker.OrderResult{Success: true, OrderNo: orderNo, Symbol: symbol}, nil
}

func (b *scriptedBroker) orderCount(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders[symbol])
}

type fakeRisk struct {
	allowed    bool
	reason     string
	qty        int64
	stopLosses int
	profits    int
}

func (r *fakeRisk) CanTrade(ctx context.Context) (bool, string) { return r.allowed, r.reason }

func (r *fakeRisk) CalculateBuyQty(ctx context.Context, symbol string, price float64, m broker.Market) int64 {
	return r.qty
}

func (r *fakeRisk) RecordStopLoss() { r.stopLosses++ }
func (r *fakeRisk) RecordProfit()   { r.profits++ }

type memStore struct {
	trades  []journal.Trade
	signals []journal.SignalRecord
}

func (s *memStore) SaveTrade(t journal.Trade) error         { s.trades = append(s.trades, t); return nil }
func (s *memStore) SaveSignal(r journal.SignalRecord) error { s.signals = append(s.signals, r); return nil }

type recordingNotifier struct {
	signals int
	orders  int
	errors  int
}

func (n *recordingNotifier) NotifySignal(string, broker.Market, string, string, string) { n.signals++ }
func (n *recordingNotifier) NotifyOrder(string, broker.Side, int64, float64, bool, string) {
	n.orders++
}
func (n *recordingNotifier) NotifyError(string)  { n.errors++ }
func (n *recordingNotifier) NotifySystem(string) {}
func (n *recordingNotifier) NotifyDailySummary(journal.DailySummary, []broker.Position) {}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testEngineConfig() Config {
	return Config{
		LimitOrderEnabled:   false,
		LimitBuyOffsetPct:   0.3,
		LimitTPOffsetPct:    0.3,
		LimitOrderTimeout:   300 * time.Second,
		SplitBuyEnabled:     false,
		SplitBuyFirstRatio:  0.5,
		SplitBuyDipPct:      2,
		SplitSellEnabled:    false,
		SplitSellFirstRatio: 0.5,
	}
}

type fixture struct {
	engine   *Engine
	broker   *scriptedBroker
	risk     *fakeRisk
	store    *memStore
	notifier *recordingNotifier
	clock    *testClock
}

func newFixture(cfg Config) *fixture {
	b := newScriptedBroker()
	r := &fakeRisk{allowed: true, qty: 10}
	s := &memStore{}
	n := &recordingNotifier{}
	e := New(cfg, b, s, n, r, nil)
	clock := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)}
	e.SetClock(clock.now)
	return &fixture{engine: e, broker: b, risk: r, store: s, notifier: n, clock: clock}
}

func buySignal() strategies.Result {
	return strategies.Result{Signal: strategies.Buy, StrategyName: "ma_cross", Strength: 0.8}
}

func sellSignal() strategies.Result {
	return strategies.Result{Signal: strategies.Sell, StrategyName: "ma_cross", Strength: 0.8}
}

func TestHoldSignalIsIgnored(t *testing.T) {
	f := newFixture(testEngineConfig())
	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR,
		strategies.Result{Signal: strategies.Hold})
	assert.Nil(t, res)
	assert.Zero(t, f.broker.orderCount("005930"))
}

func TestBuySkippedWhenAlreadyHeld(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.positions = []broker.Position{{Symbol: "005930", Market: broker.KR, Qty: 10}}

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	assert.Nil(t, res)
	assert.Zero(t, f.broker.orderCount("005930"))
	assert.Empty(t, f.store.signals, "suppressed duplicates are not persisted as signals")
}

func TestSellSkippedWhenNotHeld(t *testing.T) {
	f := newFixture(testEngineConfig())

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, sellSignal())
	assert.Nil(t, res)
	assert.Zero(t, f.broker.orderCount("005930"))
}

func TestPolicyDenialMakesNoBrokerCall(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.prices["005930"] = 70000
	f.risk.allowed = false
	f.risk.reason = "trading halted"

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	assert.Nil(t, res)
	assert.Zero(t, f.broker.orderCount("005930"))
	assert.Equal(t, 1, f.notifier.errors)
}

func TestMarketBuyPath(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.prices["005930"] = 70000

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	require.NotNil(t, res)
	assert.True(t, res.Success)

	require.Equal(t, 1, f.broker.orderCount("005930"))
	call := f.broker.orders["005930"][0]
	assert.Equal(t, broker.SideBuy, call.side)
	assert.Equal(t, int64(10), call.qty)
	assert.Zero(t, call.price, "limit orders disabled means market order")

	require.Len(t, f.store.trades, 1)
	assert.True(t, f.store.trades[0].Success)
	require.Len(t, f.store.signals, 1)
	assert.Equal(t, 1, f.notifier.orders)
	assert.Equal(t, 1, f.notifier.signals)
}

func TestZeroQuantityAbortsQuietly(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.prices["005930"] = 70000
	f.risk.qty = 0

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	assert.Nil(t, res)
	assert.Zero(t, f.broker.orderCount("005930"))
	assert.Empty(t, f.store.trades)
}

func TestLimitBuyTickRoundingAndPendingRegistration(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LimitOrderEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	require.NotNil(t, res)

	// 70,000 × 0.997 = 69,790 → 50,000–200,000 tier (tick 50) → 69,750.
	call := f.broker.orders["005930"][0]
	assert.Equal(t, 69750.0, call.price)

	pending := f.engine.PendingOrders()
	require.Len(t, pending, 1)
	assert.Equal(t, broker.SideBuy, pending[0].Side)
}

func TestAtMostOnePendingEntryPerSymbol(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LimitOrderEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000

	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))
	// The limit order hasn't filled, so the symbol is still unheld: only the
	// pending-key guard stops a duplicate placement.
	assert.Nil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))
	assert.Equal(t, 1, f.broker.orderCount("005930"))
	assert.Len(t, f.engine.PendingOrders(), 1)
}

func TestSellPathClosesFullHolding(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.positions = []broker.Position{{Symbol: "005930", Market: broker.KR, Qty: 7}}
	f.broker.prices["005930"] = 70000

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, sellSignal())
	require.NotNil(t, res)

	call := f.broker.orders["005930"][0]
	assert.Equal(t, broker.SideSell, call.side)
	assert.Equal(t, int64(7), call.qty)
	assert.Zero(t, call.price)
}

func TestSplitBuyFirstTrancheAndStage(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SplitBuyEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000

	res := f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	require.NotNil(t, res)
	assert.Equal(t, int64(5), f.broker.orders["005930"][0].qty)

	st, ok := f.engine.stage("005930")
	require.True(t, ok)
	assert.Equal(t, 1, st.Stage)
	assert.Equal(t, 70000.0, st.FirstPrice)
	assert.Equal(t, int64(5), st.FirstQty)
}

func TestSplitBuySecondTrancheOnDip(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SplitBuyEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	// 1% dip: below the 2% threshold, nothing happens.
	f.broker.prices["005930"] = 69300
	assert.Nil(t, f.engine.CheckSplitBuyOpportunity(context.Background(), "005930", broker.KR))

	// 2% dip: second tranche goes out and the stage advances.
	f.broker.prices["005930"] = 68600
	res := f.engine.CheckSplitBuyOpportunity(context.Background(), "005930", broker.KR)
	require.NotNil(t, res)
	assert.Equal(t, int64(5), f.broker.orders["005930"][1].qty)

	st, ok := f.engine.stage("005930")
	require.True(t, ok)
	assert.Equal(t, 2, st.Stage)

	// Stage 2 never fires again.
	assert.Nil(t, f.engine.CheckSplitBuyOpportunity(context.Background(), "005930", broker.KR))
	assert.Equal(t, 2, f.broker.orderCount("005930"))
}

func TestStopLossRecordsExactlyOnce(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SplitBuyEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	res := f.engine.ExecuteStopLoss(context.Background(), "005930", broker.KR, 5)
	require.NotNil(t, res)
	require.True(t, res.Success)
	assert.Equal(t, 1, f.risk.stopLosses)

	_, ok := f.engine.stage("005930")
	assert.False(t, ok, "stage record dies with the position")
}

func TestFailedStopLossDoesNotRecord(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.rejectMsg = "order rejected"

	res := f.engine.ExecuteStopLoss(context.Background(), "005930", broker.KR, 5)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Zero(t, f.risk.stopLosses)

	// The failed attempt is still persisted and notified exactly once.
	require.Len(t, f.store.trades, 1)
	assert.False(t, f.store.trades[0].Success)
	assert.Equal(t, 1, f.notifier.orders)
}

func TestSplitSellPartialThenFullExit(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SplitBuyEnabled = true
	cfg.SplitSellEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	// First take-profit sells half and keeps the stage.
	res := f.engine.ExecuteTakeProfit(context.Background(), "005930", broker.KR, 10)
	require.NotNil(t, res)
	assert.Equal(t, int64(5), f.broker.orders["005930"][1].qty)
	assert.Equal(t, 1, f.risk.profits)

	st, ok := f.engine.stage("005930")
	require.True(t, ok)
	assert.True(t, st.PartialExitDone)

	// Second take-profit sells the full requested quantity and drops it.
	res = f.engine.ExecuteTakeProfit(context.Background(), "005930", broker.KR, 5)
	require.NotNil(t, res)
	assert.Equal(t, int64(5), f.broker.orders["005930"][2].qty)
	_, ok = f.engine.stage("005930")
	assert.False(t, ok)
}

func TestTakeProfitLimitOrderUsesTPKey(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LimitOrderEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000

	// Entry limit order occupies the plain symbol key.
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	res := f.engine.ExecuteTakeProfit(context.Background(), "005930", broker.KR, 10)
	require.NotNil(t, res)

	// 70,000 × 1.003 = 70,210 → tick 50 → 70,200.
	tpCall := f.broker.orders["005930"][1]
	assert.Equal(t, 70200.0, tpCall.price)

	pending := f.engine.PendingOrders()
	assert.Len(t, pending, 2, "entry and take-profit legs coexist under distinct keys")

	// A second take-profit while the first is pending is skipped.
	assert.Nil(t, f.engine.ExecuteTakeProfit(context.Background(), "005930", broker.KR, 10))
	assert.Equal(t, 2, f.broker.orderCount("005930"))
}

func TestPendingSweepTimeoutBoundary(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LimitOrderEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	f.clock.advance(299 * time.Second)
	f.engine.CheckPendingOrders(context.Background())
	assert.Len(t, f.engine.PendingOrders(), 1, "untouched before the timeout")
	assert.Empty(t, f.broker.cancels)

	f.clock.advance(2 * time.Second)
	f.engine.CheckPendingOrders(context.Background())
	assert.Empty(t, f.engine.PendingOrders())
	assert.Len(t, f.broker.cancels, 1)
}

func TestPendingSweepClearsRecordEvenWhenCancelFails(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LimitOrderEnabled = true
	f := newFixture(cfg)
	f.broker.prices["005930"] = 70000
	require.NotNil(t, f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal()))

	f.broker.cancelErr = errors.New("order already filled")
	f.clock.advance(301 * time.Second)
	f.engine.CheckPendingOrders(context.Background())
	assert.Empty(t, f.engine.PendingOrders(), "a failed cancel still clears local tracking")
}

func TestPositionCacheBoundsStaleness(t *testing.T) {
	f := newFixture(testEngineConfig())
	f.broker.prices["005930"] = 70000

	f.engine.ExecuteSignal(context.Background(), "005930", broker.KR, buySignal())
	f.engine.ExecuteSignal(context.Background(), "000660", broker.KR, sellSignal())
	assert.Equal(t, 1, f.broker.posCalls, "one snapshot serves the whole window")

	f.clock.advance(31 * time.Second)
	f.engine.ExecuteSignal(context.Background(), "000660", broker.KR, sellSignal())
	assert.Equal(t, 2, f.broker.posCalls)
}
