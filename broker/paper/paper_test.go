package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpilot/broker"
	"stockpilot/market"
)

func quote(symbol string, m broker.Market, price float64) broker.Price {
	return broker.Price{Symbol: symbol, Market: m, Price: price}
}

func TestMarketBuyFillsAndRevalues(t *testing.T) {
	e := NewEngine(1_000_000, 1350)
	e.SetPrice(quote("005930", broker.KR, 70_000))

	res, err := e.Buy(context.Background(), "005930", broker.KR, 10, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 70_000.0, res.Price)

	bal, err := e.GetCashBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300_000.0, bal.Cash)
	assert.Equal(t, 700_000.0, bal.StockEval)
	assert.Equal(t, 1_000_000.0, bal.TotalEval)

	e.SetPrice(quote("005930", broker.KR, 77_000))
	positions, err := e.GetPositions(context.Background(), broker.KR)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Qty)
	assert.InDelta(t, 10.0, positions[0].PnLPct, 1e-9)
}

func TestInsufficientFundsIsRejectionNotError(t *testing.T) {
	e := NewEngine(100_000, 1350)
	e.SetPrice(quote("005930", broker.KR, 70_000))

	res, err := e.Buy(context.Background(), "005930", broker.KR, 10, 0)
	require.NoError(t, err, "a business rejection is not a transport error")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient")
}

func TestSellRealizesPnLAndClosesPosition(t *testing.T) {
	e := NewEngine(1_000_000, 1350)
	e.SetPrice(quote("005930", broker.KR, 70_000))
	_, err := e.Buy(context.Background(), "005930", broker.KR, 10, 0)
	require.NoError(t, err)

	e.SetPrice(quote("005930", broker.KR, 80_000))
	res, err := e.Sell(context.Background(), "005930", broker.KR, 10, 0)
	require.NoError(t, err)
	require.True(t, res.Success)

	bal, err := e.GetCashBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1_100_000.0, bal.Cash)
	assert.Equal(t, 100_000.0, bal.TotalPnL)

	positions, err := e.GetPositions(context.Background(), broker.KR)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestLimitOrdersStayPendingUntilCanceled(t *testing.T) {
	e := NewEngine(1_000_000, 1350)
	e.SetPrice(quote("005930", broker.KR, 70_000))

	res, err := e.Buy(context.Background(), "005930", broker.KR, 10, 69_500)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, e.PendingCount())

	positions, err := e.GetPositions(context.Background(), broker.KR)
	require.NoError(t, err)
	assert.Empty(t, positions, "a pending limit order is not a holding")

	cancel, err := e.Cancel(context.Background(), res.OrderNo, "005930", broker.KR, 10)
	require.NoError(t, err)
	assert.True(t, cancel.Success)
	assert.Zero(t, e.PendingCount())

	again, err := e.Cancel(context.Background(), res.OrderNo, "005930", broker.KR, 10)
	require.NoError(t, err)
	assert.False(t, again.Success, "double cancel is a rejection")
}

func TestUSPositionsValueInAccountCurrency(t *testing.T) {
	e := NewEngine(1_000_000, 1000)
	e.SetPrice(quote("AAPL", broker.US, 100))

	_, err := e.Buy(context.Background(), "AAPL", broker.US, 5, 0)
	require.NoError(t, err)

	bal, err := e.GetCashBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500_000.0, bal.StockEval, "5 x $100 at 1000 KRW/USD")
	assert.Equal(t, 500_000.0, bal.Cash)
}

func TestCandleHistoryAccumulates(t *testing.T) {
	e := NewEngine(1_000_000, 1350)
	e.SeedCandles("005930", broker.KR, market.Series{
		{Open: 68_000, High: 68_500, Low: 67_500, Close: 68_200},
	})
	e.SetPrice(quote("005930", broker.KR, 70_000))

	s, err := e.Candles(context.Background(), "005930", broker.KR, 10)
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, 68_200.0, s[0].Close)
	assert.Equal(t, 70_000.0, s.Last().Close)

	trimmed, err := e.Candles(context.Background(), "005930", broker.KR, 1)
	require.NoError(t, err)
	require.Len(t, trimmed, 1)
	assert.Equal(t, 70_000.0, trimmed[0].Close)

	_, err = e.Candles(context.Background(), "NOPE", broker.KR, 10)
	assert.Error(t, err)
}
