package broker

import (
	"context"
	"errors"
	"fmt"
)

// Market identifies which exchange a symbol trades on.
type Market string

const (
	KR Market = "KR"
	US Market = "US"
)

// ErrUnsupportedMarket is returned by brokers that only implement a subset
// of markets. Callers should check SupportsMarket before dispatching.
var ErrUnsupportedMarket = errors.New("market not supported by this broker")

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Price is a quote snapshot for a single symbol.
type Price struct {
	Symbol    string
	Name      string
	Market    Market
	Price     float64
	Change    float64
	ChangePct float64
	High      float64
	Low       float64
	Open      float64
	PrevClose float64
	Volume    int64
}

// Position is a read-only snapshot of a holding at the broker. It
// materializes when a fill occurs and disappears when quantity reaches zero.
type Position struct {
	Symbol       string
	Name         string
	Market       Market
	Qty          int64
	AvgPrice     float64
	CurrentPrice float64
	PnL          float64
	PnLPct       float64
}

// CashBalance summarizes the account's cash and valuation.
type CashBalance struct {
	TotalEval float64 // total account valuation (cash + stock)
	Cash      float64 // available cash
	StockEval float64 // valuation of held stock
	TotalPnL  float64 // realized P&L for the day
}

// OrderResult is the broker's answer to a buy/sell/cancel request.
// Immutable once returned.
type OrderResult struct {
	Success bool
	OrderNo string
	Message string
	Symbol  string
	Side    Side
	Qty     int64
	Price   float64
}

// Broker is the port every brokerage client must implement. A limit price of
// exactly 0 on Buy/Sell means "market order". Implementations may support
// only a subset of markets; calls for an unsupported market must fail with
// ErrUnsupportedMarket rather than crash.
type Broker interface {
	SupportsMarket(m Market) bool

	GetPrice(ctx context.Context, symbol string, m Market) (Price, error)
	GetPositions(ctx context.Context, m Market) ([]Position, error)
	GetCashBalance(ctx context.Context) (CashBalance, error)

	Buy(ctx context.Context, symbol string, m Market, qty int64, limitPrice float64) (OrderResult, error)
	Sell(ctx context.Context, symbol string, m Market, qty int64, limitPrice float64) (OrderResult, error)
	Cancel(ctx context.Context, orderNo, symbol string, m Market, qty int64) (OrderResult, error)
}

// ErrTransient marks an error as retryable: connection failures, 5xx
// responses and timeouts. Business rejections (insufficient funds, invalid
// symbol) must never carry this mark.
var ErrTransient = errors.New("transient broker error")

// Transientf builds an error that the retry layer recognizes as retryable.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
