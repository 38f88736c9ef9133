// Package journal persists trade history, signals, daily summaries and the
// watchlist. The engine only ever reads back today's trade count; all other
// risk state is held in memory.
package journal

import (
	"time"

	"stockpilot/broker"
)

// Trade is one realized order attempt, success or failure.
type Trade struct {
	ID       string
	Symbol   string
	Name     string
	Market   broker.Market
	Side     broker.Side
	Qty      int64
	Price    float64
	OrderNo  string
	Strategy string
	Success  bool
	Message  string
	At       time.Time
}

// SignalRecord is a strategy signal as it was emitted, before execution.
type SignalRecord struct {
	Symbol   string
	Market   broker.Market
	Strategy string
	Signal   string
	Strength float64
	Detail   string
	At       time.Time
}

// DailySummary is the end-of-day settlement row.
type DailySummary struct {
	Date        string // YYYY-MM-DD
	TotalTrades int
	TotalPnL    float64
	WinCount    int
	LossCount   int
}

// WatchItem is one symbol under surveillance.
type WatchItem struct {
	Symbol  string
	Market  broker.Market
	Name    string
	Source  string // "config" or "manual"
	Reason  string
	AddedAt time.Time
}

// Store is the persistence contract the engine consumes.
type Store interface {
	SaveTrade(t Trade) error
	SaveSignal(s SignalRecord) error
	GetTradeCountToday() (int, error)
	GetTradesToday() ([]Trade, error)

	SaveDailySummary(d DailySummary) error

	AddWatch(w WatchItem) error
	RemoveWatch(symbol string, m broker.Market) error
	Watchlist(m broker.Market) ([]WatchItem, error)
	WatchSymbols(m broker.Market) ([]string, error)

	CleanupOldData(retentionDays int) error
	Close() error
}
