package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stockpilot/broker"
	"stockpilot/pkg/id"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock replaces the store's clock, for tests.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

const timeLayout = "2006-01-02 15:04:05"

func (s *SQLiteStore) SaveTrade(t Trade) error {
	if t.ID == "" {
		t.ID = id.New()
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO trades
		(id, symbol, name, market, side, qty, price, order_no, strategy, success, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.Name, string(t.Market), string(t.Side), t.Qty, t.Price,
		t.OrderNo, t.Strategy, t.Success, t.Message, t.At.Format(timeLayout),
	)
	return err
}

func (s *SQLiteStore) SaveSignal(sig SignalRecord) error {
	if sig.At.IsZero() {
		sig.At = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO signals (symbol, market, strategy, signal, strength, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Market), sig.Strategy, sig.Signal, sig.Strength,
		sig.Detail, sig.At.Format(timeLayout),
	)
	return err
}

func (s *SQLiteStore) today() string {
	return s.now().Format("2006-01-02")
}

func (s *SQLiteStore) GetTradeCountToday() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM trades WHERE success = 1 AND date(at) = ?`,
		s.today(),
	).Scan(&count)
	return count, err
}

func (s *SQLiteStore) GetTradesToday() ([]Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, name, market, side, qty, price, order_no, strategy, success, message, at
		FROM trades WHERE date(at) = ? ORDER BY at`,
		s.today(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var market, side, at string
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &market, &side, &t.Qty, &t.Price,
			&t.OrderNo, &t.Strategy, &t.Success, &t.Message, &at); err != nil {
			return nil, err
		}
		t.Market = broker.Market(market)
		t.Side = broker.Side(side)
		t.At, _ = time.ParseInLocation(timeLayout, at, time.Local)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveDailySummary(d DailySummary) error {
	if d.Date == "" {
		d.Date = s.today()
	}
	_, err := s.db.Exec(`
		INSERT INTO daily_summary (date, total_trades, total_pnl, win_count, loss_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_trades = excluded.total_trades,
			total_pnl = excluded.total_pnl,
			win_count = excluded.win_count,
			loss_count = excluded.loss_count`,
		d.Date, d.TotalTrades, d.TotalPnL, d.WinCount, d.LossCount,
	)
	return err
}

func (s *SQLiteStore) AddWatch(w WatchItem) error {
	if w.AddedAt.IsZero() {
		w.AddedAt = s.now()
	}
	if w.Source == "" {
		w.Source = "manual"
	}
	_, err := s.db.Exec(`
		INSERT INTO watchlist (symbol, market, name, source, reason, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, market) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			reason = excluded.reason`,
		w.Symbol, string(w.Market), w.Name, w.Source, w.Reason, w.AddedAt.Format(timeLayout),
	)
	return err
}

func (s *SQLiteStore) RemoveWatch(symbol string, m broker.Market) error {
	_, err := s.db.Exec(`DELETE FROM watchlist WHERE symbol = ? AND market = ?`, symbol, string(m))
	return err
}

func (s *SQLiteStore) Watchlist(m broker.Market) ([]WatchItem, error) {
	rows, err := s.db.Query(`
		SELECT symbol, market, name, source, reason, added_at
		FROM watchlist WHERE market = ? ORDER BY symbol`, string(m))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchItem
	for rows.Next() {
		var w WatchItem
		var market, at string
		if err := rows.Scan(&w.Symbol, &market, &w.Name, &w.Source, &w.Reason, &at); err != nil {
			return nil, err
		}
		w.Market = broker.Market(market)
		w.AddedAt, _ = time.ParseInLocation(timeLayout, at, time.Local)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) WatchSymbols(m broker.Market) ([]string, error) {
	items, err := s.Watchlist(m)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, w := range items {
		out = append(out, w.Symbol)
	}
	return out, nil
}

// CleanupOldData prunes trades and signals older than retentionDays.
func (s *SQLiteStore) CleanupOldData(retentionDays int) error {
	cutoff := s.now().AddDate(0, 0, -retentionDays).Format(timeLayout)
	if _, err := s.db.Exec(`DELETE FROM trades WHERE at < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM signals WHERE at < ?`, cutoff)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
