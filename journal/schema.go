package journal

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL,
	side TEXT NOT NULL,
	qty INTEGER NOT NULL,
	price REAL NOT NULL,
	order_no TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_at ON trades(at);

CREATE TABLE IF NOT EXISTS signals (
	symbol TEXT NOT NULL,
	market TEXT NOT NULL,
	strategy TEXT NOT NULL,
	signal TEXT NOT NULL,
	strength REAL NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_at ON signals(at);

CREATE TABLE IF NOT EXISTS daily_summary (
	date TEXT PRIMARY KEY,
	total_trades INTEGER NOT NULL,
	total_pnl REAL NOT NULL,
	win_count INTEGER NOT NULL,
	loss_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS watchlist (
	symbol TEXT NOT NULL,
	market TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT 'manual',
	reason TEXT NOT NULL DEFAULT '',
	added_at DATETIME NOT NULL,
	PRIMARY KEY (symbol, market)
);
`
