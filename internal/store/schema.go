package store

// PostgresSchema creates the ledger tables. Monetary columns are NUMERIC
// for exact decimal precision.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS account (
	id              INTEGER PRIMARY KEY DEFAULT 1,
	balance         NUMERIC NOT NULL,
	initial_balance NUMERIC NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS positions (
	id            BIGSERIAL PRIMARY KEY,
	market_id     TEXT NOT NULL,
	market_slug   TEXT NOT NULL DEFAULT '',
	market_title  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	shares        NUMERIC NOT NULL,
	entry_price   NUMERIC NOT NULL,
	current_price NUMERIC NOT NULL,
	invested      NUMERIC NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (market_id, outcome)
);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL,
	market_slug  TEXT NOT NULL DEFAULT '',
	market_title TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	action       TEXT NOT NULL,
	shares       NUMERIC NOT NULL,
	price        NUMERIC NOT NULL,
	total        NUMERIC NOT NULL,
	pnl          NUMERIC NOT NULL DEFAULT 0,
	reasoning    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades (created_at);

CREATE TABLE IF NOT EXISTS thoughts (
	id           BIGSERIAL PRIMARY KEY,
	trade_id     TEXT REFERENCES trades (id),
	content      TEXT NOT NULL,
	market_title TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// SQLiteSchema mirrors PostgresSchema. Decimals are stored as TEXT so no
// precision is lost to REAL.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS account (
	id              INTEGER PRIMARY KEY DEFAULT 1,
	balance         TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id     TEXT NOT NULL,
	market_slug   TEXT NOT NULL DEFAULT '',
	market_title  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	shares        TEXT NOT NULL,
	entry_price   TEXT NOT NULL,
	current_price TEXT NOT NULL,
	invested      TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	UNIQUE (market_id, outcome)
);

CREATE TABLE IF NOT EXISTS trades (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	market_id    TEXT NOT NULL,
	market_slug  TEXT NOT NULL DEFAULT '',
	market_title TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	action       TEXT NOT NULL,
	shares       TEXT NOT NULL,
	price        TEXT NOT NULL,
	total        TEXT NOT NULL,
	pnl          TEXT NOT NULL DEFAULT '0',
	reasoning    TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS thoughts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id     TEXT,
	content      TEXT NOT NULL,
	market_title TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);
`
