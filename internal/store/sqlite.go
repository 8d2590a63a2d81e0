package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Ledger on a local SQLite file. Decimals are kept
// as TEXT.
type SQLiteStore struct {
	db *sql.DB // nil inside a transaction
	q  sqlQuerier
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, q: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, initial decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO account (id, balance, initial_balance, updated_at)
		 VALUES (1, ?, ?, ?)`,
		initial.String(), initial.String(), time.Now().UTC())
	if err != nil {
		return sqliteErr("ensure account", err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context) (*model.Account, error) {
	var a model.Account
	var balance, initial string
	err := s.q.QueryRowContext(ctx,
		`SELECT balance, initial_balance, updated_at FROM account WHERE id = 1`).
		Scan(&balance, &initial, &a.UpdatedAt)
	if err != nil {
		return nil, sqliteErr("get account", err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	a.InitialBalance, _ = decimal.NewFromString(initial)
	return &a, nil
}

func (s *SQLiteStore) UpdateBalance(ctx context.Context, balance decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE account SET balance = ?, updated_at = ? WHERE id = 1`,
		balance.String(), time.Now().UTC())
	if err != nil {
		return sqliteErr("update balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update balance: account: %w", ErrNotFound)
	}
	return nil
}

const sqlitePositionColumns = `market_id, market_slug, market_title, outcome,
	shares, entry_price, current_price, invested, created_at, updated_at`

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, sqliteErr("list positions", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, sqliteErr("list positions", err)
	}
	return positions, nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, marketID, outcome string) (*model.Position, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE market_id = ? AND outcome = ?`,
		marketID, outcome)
	if err != nil {
		return nil, sqliteErr("get position", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, sqliteErr("get position", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	return &positions[0], nil
}

func (s *SQLiteStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO positions (market_id, market_slug, market_title, outcome,
		                        shares, entry_price, current_price, invested, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (market_id, outcome) DO UPDATE
		 SET shares = excluded.shares,
		     current_price = excluded.current_price,
		     invested = excluded.invested,
		     updated_at = excluded.updated_at`,
		p.MarketID, p.MarketSlug, p.MarketTitle, p.Outcome,
		p.Shares.String(), p.EntryPrice.String(), p.CurrentPrice.String(), p.Invested.String(),
		created, now,
	)
	if err != nil {
		return sqliteErr("upsert position", err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePositionPrice(ctx context.Context, marketID, outcome string, price decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE positions SET current_price = ?, updated_at = ? WHERE market_id = ? AND outcome = ?`,
		price.String(), time.Now().UTC(), marketID, outcome)
	if err != nil {
		return sqliteErr("update position price", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, marketID, outcome string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM positions WHERE market_id = ? AND outcome = ?`, marketID, outcome)
	if err != nil {
		return sqliteErr("delete position", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTrade(ctx context.Context, t *model.Trade) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO trades (id, market_id, market_slug, market_title, outcome, action,
		                     shares, price, total, pnl, reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.MarketID, t.MarketSlug, t.MarketTitle, t.Outcome, t.Action,
		t.Shares.String(), t.Price.String(), t.Total.String(), t.PnL.String(),
		t.Reasoning, createdAt,
	)
	if err != nil {
		return "", sqliteErr("append trade", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	query := `SELECT id, market_id, market_slug, market_title, outcome, action,
	                 shares, price, total, pnl, reasoning, created_at
	          FROM trades ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr("list trades", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, price, total, pnl string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.MarketSlug, &t.MarketTitle, &t.Outcome, &t.Action,
			&shares, &price, &total, &pnl, &t.Reasoning, &t.CreatedAt); err != nil {
			return nil, sqliteErr("list trades", err)
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		t.PnL, _ = decimal.NewFromString(pnl)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("list trades", err)
	}
	return trades, nil
}

func (s *SQLiteStore) AddThought(ctx context.Context, th *model.Thought) error {
	createdAt := th.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO thoughts (trade_id, content, market_title, action, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		th.TradeID, th.Content, th.MarketTitle, th.Action, th.Outcome, createdAt)
	if err != nil {
		return sqliteErr("add thought", err)
	}
	return nil
}

func (s *SQLiteStore) ListThoughts(ctx context.Context, limit int) ([]model.Thought, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, COALESCE(trade_id, ''), content, market_title, action, outcome, created_at
		 FROM thoughts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, sqliteErr("list thoughts", err)
	}
	defer rows.Close()

	var thoughts []model.Thought
	for rows.Next() {
		var th model.Thought
		if err := rows.Scan(&th.ID, &th.TradeID, &th.Content, &th.MarketTitle,
			&th.Action, &th.Outcome, &th.CreatedAt); err != nil {
			return nil, sqliteErr("list thoughts", err)
		}
		thoughts = append(thoughts, th)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("list thoughts", err)
	}
	return thoughts, nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Ledger) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr("begin", err)
	}
	if err := fn(&SQLiteStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return sqliteErr("commit", err)
	}
	return nil
}

func sqliteErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
