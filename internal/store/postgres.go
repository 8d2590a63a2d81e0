package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Ledger using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	q    pgQuerier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, PostgresSchema); err != nil {
		return pgErr("migrate", err)
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, initial decimal.Decimal) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO account (id, balance, initial_balance)
		 VALUES (1, $1::NUMERIC, $1::NUMERIC)
		 ON CONFLICT (id) DO NOTHING`, initial.String())
	if err != nil {
		return pgErr("ensure account", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context) (*model.Account, error) {
	query := `SELECT balance::TEXT, initial_balance::TEXT, updated_at FROM account WHERE id = 1`
	if s.pool == nil {
		// Lock the balance row for the rest of the transaction.
		query += ` FOR UPDATE`
	}

	var a model.Account
	var balance, initial string
	if err := s.q.QueryRow(ctx, query).Scan(&balance, &initial, &a.UpdatedAt); err != nil {
		return nil, pgErr("get account", err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	a.InitialBalance, _ = decimal.NewFromString(initial)
	return &a, nil
}

func (s *PostgresStore) UpdateBalance(ctx context.Context, balance decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE account SET balance = $1::NUMERIC, updated_at = NOW() WHERE id = 1`,
		balance.String())
	if err != nil {
		return pgErr("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update balance: account: %w", ErrNotFound)
	}
	return nil
}

const positionColumns = `market_id, market_slug, market_title, outcome,
	shares::TEXT, entry_price::TEXT, current_price::TEXT, invested::TEXT,
	created_at, updated_at`

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, pgErr("list positions", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, pgErr("list positions", err)
	}
	return positions, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, marketID, outcome string) (*model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 AND outcome = $2`,
		marketID, outcome)
	if err != nil {
		return nil, pgErr("get position", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, pgErr("get position", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	return &positions[0], nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO positions (market_id, market_slug, market_title, outcome,
		                        shares, entry_price, current_price, invested)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
		 ON CONFLICT (market_id, outcome) DO UPDATE
		 SET shares = EXCLUDED.shares,
		     current_price = EXCLUDED.current_price,
		     invested = EXCLUDED.invested,
		     updated_at = NOW()`,
		p.MarketID, p.MarketSlug, p.MarketTitle, p.Outcome,
		p.Shares.String(), p.EntryPrice.String(), p.CurrentPrice.String(), p.Invested.String(),
	)
	if err != nil {
		return pgErr("upsert position", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePositionPrice(ctx context.Context, marketID, outcome string, price decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE positions SET current_price = $1::NUMERIC, updated_at = NOW()
		 WHERE market_id = $2 AND outcome = $3`,
		price.String(), marketID, outcome)
	if err != nil {
		return pgErr("update position price", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, marketID, outcome string) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM positions WHERE market_id = $1 AND outcome = $2`, marketID, outcome)
	if err != nil {
		return pgErr("delete position", err)
	}
	return nil
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, market_id, market_slug, market_title, outcome, action,
		                     shares, price, total, pnl, reasoning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		id, t.MarketID, t.MarketSlug, t.MarketTitle, t.Outcome, t.Action,
		t.Shares.String(), t.Price.String(), t.Total.String(), t.PnL.String(),
		t.Reasoning, createdAt,
	)
	if err != nil {
		return "", pgErr("append trade", err)
	}
	return id, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	query := `SELECT id, market_id, market_slug, market_title, outcome, action,
	                 shares::TEXT, price::TEXT, total::TEXT, pnl::TEXT, reasoning, created_at
	          FROM trades ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr("list trades", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, price, total, pnl string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.MarketSlug, &t.MarketTitle, &t.Outcome, &t.Action,
			&shares, &price, &total, &pnl, &t.Reasoning, &t.CreatedAt); err != nil {
			return nil, pgErr("list trades", err)
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		t.PnL, _ = decimal.NewFromString(pnl)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list trades", err)
	}
	return trades, nil
}

func (s *PostgresStore) AddThought(ctx context.Context, th *model.Thought) error {
	var tradeID any
	if th.TradeID != "" {
		tradeID = th.TradeID
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO thoughts (trade_id, content, market_title, action, outcome)
		 VALUES ($1, $2, $3, $4, $5)`,
		tradeID, th.Content, th.MarketTitle, th.Action, th.Outcome)
	if err != nil {
		return pgErr("add thought", err)
	}
	return nil
}

func (s *PostgresStore) ListThoughts(ctx context.Context, limit int) ([]model.Thought, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, COALESCE(trade_id, ''), content, market_title, action, outcome, created_at
		 FROM thoughts ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, pgErr("list thoughts", err)
	}
	defer rows.Close()

	var thoughts []model.Thought
	for rows.Next() {
		var th model.Thought
		if err := rows.Scan(&th.ID, &th.TradeID, &th.Content, &th.MarketTitle,
			&th.Action, &th.Outcome, &th.CreatedAt); err != nil {
			return nil, pgErr("list thoughts", err)
		}
		thoughts = append(thoughts, th)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list thoughts", err)
	}
	return thoughts, nil
}

// InTx runs fn inside a database transaction. The account row is locked
// by GetAccount for the lifetime of the transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Ledger) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pgErr("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgErr("commit", err)
	}
	return nil
}

// pgxRows is satisfied by pgx.Rows and *sql.Rows.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, entry, current, invested string

		if err := rows.Scan(&p.MarketID, &p.MarketSlug, &p.MarketTitle, &p.Outcome,
			&shares, &entry, &current, &invested,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}

		p.Shares, _ = decimal.NewFromString(shares)
		p.EntryPrice, _ = decimal.NewFromString(entry)
		p.CurrentPrice, _ = decimal.NewFromString(current)
		p.Invested, _ = decimal.NewFromString(invested)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func pgErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
