// Package store defines the position ledger: the durable record of the
// cash account, open positions, trade history and trade annotations.
// Implementations include PostgreSQL (source of truth), SQLite (single
// host), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

var (
	// ErrStorageUnavailable is returned when the backing store cannot be
	// reached or rejects an operation.
	ErrStorageUnavailable = errors.New("store: storage unavailable")

	// ErrNotFound is returned when a position or account row is missing.
	ErrNotFound = errors.New("store: not found")
)

// Ledger is the persistence interface consumed by the trading engine.
type Ledger interface {
	// --- Account ---

	// EnsureAccount creates the singleton account with the given initial
	// balance if it does not exist yet. An existing account is untouched.
	EnsureAccount(ctx context.Context, initial decimal.Decimal) error

	// GetAccount returns the singleton account.
	GetAccount(ctx context.Context) (*model.Account, error)

	// UpdateBalance sets the account's cash balance.
	UpdateBalance(ctx context.Context, balance decimal.Decimal) error

	// --- Positions ---

	// ListPositions returns all open positions, newest first.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// GetPosition returns the position for (marketID, outcome) or ErrNotFound.
	GetPosition(ctx context.Context, marketID, outcome string) (*model.Position, error)

	// UpsertPosition inserts the position or replaces the stored one with
	// the same (market, outcome) key.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// UpdatePositionPrice records the last observed price of a position.
	UpdatePositionPrice(ctx context.Context, marketID, outcome string, price decimal.Decimal) error

	// DeletePosition removes a closed position.
	DeletePosition(ctx context.Context, marketID, outcome string) error

	// --- Immutable trade history ---

	// AppendTrade records a trade and returns its ID. If t.ID is empty a
	// new one is assigned.
	AppendTrade(ctx context.Context, t *model.Trade) (string, error)

	// ListTrades returns the most recent trades first. limit <= 0 means all.
	ListTrades(ctx context.Context, limit int) ([]model.Trade, error)

	// --- Annotations ---

	// AddThought stores annotator output for a trade.
	AddThought(ctx context.Context, th *model.Thought) error

	// ListThoughts returns the most recent thoughts first.
	ListThoughts(ctx context.Context, limit int) ([]model.Thought, error)

	// InTx runs fn against a ledger view whose writes are applied as one
	// atomic unit. If fn returns an error nothing is applied.
	InTx(ctx context.Context, fn func(tx Ledger) error) error
}
