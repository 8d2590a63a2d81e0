package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// CachedStore wraps a primary Ledger (PostgreSQL) with a Redis read-through
// cache for the account and the open-position list. Writes go to the
// primary and invalidate the cache; reads check Redis first then fall back
// to the primary.
type CachedStore struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
}

// NewCachedStore creates a cached wrapper around a primary ledger.
func NewCachedStore(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "clobster",
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) EnsureAccount(ctx context.Context, initial decimal.Decimal) error {
	if err := s.primary.EnsureAccount(ctx, initial); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.accountKey())
	return nil
}

func (s *CachedStore) UpdateBalance(ctx context.Context, balance decimal.Decimal) error {
	if err := s.primary.UpdateBalance(ctx, balance); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.accountKey())
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.positionsKey())
	return nil
}

func (s *CachedStore) UpdatePositionPrice(ctx context.Context, marketID, outcome string, price decimal.Decimal) error {
	if err := s.primary.UpdatePositionPrice(ctx, marketID, outcome, price); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.positionsKey())
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, marketID, outcome string) error {
	if err := s.primary.DeletePosition(ctx, marketID, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.positionsKey())
	return nil
}

// InTx runs the transaction on the primary (uncached) and drops both
// cache keys once it has committed.
func (s *CachedStore) InTx(ctx context.Context, fn func(tx Ledger) error) error {
	if err := s.primary.InTx(ctx, fn); err != nil {
		return err
	}
	s.rdb.Del(ctx, s.accountKey(), s.positionsKey())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, s.accountKey()).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, s.accountKey(), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, s.positionsKey()).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, s.positionsKey(), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, marketID, outcome string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, marketID, outcome)
}

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.Trade) (string, error) {
	return s.primary.AppendTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, limit)
}

func (s *CachedStore) AddThought(ctx context.Context, th *model.Thought) error {
	return s.primary.AddThought(ctx, th)
}

func (s *CachedStore) ListThoughts(ctx context.Context, limit int) ([]model.Thought, error) {
	return s.primary.ListThoughts(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) accountKey() string   { return fmt.Sprintf("%s:account", s.prefix) }
func (s *CachedStore) positionsKey() string { return fmt.Sprintf("%s:positions", s.prefix) }
