package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

type posKey struct {
	marketID string
	outcome  string
}

type memPosition struct {
	pos model.Position
	seq int64
}

// MemoryStore implements Ledger with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	// txMu serializes writers; mu guards the data.
	txMu sync.Mutex
	mu   sync.RWMutex

	account   *model.Account
	positions map[posKey]memPosition
	trades    []model.Trade
	thoughts  []model.Thought
	seq       int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[posKey]memPosition),
	}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, initial decimal.Decimal) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil {
		s.account = &model.Account{
			Balance:        initial,
			InitialBalance: initial,
			UpdatedAt:      time.Now().UTC(),
		}
	}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.account == nil {
		return nil, fmt.Errorf("account: %w", ErrNotFound)
	}
	a := *s.account
	return &a, nil
}

func (s *MemoryStore) UpdateBalance(_ context.Context, balance decimal.Decimal) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil {
		return fmt.Errorf("account: %w", ErrNotFound)
	}
	s.account.Balance = balance
	s.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]memPosition, 0, len(s.positions))
	for _, e := range s.positions {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	positions := make([]model.Position, 0, len(entries))
	for _, e := range entries {
		positions = append(positions, e.pos)
	}
	return positions, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, marketID, outcome string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.positions[posKey{marketID, outcome}]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	p := e.pos
	return &p, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	k := posKey{p.MarketID, p.Outcome}
	if existing, ok := s.positions[k]; ok {
		// Keep identity and creation time; replace the mutable fields.
		e := existing
		e.pos.Shares = p.Shares
		e.pos.CurrentPrice = p.CurrentPrice
		e.pos.Invested = p.Invested
		e.pos.UpdatedAt = now
		s.positions[k] = e
		return nil
	}

	stored := *p
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.seq++
	s.positions[k] = memPosition{pos: stored, seq: s.seq}
	return nil
}

func (s *MemoryStore) UpdatePositionPrice(_ context.Context, marketID, outcome string, price decimal.Decimal) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := posKey{marketID, outcome}
	e, ok := s.positions[k]
	if !ok {
		return fmt.Errorf("position %s/%s: %w", marketID, outcome, ErrNotFound)
	}
	e.pos.CurrentPrice = price
	e.pos.UpdatedAt = time.Now().UTC()
	s.positions[k] = e
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, marketID, outcome string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, posKey{marketID, outcome})
	return nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.Trade) (string, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *t
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.trades = append(s.trades, stored)
	return stored.ID, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.Trade, 0, n)
	for i := len(s.trades) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.trades[i])
	}
	return result, nil
}

func (s *MemoryStore) AddThought(_ context.Context, th *model.Thought) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *th
	stored.ID = int64(len(s.thoughts) + 1)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.thoughts = append(s.thoughts, stored)
	return nil
}

func (s *MemoryStore) ListThoughts(_ context.Context, limit int) ([]model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.thoughts)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.Thought, 0, n)
	for i := len(s.thoughts) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.thoughts[i])
	}
	return result, nil
}

// InTx runs fn against a private copy of the ledger and swaps the copy in
// only if fn succeeds. Writers are serialized for the whole call, so a
// balance read inside fn cannot go stale before the commit.
func (s *MemoryStore) InTx(_ context.Context, fn func(tx Ledger) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	scratch := s.cloneLocked()
	s.mu.RUnlock()

	if err := fn(scratch); err != nil {
		return err
	}

	s.mu.Lock()
	s.account = scratch.account
	s.positions = scratch.positions
	s.trades = scratch.trades
	s.thoughts = scratch.thoughts
	s.seq = scratch.seq
	s.mu.Unlock()
	return nil
}

// cloneLocked deep-copies the store. Caller holds s.mu.
func (s *MemoryStore) cloneLocked() *MemoryStore {
	c := NewMemoryStore()
	if s.account != nil {
		a := *s.account
		c.account = &a
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	c.trades = append([]model.Trade(nil), s.trades...)
	c.thoughts = append([]model.Thought(nil), s.thoughts...)
	c.seq = s.seq
	return c
}
