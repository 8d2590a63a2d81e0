// Package limits implements the hard guards against over-extension: the
// open-position cap, the low-balance floor, and position sizing.
//
// Every entry the engine admits passes through an EntryLimiter twice:
// once per cycle (CheckEntry, Slots) before any candidate is considered,
// and once per trade (Size) inside the ledger transaction so the size is
// computed against the balance that will actually be debited.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMaxPositions is returned when the open-position count has reached
	// the configured maximum.
	ErrMaxPositions = errors.New("limits: max open positions reached")

	// ErrLowBalance is returned when the cash balance is below twice the
	// minimum trade size.
	ErrLowBalance = errors.New("limits: balance below entry floor")

	// ErrBelowMinimum is returned when the computed position size is smaller
	// than the minimum trade size. The entry is skipped, not failed.
	ErrBelowMinimum = errors.New("limits: position size below minimum trade size")
)

// EntryLimiter enforces entry guards and sizes new positions.
type EntryLimiter struct {
	// MaxPositions is the maximum number of simultaneously open positions.
	MaxPositions int

	// MaxNewPerCycle caps the entries attempted in a single cycle.
	MaxNewPerCycle int

	// MaxPositionSize caps the currency amount of a single entry.
	MaxPositionSize decimal.Decimal

	// MinTradeSize is the smallest entry allowed, and the cash reserve
	// every entry must leave behind.
	MinTradeSize decimal.Decimal
}

// NewEntryLimiter creates a limiter with the given caps.
func NewEntryLimiter(maxPositions, maxNewPerCycle int, maxPositionSize, minTradeSize decimal.Decimal) *EntryLimiter {
	if maxNewPerCycle < 1 {
		maxNewPerCycle = 1
	}
	return &EntryLimiter{
		MaxPositions:    maxPositions,
		MaxNewPerCycle:  maxNewPerCycle,
		MaxPositionSize: maxPositionSize,
		MinTradeSize:    minTradeSize,
	}
}

// CheckEntry validates whether new entries may be considered at all.
func (l *EntryLimiter) CheckEntry(openPositions int, balance decimal.Decimal) error {
	if openPositions >= l.MaxPositions {
		return ErrMaxPositions
	}
	if balance.LessThan(l.MinTradeSize.Mul(decimal.NewFromInt(2))) {
		return ErrLowBalance
	}
	return nil
}

// Slots returns how many new entries may be attempted this cycle:
// min(MaxNewPerCycle, MaxPositions - openPositions), never negative.
func (l *EntryLimiter) Slots(openPositions int) int {
	free := l.MaxPositions - openPositions
	if free > l.MaxNewPerCycle {
		free = l.MaxNewPerCycle
	}
	if free < 0 {
		return 0
	}
	return free
}

// Size returns the currency amount for a new entry:
//
//	min(balance * fraction, MaxPositionSize, balance - MinTradeSize)
//
// It returns ErrBelowMinimum if the result is smaller than MinTradeSize.
func (l *EntryLimiter) Size(balance, fraction decimal.Decimal) (decimal.Decimal, error) {
	size := decimal.Min(
		balance.Mul(fraction),
		l.MaxPositionSize,
		balance.Sub(l.MinTradeSize),
	)
	if size.LessThan(l.MinTradeSize) {
		return decimal.Zero, ErrBelowMinimum
	}
	return size, nil
}

// CanContinue reports whether further entries may be admitted after a
// commit left the account at balance.
func (l *EntryLimiter) CanContinue(balance decimal.Decimal) bool {
	return !balance.LessThan(l.MinTradeSize)
}
