// Package exits decides when an open position should be closed.
package exits

import (
	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// Exit reasons, in evaluation priority order.
const (
	ReasonTakeProfit     = "take profit"
	ReasonStopLoss       = "stop loss"
	ReasonNearResolution = "market near resolution"
	ReasonProfitLock     = "opportunistic profit lock"
)

// Rand is the randomness source for the opportunistic profit lock.
// *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Rules are the static exit thresholds.
type Rules struct {
	TakeProfitPct  decimal.Decimal // exit when P&L% >= this
	StopLossPct    decimal.Decimal // exit when P&L% <= this (negative)
	NearResolution decimal.Decimal // exit when current price > this
	LockInProb     float64         // per-evaluation chance of locking in a gain
}

// DefaultRules returns +30% / -25% / 0.90 / 5%.
func DefaultRules() Rules {
	return Rules{
		TakeProfitPct:  decimal.NewFromInt(30),
		StopLossPct:    decimal.NewFromInt(-25),
		NearResolution: decimal.RequireFromString("0.90"),
		LockInProb:     0.05,
	}
}

// Decision is the outcome of evaluating one position.
type Decision struct {
	Exit   bool
	Reason string
	PnL    decimal.Decimal // unrealized P&L at the evaluated price
	PnLPct decimal.Decimal
}

// Evaluate applies the rules to a position marked at its current price.
// The first matching rule decides. rng is consulted only when the position
// is in profit and no other rule fired, and each call is an independent
// draw.
func (r Rules) Evaluate(p model.Position, rng Rand) Decision {
	d := Decision{PnL: p.UnrealizedPnL(), PnLPct: p.PnLPercent()}

	switch {
	case d.PnLPct.GreaterThanOrEqual(r.TakeProfitPct):
		d.Exit, d.Reason = true, ReasonTakeProfit
	case d.PnLPct.LessThanOrEqual(r.StopLossPct):
		d.Exit, d.Reason = true, ReasonStopLoss
	case p.CurrentPrice.GreaterThan(r.NearResolution):
		d.Exit, d.Reason = true, ReasonNearResolution
	case d.PnL.IsPositive() && rng != nil && rng.Float64() < r.LockInProb:
		d.Exit, d.Reason = true, ReasonProfitLock
	}
	return d
}
