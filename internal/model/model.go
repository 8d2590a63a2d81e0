// Package model defines the core domain types shared across the agent.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Outcome is one named side of a market with its current price in [0,1].
type Outcome struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Market is an immutable snapshot of a prediction market as returned by
// the feed. It lives for a single cycle and is never persisted.
type Market struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Outcomes  []Outcome       `json:"outcomes"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Liquidity decimal.Decimal `json:"liquidity"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

// Price returns the price of the named outcome.
func (m Market) Price(outcome string) (decimal.Decimal, bool) {
	for _, o := range m.Outcomes {
		if o.Name == outcome {
			return o.Price, true
		}
	}
	return decimal.Zero, false
}

// Position is an open stake in one market outcome. MarketID+Outcome is
// the unique key.
type Position struct {
	MarketID     string          `json:"market_id" db:"market_id"`
	MarketSlug   string          `json:"market_slug" db:"market_slug"`
	MarketTitle  string          `json:"market_title" db:"market_title"`
	Outcome      string          `json:"outcome" db:"outcome"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	Invested     decimal.Decimal `json:"invested" db:"invested"` // cost basis
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CurrentValue is shares marked at the last observed price.
func (p Position) CurrentValue() decimal.Decimal {
	return p.Shares.Mul(p.CurrentPrice)
}

// UnrealizedPnL is current value minus cost basis.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentValue().Sub(p.Invested)
}

// PnLPercent is unrealized P&L relative to the amount invested.
func (p Position) PnLPercent() decimal.Decimal {
	if p.Invested.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(p.Invested).Mul(decimal.NewFromInt(100))
}

// Trade is an immutable record of one executed BUY or SELL.
// Once created, these are never modified or deleted.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	MarketSlug  string          `json:"market_slug" db:"market_slug"`
	MarketTitle string          `json:"market_title" db:"market_title"`
	Outcome     string          `json:"outcome" db:"outcome"`
	Action      string          `json:"action" db:"action"` // "BUY" or "SELL"
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Total       decimal.Decimal `json:"total" db:"total"` // currency amount moved
	PnL         decimal.Decimal `json:"pnl" db:"pnl"`     // 0 for BUY
	Reasoning   string          `json:"reasoning,omitempty" db:"reasoning"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Account is the singleton cash account. InitialBalance is set once.
type Account struct {
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Thought is the annotator's text attached to a committed trade.
type Thought struct {
	ID          int64     `json:"id" db:"id"`
	TradeID     string    `json:"trade_id" db:"trade_id"`
	Content     string    `json:"content" db:"content"`
	MarketTitle string    `json:"market_title" db:"market_title"`
	Action      string    `json:"action" db:"action"`
	Outcome     string    `json:"outcome" db:"outcome"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Opportunity is a scored (market, outcome) candidate, valid for one cycle.
type Opportunity struct {
	MarketID    string          `json:"market_id"`
	MarketSlug  string          `json:"market_slug"`
	MarketTitle string          `json:"market_title"`
	Outcome     string          `json:"outcome"`
	Price       decimal.Decimal `json:"price"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	Score       int             `json:"score"`
	Reasons     []string        `json:"reasons"`
}

// Stats summarises account performance for the dashboard and annotator.
type Stats struct {
	Balance         decimal.Decimal `json:"balance"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`      // realized, from SELLs
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"` // open positions
	TotalTrades     int             `json:"total_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         decimal.Decimal `json:"win_rate"` // percent, 1dp
	BestTrade       *Trade          `json:"best_trade"`
	WorstTrade      *Trade          `json:"worst_trade"`
	ActivePositions int             `json:"active_positions"`
}
