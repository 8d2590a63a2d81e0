package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// ComputeStats derives dashboard statistics from the ledger. Realized P&L
// comes from SELL trades; unrealized P&L from open positions marked at
// their last observed price.
func ComputeStats(ctx context.Context, l Ledger) (*model.Stats, error) {
	acct, err := l.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := l.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := l.ListTrades(ctx, 0)
	if err != nil {
		return nil, err
	}
	return summarize(acct, positions, trades), nil
}

func summarize(acct *model.Account, positions []model.Position, trades []model.Trade) *model.Stats {
	st := &model.Stats{
		Balance:         acct.Balance,
		InitialBalance:  acct.InitialBalance,
		TotalTrades:     len(trades),
		ActivePositions: len(positions),
	}

	closed := 0
	for i := range trades {
		t := trades[i]
		if t.Action != model.ActionSell {
			continue
		}
		closed++
		st.TotalPnL = st.TotalPnL.Add(t.PnL)
		switch {
		case t.PnL.IsPositive():
			st.Wins++
		case t.PnL.IsNegative():
			st.Losses++
		}
		if t.PnL.IsPositive() && (st.BestTrade == nil || t.PnL.GreaterThan(st.BestTrade.PnL)) {
			st.BestTrade = &t
		}
		if t.PnL.IsNegative() && (st.WorstTrade == nil || t.PnL.LessThan(st.WorstTrade.PnL)) {
			st.WorstTrade = &t
		}
	}

	for _, p := range positions {
		st.UnrealizedPnL = st.UnrealizedPnL.Add(p.UnrealizedPnL())
	}

	if closed > 0 {
		st.WinRate = decimal.NewFromInt(int64(st.Wins)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(decimal.NewFromInt(100)).
			Round(1)
	}
	return st
}
