package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/justerbaster/clobster-railway/internal/feed"
	"github.com/justerbaster/clobster-railway/internal/limits"
	"github.com/justerbaster/clobster-railway/internal/metrics"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/store"
)

// errPositionGone means the position vanished between listing and commit.
var errPositionGone = errors.New("engine: position no longer open")

// --- RefreshingPrices ---

// refreshPrices fetches live prices for every position concurrently, then
// applies them to the ledger one at a time. Positions whose fetch failed
// keep their last observed price.
func (s *Sequencer) refreshPrices(ctx context.Context, log *slog.Logger, positions []model.Position, rep *Report) []model.Position {
	type result struct {
		price decimal.Decimal
		err   error
	}
	results := make([]result, len(positions))

	var g errgroup.Group
	g.SetLimit(s.params.RefreshConcurrency)
	for i := range positions {
		p := positions[i]
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, s.params.FetchTimeout)
			defer cancel()
			price, err := s.feed.GetPrice(fctx, p.MarketID, p.Outcome)
			results[i] = result{price: price, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i := range positions {
		p := &positions[i]
		r := results[i]
		if r.err != nil {
			metrics.FeedFailures.WithLabelValues("price").Inc()
			log.Warn("price refresh failed", "market_id", p.MarketID, "outcome", p.Outcome, "err", r.err)
			rep.fail("refresh", p.MarketID, p.Outcome, r.err)
			continue
		}
		if err := s.ledger.UpdatePositionPrice(ctx, p.MarketID, p.Outcome, r.price); err != nil {
			metrics.LedgerFailures.WithLabelValues("update_price").Inc()
			log.Error("storing refreshed price failed", "market_id", p.MarketID, "outcome", p.Outcome, "err", err)
			rep.fail("refresh", p.MarketID, p.Outcome, err)
			continue
		}
		p.CurrentPrice = r.price
		rep.PricesRefreshed++
	}
	return positions
}

// --- EvaluatingExits ---

func (s *Sequencer) evaluateExits(ctx context.Context, log *slog.Logger, positions []model.Position, rep *Report) {
	for _, p := range positions {
		d := s.rules.Evaluate(p, s.rng)
		if !d.Exit {
			continue
		}
		trade, err := s.commitSell(ctx, p, d.Reason)
		if err != nil {
			metrics.LedgerFailures.WithLabelValues("sell").Inc()
			log.Error("closing position failed",
				"market_id", p.MarketID,
				"outcome", p.Outcome,
				"reason", d.Reason,
				"err", err,
			)
			rep.fail("exit", p.MarketID, p.Outcome, err)
			continue
		}

		rep.Exits = append(rep.Exits, trade)
		metrics.TradesTotal.WithLabelValues(model.ActionSell).Inc()
		metrics.ExitsTotal.WithLabelValues(d.Reason).Inc()
		log.Info("position closed",
			"trade_id", trade.ID,
			"market_id", trade.MarketID,
			"outcome", trade.Outcome,
			"reason", d.Reason,
			"shares", trade.Shares.String(),
			"price", trade.Price.String(),
			"total", trade.Total.String(),
			"pnl", trade.PnL.String(),
		)
		s.notify(ctx, CommitEvent{CycleID: rep.CycleID, Trade: trade, ExitReason: d.Reason})
	}
}

// commitSell closes a position at its refreshed price: the full current
// value is credited, the position removed and a SELL appended, atomically.
func (s *Sequencer) commitSell(ctx context.Context, p model.Position, reason string) (model.Trade, error) {
	var trade model.Trade
	err := s.ledger.InTx(ctx, func(tx store.Ledger) error {
		acct, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		cur, err := tx.GetPosition(ctx, p.MarketID, p.Outcome)
		if errors.Is(err, store.ErrNotFound) {
			return errPositionGone
		}
		if err != nil {
			return err
		}

		price := p.CurrentPrice
		value := cur.Shares.Mul(price)
		pnl := value.Sub(cur.Invested)

		if err := tx.UpdateBalance(ctx, acct.Balance.Add(value)); err != nil {
			return err
		}
		if err := tx.DeletePosition(ctx, cur.MarketID, cur.Outcome); err != nil {
			return err
		}

		trade = model.Trade{
			MarketID:    cur.MarketID,
			MarketSlug:  cur.MarketSlug,
			MarketTitle: cur.MarketTitle,
			Outcome:     cur.Outcome,
			Action:      model.ActionSell,
			Shares:      cur.Shares,
			Price:       price,
			Total:       value,
			PnL:         pnl,
			Reasoning:   reason,
			CreatedAt:   s.now(),
		}
		tradeID, err := tx.AppendTrade(ctx, &trade)
		if err != nil {
			return err
		}
		trade.ID = tradeID
		return nil
	})
	return trade, err
}

// --- DiscoveringEntries ---

func (s *Sequencer) discoverEntries(ctx context.Context, log *slog.Logger, rep *Report) {
	positions, err := s.ledger.ListPositions(ctx)
	if err != nil {
		metrics.LedgerFailures.WithLabelValues("list_positions").Inc()
		log.Error("listing positions failed, skipping entries", "err", err)
		rep.fail("entries", "", "", err)
		return
	}
	acct, err := s.ledger.GetAccount(ctx)
	if err != nil {
		metrics.LedgerFailures.WithLabelValues("get_account").Inc()
		log.Error("reading account failed, skipping entries", "err", err)
		rep.fail("entries", "", "", err)
		return
	}

	if err := s.limiter.CheckEntry(len(positions), acct.Balance); err != nil {
		rep.EntriesSkipped = err.Error()
		log.Info("entries skipped",
			"reason", err,
			"open_positions", len(positions),
			"balance", acct.Balance.String(),
		)
		return
	}

	markets := s.fetchCandidates(ctx, log, rep)
	ranked := s.scorer.Rank(markets, s.now())

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.MarketID] = true
	}
	// Only markets held before this cycle are excluded; several outcomes
	// of one new market may each take a slot.
	var candidates []model.Opportunity
	for _, opp := range ranked {
		if held[opp.MarketID] {
			continue
		}
		candidates = append(candidates, opp)
	}
	if slots := s.limiter.Slots(len(positions)); len(candidates) > slots {
		candidates = candidates[:slots]
	}
	rep.Candidates = len(candidates)

	balance := acct.Balance
	for i := range candidates {
		opp := candidates[i]
		if !s.limiter.CanContinue(balance) {
			log.Info("balance below minimum trade size, no further entries", "balance", balance.String())
			break
		}
		if s.rng.Float64() >= s.params.AdmitProb {
			log.Debug("candidate not admitted", "market_id", opp.MarketID, "outcome", opp.Outcome, "score", opp.Score)
			continue
		}

		trade, newBalance, err := s.commitBuy(ctx, opp, s.sizeFraction())
		if errors.Is(err, limits.ErrBelowMinimum) {
			log.Info("entry too small, skipped", "market_id", opp.MarketID, "outcome", opp.Outcome, "balance", balance.String())
			continue
		}
		if err != nil {
			metrics.LedgerFailures.WithLabelValues("buy").Inc()
			log.Error("opening position failed", "market_id", opp.MarketID, "outcome", opp.Outcome, "err", err)
			rep.fail("entries", opp.MarketID, opp.Outcome, err)
			continue
		}
		balance = newBalance

		rep.Entries = append(rep.Entries, trade)
		metrics.TradesTotal.WithLabelValues(model.ActionBuy).Inc()
		log.Info("position opened",
			"trade_id", trade.ID,
			"market_id", trade.MarketID,
			"outcome", trade.Outcome,
			"score", opp.Score,
			"shares", trade.Shares.String(),
			"price", trade.Price.String(),
			"total", trade.Total.String(),
			"balance", balance.String(),
		)
		s.notify(ctx, CommitEvent{CycleID: rep.CycleID, Trade: trade, Opportunity: &opp})
	}
}

// fetchCandidates pulls both candidate categories in parallel and merges
// them, trending first, keeping the first snapshot of each market.
func (s *Sequencer) fetchCandidates(ctx context.Context, log *slog.Logger, rep *Report) []model.Market {
	categories := []feed.Category{feed.Trending, feed.New}
	lists := make([][]model.Market, len(categories))
	errs := make([]error, len(categories))

	var g errgroup.Group
	for i, c := range categories {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, s.params.FetchTimeout)
			defer cancel()
			lists[i], errs[i] = s.feed.ListCandidates(fctx, c)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var merged []model.Market
	for i, c := range categories {
		if errs[i] != nil {
			metrics.FeedFailures.WithLabelValues("candidates_" + string(c)).Inc()
			log.Warn("fetching candidates failed", "category", c, "err", errs[i])
			rep.fail("entries", "", "", fmt.Errorf("%s candidates: %w", c, errs[i]))
			continue
		}
		for _, m := range lists[i] {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}
	return merged
}

// sizeFraction draws f from [SizeFractionMin, SizeFractionMax).
func (s *Sequencer) sizeFraction() decimal.Decimal {
	span := s.params.SizeFractionMax.Sub(s.params.SizeFractionMin)
	return s.params.SizeFractionMin.Add(span.Mul(decimal.NewFromFloat(s.rng.Float64())))
}

// commitBuy sizes the entry against the balance read inside the
// transaction, debits it, upserts the position and appends a BUY. It
// returns the committed trade and the resulting balance.
func (s *Sequencer) commitBuy(ctx context.Context, opp model.Opportunity, fraction decimal.Decimal) (model.Trade, decimal.Decimal, error) {
	var (
		trade   model.Trade
		balance decimal.Decimal
	)
	err := s.ledger.InTx(ctx, func(tx store.Ledger) error {
		acct, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		size, err := s.limiter.Size(acct.Balance, fraction)
		if err != nil {
			return err
		}
		shares := size.Div(opp.Price)
		now := s.now()

		pos, err := tx.GetPosition(ctx, opp.MarketID, opp.Outcome)
		switch {
		case errors.Is(err, store.ErrNotFound):
			pos = &model.Position{
				MarketID:     opp.MarketID,
				MarketSlug:   opp.MarketSlug,
				MarketTitle:  opp.MarketTitle,
				Outcome:      opp.Outcome,
				Shares:       shares,
				EntryPrice:   opp.Price,
				CurrentPrice: opp.Price,
				Invested:     size,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
		case err != nil:
			return err
		default:
			pos.Shares = pos.Shares.Add(shares)
			pos.Invested = pos.Invested.Add(size)
			pos.CurrentPrice = opp.Price
			pos.UpdatedAt = now
		}

		balance = acct.Balance.Sub(size)
		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		trade = model.Trade{
			MarketID:    opp.MarketID,
			MarketSlug:  opp.MarketSlug,
			MarketTitle: opp.MarketTitle,
			Outcome:     opp.Outcome,
			Action:      model.ActionBuy,
			Shares:      shares,
			Price:       opp.Price,
			Total:       size,
			PnL:         decimal.Zero,
			Reasoning:   strings.Join(opp.Reasons, ", "),
			CreatedAt:   now,
		}
		tradeID, err := tx.AppendTrade(ctx, &trade)
		if err != nil {
			return err
		}
		trade.ID = tradeID
		return nil
	})
	return trade, balance, err
}
