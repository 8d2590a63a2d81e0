package annotate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/justerbaster/clobster-railway/internal/engine"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/store"
)

// Recorder is an engine.CommitHook that annotates each committed trade in
// the background and stores the text as a Thought.
type Recorder struct {
	ledger    store.Ledger
	annotator Annotator
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder. timeout bounds each annotation,
// including the ledger write.
func NewRecorder(ledger store.Ledger, a Annotator, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Recorder{
		ledger:    ledger,
		annotator: a,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnCommit starts the annotation and returns immediately.
func (r *Recorder) OnCommit(ctx context.Context, ev engine.CommitEvent) {
	req := Request{
		Action:      ev.Trade.Action,
		MarketTitle: ev.Trade.MarketTitle,
		Outcome:     ev.Trade.Outcome,
		Price:       ev.Trade.Price,
		ExitReason:  ev.ExitReason,
	}
	if ev.Opportunity != nil {
		req.Reasons = ev.Opportunity.Reasons
	}
	if ev.Trade.Action == model.ActionSell {
		pnl := ev.Trade.PnL
		req.PnL = &pnl
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if st, err := store.ComputeStats(actx, r.ledger); err == nil {
			req.Stats = st
		} else {
			slog.Debug("annotating without portfolio stats", "trade_id", ev.Trade.ID, "err", err)
		}

		th := &model.Thought{
			TradeID:     ev.Trade.ID,
			Content:     r.annotator.Explain(actx, req),
			MarketTitle: ev.Trade.MarketTitle,
			Action:      ev.Trade.Action,
			Outcome:     ev.Trade.Outcome,
			CreatedAt:   r.now(),
		}
		if err := r.ledger.AddThought(actx, th); err != nil {
			slog.Warn("storing annotation failed", "trade_id", ev.Trade.ID, "err", err)
		}
	}()
}

// Wait blocks until all in-flight annotations have finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
