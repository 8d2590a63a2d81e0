// Package engine runs the trading decision cycle: refresh prices on open
// positions, close the ones the exit rules select, then discover, size and
// commit new entries.
//
// A Sequencer owns every ledger mutation made during a cycle. Cycles never
// interleave: a second Run while one is in flight returns
// ErrCycleInProgress. Each individual trade is committed atomically through
// store.Ledger.InTx; the cycle as a whole is not transactional.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/exits"
	"github.com/justerbaster/clobster-railway/internal/feed"
	"github.com/justerbaster/clobster-railway/internal/id"
	"github.com/justerbaster/clobster-railway/internal/limits"
	"github.com/justerbaster/clobster-railway/internal/metrics"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/scoring"
	"github.com/justerbaster/clobster-railway/internal/store"
)

// ErrCycleInProgress is returned by Run when another cycle is running.
var ErrCycleInProgress = errors.New("engine: cycle already in progress")

// Rand is the randomness source for admission, sizing and opportunistic
// exits. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Params are the static entry parameters.
type Params struct {
	MaxPositions    int
	MaxNewPerCycle  int
	MaxPositionSize decimal.Decimal
	MinTradeSize    decimal.Decimal

	// Each entry risks a fraction of the balance drawn uniformly from
	// [SizeFractionMin, SizeFractionMax).
	SizeFractionMin decimal.Decimal
	SizeFractionMax decimal.Decimal

	// AdmitProb is the chance a qualifying candidate is actually traded.
	AdmitProb float64

	// FetchTimeout bounds every feed request.
	FetchTimeout time.Duration

	// RefreshConcurrency caps parallel price fetches.
	RefreshConcurrency int
}

// DefaultParams returns the stock entry parameters.
func DefaultParams() Params {
	return Params{
		MaxPositions:       10,
		MaxNewPerCycle:     2,
		MaxPositionSize:    decimal.NewFromInt(200),
		MinTradeSize:       decimal.NewFromInt(30),
		SizeFractionMin:    decimal.RequireFromString("0.05"),
		SizeFractionMax:    decimal.RequireFromString("0.10"),
		AdmitProb:          0.4,
		FetchTimeout:       10 * time.Second,
		RefreshConcurrency: 8,
	}
}

// CommitEvent describes a trade that has durably committed.
type CommitEvent struct {
	CycleID     string
	Trade       model.Trade
	Opportunity *model.Opportunity // set for entries
	ExitReason  string             // set for exits
}

// CommitHook is invoked after a trade commits. Hooks must not block; their
// failures never affect the trade.
type CommitHook interface {
	OnCommit(ctx context.Context, ev CommitEvent)
}

// HookFunc adapts a function to CommitHook.
type HookFunc func(ctx context.Context, ev CommitEvent)

func (f HookFunc) OnCommit(ctx context.Context, ev CommitEvent) { f(ctx, ev) }

// Options carries the Sequencer's injectable collaborators.
type Options struct {
	Rand   Rand
	Now    func() time.Time
	Hooks  []CommitHook
	Logger *slog.Logger
}

// Sequencer coordinates one decision cycle at a time.
type Sequencer struct {
	ledger  store.Ledger
	feed    feed.Feed
	scorer  *scoring.Scorer
	rules   exits.Rules
	limiter *limits.EntryLimiter
	params  Params

	rng   Rand
	now   func() time.Time
	hooks []CommitHook
	log   *slog.Logger

	mu sync.Mutex
}

// NewSequencer wires the engine. Zero-valued Options fall back to a
// time-seeded PCG source, time.Now and the default logger.
func NewSequencer(ledger store.Ledger, f feed.Feed, scorer *scoring.Scorer, rules exits.Rules, params Params, opts Options) *Sequencer {
	s := &Sequencer{
		ledger:  ledger,
		feed:    f,
		scorer:  scorer,
		rules:   rules,
		limiter: limits.NewEntryLimiter(params.MaxPositions, params.MaxNewPerCycle, params.MaxPositionSize, params.MinTradeSize),
		params:  params,
		rng:     opts.Rand,
		now:     opts.Now,
		hooks:   opts.Hooks,
		log:     opts.Logger,
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.params.RefreshConcurrency < 1 {
		s.params.RefreshConcurrency = 1
	}
	if s.params.FetchTimeout <= 0 {
		s.params.FetchTimeout = 10 * time.Second
	}
	return s
}

// AddHook registers a post-commit hook. It must be called before the
// first Run.
func (s *Sequencer) AddHook(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

// Failure records an item the cycle skipped.
type Failure struct {
	Stage    string `json:"stage"`
	MarketID string `json:"market_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Err      string `json:"error"`
}

// Report summarises one cycle. Exits and Entries list only trades that
// durably committed.
type Report struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	PricesRefreshed int           `json:"prices_refreshed"`
	Candidates      int           `json:"candidates"`
	Exits           []model.Trade `json:"exits"`
	Entries         []model.Trade `json:"entries"`
	EntriesSkipped  string        `json:"entries_skipped,omitempty"`
	Failures        []Failure     `json:"failures"`
}

func (r *Report) fail(stage, marketID, outcome string, err error) {
	r.Failures = append(r.Failures, Failure{Stage: stage, MarketID: marketID, Outcome: outcome, Err: err.Error()})
}

// Run executes one full cycle: RefreshingPrices, EvaluatingExits,
// DiscoveringEntries. Per-item feed and ledger failures are logged and
// recorded in the report; they never abort the cycle. Run returns an error
// only when another cycle is in flight or ctx is cancelled between stages,
// in which case the partial report is still returned.
func (s *Sequencer) Run(ctx context.Context) (*Report, error) {
	if !s.mu.TryLock() {
		metrics.CyclesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrCycleInProgress
	}
	defer s.mu.Unlock()

	start := time.Now()
	rep := &Report{
		StartedAt: s.now(),
		Exits:     []model.Trade{},
		Entries:   []model.Trade{},
		Failures:  []Failure{},
	}
	rep.CycleID = id.New(rep.StartedAt)
	log := s.log.With("cycle_id", rep.CycleID)
	log.Info("cycle started")

	finish := func(result string) {
		rep.FinishedAt = s.now()
		metrics.CyclesTotal.WithLabelValues(result).Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		s.observe(context.WithoutCancel(ctx))
		log.Info("cycle finished",
			"result", result,
			"exits", len(rep.Exits),
			"entries", len(rep.Entries),
			"failures", len(rep.Failures),
		)
	}

	positions, err := s.ledger.ListPositions(ctx)
	if err != nil {
		metrics.LedgerFailures.WithLabelValues("list_positions").Inc()
		log.Error("listing positions failed, skipping exits", "err", err)
		rep.fail("refresh", "", "", err)
	} else {
		positions = s.refreshPrices(ctx, log, positions, rep)
	}

	if err := ctx.Err(); err != nil {
		finish("cancelled")
		return rep, err
	}

	s.evaluateExits(ctx, log, positions, rep)

	if err := ctx.Err(); err != nil {
		finish("cancelled")
		return rep, err
	}

	s.discoverEntries(ctx, log, rep)

	result := "ok"
	if len(rep.Failures) > 0 {
		result = "partial"
	}
	finish(result)
	return rep, nil
}

// observe refreshes the position and balance gauges.
func (s *Sequencer) observe(ctx context.Context) {
	if positions, err := s.ledger.ListPositions(ctx); err == nil {
		metrics.OpenPositions.Set(float64(len(positions)))
	}
	if acct, err := s.ledger.GetAccount(ctx); err == nil {
		metrics.CashBalance.Set(acct.Balance.InexactFloat64())
	}
}

func (s *Sequencer) notify(ctx context.Context, ev CommitEvent) {
	for _, h := range s.hooks {
		h.OnCommit(ctx, ev)
	}
}
