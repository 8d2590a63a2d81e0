package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/exits"
	"github.com/justerbaster/clobster-railway/internal/feed"
	"github.com/justerbaster/clobster-railway/internal/limits"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/scoring"
	"github.com/justerbaster/clobster-railway/internal/store"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- fakes ---

type fakeFeed struct {
	mu         sync.Mutex
	prices     map[string]decimal.Decimal
	priceErr   map[string]error
	candidates map[feed.Category][]model.Market
	candErr    map[feed.Category]error

	// When block is set, ListCandidates signals entered and waits on block.
	entered chan struct{}
	block   chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:     map[string]decimal.Decimal{},
		priceErr:   map[string]error{},
		candidates: map[feed.Category][]model.Market{},
		candErr:    map[feed.Category]error{},
	}
}

func (f *fakeFeed) setPrice(marketID, outcome, price string) {
	f.prices[marketID+"|"+outcome] = d(price)
}

func (f *fakeFeed) GetPrice(_ context.Context, marketID, outcome string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := marketID + "|" + outcome
	if err, ok := f.priceErr[key]; ok {
		return decimal.Zero, err
	}
	p, ok := f.prices[key]
	if !ok {
		return decimal.Zero, feed.ErrNotFound
	}
	return p, nil
}

func (f *fakeFeed) ListCandidates(_ context.Context, c feed.Category) ([]model.Market, error) {
	if f.block != nil && c == feed.Trending {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.candErr[c]; ok {
		return nil, err
	}
	return f.candidates[c], nil
}

// seqRand returns its values in order, cycling.
type seqRand struct {
	values []float64
	i      int
}

func (r *seqRand) Float64() float64 {
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

func constRand(v float64) *seqRand { return &seqRand{values: []float64{v}} }

// flakyLedger fails the n-th InTx call.
type flakyLedger struct {
	store.Ledger
	failOn int
	calls  int
}

func (f *flakyLedger) InTx(ctx context.Context, fn func(tx store.Ledger) error) error {
	f.calls++
	if f.calls == f.failOn {
		return fmt.Errorf("%w: connection reset", store.ErrStorageUnavailable)
	}
	return f.Ledger.InTx(ctx, fn)
}

// market returns a market whose No side is priced outside the tradable
// band, so only Yes can become a candidate.
func market(id, price, volume, liquidity string) model.Market {
	m := binary(id, price, volume, liquidity)
	m.Outcomes[1].Price = d("0.96")
	return m
}

// binary returns a market with complementary Yes and No prices.
func binary(id, price, volume, liquidity string) model.Market {
	p := d(price)
	return model.Market{
		ID:    id,
		Title: "Market " + id,
		Slug:  "market-" + id,
		Outcomes: []model.Outcome{
			{Name: "Yes", Price: p},
			{Name: "No", Price: decimal.NewFromInt(1).Sub(p)},
		},
		Volume24h: d(volume),
		Liquidity: d(liquidity),
	}
}

func seedPosition(t *testing.T, l store.Ledger, marketID, invested, shares, price string) {
	t.Helper()
	p := &model.Position{
		MarketID:     marketID,
		MarketSlug:   marketID,
		MarketTitle:  "Market " + marketID,
		Outcome:      "Yes",
		Shares:       d(shares),
		Invested:     d(invested),
		EntryPrice:   d(invested).Div(d(shares)),
		CurrentPrice: d(price),
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Hour),
	}
	if err := l.UpsertPosition(context.Background(), p); err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func newLedger(t *testing.T, balance string) *store.MemoryStore {
	t.Helper()
	l := store.NewMemoryStore()
	if err := l.EnsureAccount(context.Background(), d(balance)); err != nil {
		t.Fatal(err)
	}
	return l
}

func newSequencer(l store.Ledger, f feed.Feed, rng Rand, hooks ...CommitHook) *Sequencer {
	return NewSequencer(l, f, scoring.NewScorer(), exits.DefaultRules(), DefaultParams(), Options{
		Rand:   rng,
		Now:    func() time.Time { return testNow },
		Hooks:  hooks,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func balanceOf(t *testing.T, l store.Ledger) decimal.Decimal {
	t.Helper()
	acct, err := l.GetAccount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return acct.Balance
}

// --- tests ---

func TestRun_EndToEndEntry(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rep.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (failures %v)", len(rep.Entries), rep.Failures)
	}
	// f = 0.05 → size = min(75, 200, 1470) = 75
	size := d("75")
	tr := rep.Entries[0]
	if tr.Action != model.ActionBuy || !tr.Total.Equal(size) || !tr.PnL.IsZero() {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.Outcome != "Yes" {
		t.Errorf("outcome = %s, want Yes", tr.Outcome)
	}

	if got := balanceOf(t, l); !got.Equal(d("1425")) {
		t.Errorf("balance = %s, want 1425", got)
	}

	pos, err := l.GetPosition(context.Background(), "m1", "Yes")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.Shares.Equal(size.Div(d("0.30"))) {
		t.Errorf("shares = %s, want %s", pos.Shares, size.Div(d("0.30")))
	}
	if !pos.Invested.Equal(size) || !pos.EntryPrice.Equal(d("0.30")) {
		t.Errorf("unexpected position: %+v", pos)
	}

	trades, _ := l.ListTrades(context.Background(), 0)
	if len(trades) != 1 || trades[0].ID != tr.ID {
		t.Errorf("expected the BUY in history, got %+v", trades)
	}
}

func TestRun_SizeFractionDrawn(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	// admit draw 0.1, fraction draw 0.8 → f = 0.09 → size 135
	rep, err := newSequencer(l, f, &seqRand{values: []float64{0.1, 0.8}}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rep.Entries))
	}
	if got := rep.Entries[0].Total; !got.Equal(d("135")) {
		t.Errorf("size = %s, want 135", got)
	}
	if got := balanceOf(t, l); !got.Equal(d("1365")) {
		t.Errorf("balance = %s, want 1365", got)
	}
}

func TestRun_AdmissionFilterRejects(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0.4)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 0 || rep.Candidates != 1 {
		t.Errorf("entries = %d candidates = %d, want 0 and 1", len(rep.Entries), rep.Candidates)
	}
	if got := balanceOf(t, l); !got.Equal(d("1500")) {
		t.Errorf("balance changed to %s", got)
	}
}

func TestRun_MaxPositionGuard(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("held-%d", i)
		seedPosition(t, l, id, "30", "100", "0.30")
		f.setPrice(id, "Yes", "0.30")
	}
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(rep.Entries))
	}
	if rep.EntriesSkipped != limits.ErrMaxPositions.Error() {
		t.Errorf("entries skipped = %q", rep.EntriesSkipped)
	}
}

func TestRun_LowBalanceGuard(t *testing.T) {
	l := newLedger(t, "59")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 0 || rep.EntriesSkipped != limits.ErrLowBalance.Error() {
		t.Errorf("entries = %d, skipped = %q", len(rep.Entries), rep.EntriesSkipped)
	}
}

func TestRun_EntryBelowMinimumIsSkipped(t *testing.T) {
	// 100 × 0.05 = 5 < 30: no trade, no failure.
	l := newLedger(t, "100")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 0 || len(rep.Failures) != 0 {
		t.Errorf("entries = %d failures = %v", len(rep.Entries), rep.Failures)
	}
	if got := balanceOf(t, l); !got.Equal(d("100")) {
		t.Errorf("balance = %s, want 100", got)
	}
}

func TestRun_ExitsCommitted(t *testing.T) {
	l := newLedger(t, "1000")
	f := newFakeFeed()
	seedPosition(t, l, "win", "75", "250", "0.30")
	seedPosition(t, l, "lose", "75", "250", "0.30")
	seedPosition(t, l, "hold", "75", "250", "0.30")
	f.setPrice("win", "Yes", "0.40")  // value 100, +33%
	f.setPrice("lose", "Yes", "0.20") // value 50, -33%
	f.setPrice("hold", "Yes", "0.31") // +3%, lock draw 0.99 fails

	rep, err := newSequencer(l, f, constRand(0.99)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Exits) != 2 {
		t.Fatalf("expected 2 exits, got %d (%v)", len(rep.Exits), rep.Failures)
	}
	byMarket := map[string]model.Trade{}
	for _, tr := range rep.Exits {
		byMarket[tr.MarketID] = tr
		if tr.Action != model.ActionSell {
			t.Errorf("exit action = %s", tr.Action)
		}
	}
	if got := byMarket["win"]; got.Reasoning != exits.ReasonTakeProfit || !got.PnL.Equal(d("25")) {
		t.Errorf("win exit = %+v", got)
	}
	if got := byMarket["lose"]; got.Reasoning != exits.ReasonStopLoss || !got.PnL.Equal(d("-25")) {
		t.Errorf("lose exit = %+v", got)
	}

	if got := balanceOf(t, l); !got.Equal(d("1150")) {
		t.Errorf("balance = %s, want 1150", got)
	}
	positions, _ := l.ListPositions(context.Background())
	if len(positions) != 1 || positions[0].MarketID != "hold" {
		t.Fatalf("expected only the held position, got %+v", positions)
	}
	if !positions[0].CurrentPrice.Equal(d("0.31")) {
		t.Errorf("held position price = %s, want refreshed 0.31", positions[0].CurrentPrice)
	}
	if rep.PricesRefreshed != 3 {
		t.Errorf("prices refreshed = %d, want 3", rep.PricesRefreshed)
	}
}

func TestRun_HeldMarketExcluded(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	seedPosition(t, l, "m1", "30", "100", "0.30")
	f.setPrice("m1", "Yes", "0.30")
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}
	f.candidates[feed.New] = []model.Market{market("m1", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Entries) != 0 || rep.Candidates != 0 {
		t.Errorf("entries = %d candidates = %d, want none", len(rep.Entries), rep.Candidates)
	}
}

func TestRun_CandidatesCappedPerCycle(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{
		market("a", "0.30", "15000", "60000"),
		market("b", "0.30", "15000", "60000"),
		market("c", "0.30", "15000", "60000"),
	}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Candidates != 2 || len(rep.Entries) != 2 {
		t.Fatalf("candidates = %d entries = %d, want 2 and 2", rep.Candidates, len(rep.Entries))
	}
	if rep.Entries[0].MarketID != "a" || rep.Entries[1].MarketID != "b" {
		t.Errorf("entries in wrong order: %s, %s", rep.Entries[0].MarketID, rep.Entries[1].MarketID)
	}
	// 1500 × 0.05 = 75, then 1425 × 0.05 = 71.25
	if got := balanceOf(t, l); !got.Equal(d("1353.75")) {
		t.Errorf("balance = %s, want 1353.75", got)
	}
}

func TestRun_BothOutcomesOfOneMarketCanFillSlots(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	// a: Yes@0.30 scores 60, No@0.70 scores 55. b: both sides score 50.
	f.candidates[feed.Trending] = []model.Market{
		binary("a", "0.30", "15000", "60000"),
		binary("b", "0.50", "15000", "60000"),
	}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Candidates != 2 || len(rep.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(rep.Entries))
	}
	got := []string{
		rep.Entries[0].MarketID + "/" + rep.Entries[0].Outcome,
		rep.Entries[1].MarketID + "/" + rep.Entries[1].Outcome,
	}
	if got[0] != "a/Yes" || got[1] != "a/No" {
		t.Errorf("entries = %v, want [a/Yes a/No]", got)
	}

	positions, err := l.ListPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 2 {
		t.Errorf("positions = %d, want 2", len(positions))
	}
}

func TestRun_FeedFailuresTolerated(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	seedPosition(t, l, "stale", "30", "100", "0.30")
	f.priceErr["stale|Yes"] = fmt.Errorf("%w: timeout", feed.ErrDataUnavailable)
	f.candErr[feed.Trending] = fmt.Errorf("%w: 502", feed.ErrDataUnavailable)
	f.candidates[feed.New] = []model.Market{market("fresh", "0.30", "15000", "60000")}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Failures) != 2 {
		t.Errorf("expected 2 recorded failures, got %v", rep.Failures)
	}
	if len(rep.Entries) != 1 || rep.Entries[0].MarketID != "fresh" {
		t.Errorf("expected entry from the new category, got %+v", rep.Entries)
	}
	pos, err := l.GetPosition(context.Background(), "stale", "Yes")
	if err != nil || !pos.CurrentPrice.Equal(d("0.30")) {
		t.Errorf("stale position should keep last price, got %+v (%v)", pos, err)
	}
}

func TestRun_LedgerFailureSkipsOnlyThatTrade(t *testing.T) {
	mem := newLedger(t, "1500")
	l := &flakyLedger{Ledger: mem, failOn: 1}
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{
		market("first", "0.30", "15000", "60000"),
		market("second", "0.30", "15000", "0"),
	}

	rep, err := newSequencer(l, f, constRand(0)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].MarketID != "first" {
		t.Errorf("failures = %+v", rep.Failures)
	}
	if len(rep.Entries) != 1 || rep.Entries[0].MarketID != "second" {
		t.Fatalf("entries = %+v", rep.Entries)
	}
	if got := balanceOf(t, mem); !got.Equal(d("1425")) {
		t.Errorf("balance = %s, want 1425", got)
	}
	if _, err := mem.GetPosition(context.Background(), "first", "Yes"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed trade left a position behind: %v", err)
	}
}

func TestRun_HooksSeeCommittedTrades(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	seedPosition(t, l, "win", "75", "250", "0.30")
	f.setPrice("win", "Yes", "0.40")
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	var events []CommitEvent
	hook := HookFunc(func(_ context.Context, ev CommitEvent) { events = append(events, ev) })

	rep, err := newSequencer(l, f, constRand(0), hook).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ExitReason != exits.ReasonTakeProfit || events[0].Trade.Action != model.ActionSell {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Opportunity == nil || events[1].Trade.Action != model.ActionBuy {
		t.Errorf("second event = %+v", events[1])
	}
	for _, ev := range events {
		if ev.CycleID != rep.CycleID || ev.Trade.ID == "" {
			t.Errorf("event missing ids: %+v", ev)
		}
	}
}

func TestRun_ConcurrentRunRejected(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.entered = make(chan struct{}, 1)
	f.block = make(chan struct{})
	s := newSequencer(l, f, constRand(0.9))

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	<-f.entered
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("second run err = %v, want ErrCycleInProgress", err)
	}
	close(f.block)

	if err := <-done; err != nil {
		t.Errorf("first run: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Errorf("run after completion: %v", err)
	}
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newSequencer(l, f, constRand(0)).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep == nil || len(rep.Entries) != 0 {
		t.Errorf("expected partial report without entries, got %+v", rep)
	}
}

func TestRun_BuySellRoundTripReconciles(t *testing.T) {
	l := newLedger(t, "1500")
	f := newFakeFeed()
	f.candidates[feed.Trending] = []model.Market{market("m1", "0.30", "15000", "60000")}
	s := newSequencer(l, f, constRand(0))

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Price jumps; the next cycle takes profit.
	f.setPrice("m1", "Yes", "0.93")
	f.candidates[feed.Trending] = nil
	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Exits) != 1 {
		t.Fatalf("expected 1 exit, got %d", len(rep.Exits))
	}

	trades, _ := l.ListTrades(context.Background(), 0)
	net := d("1500")
	for _, tr := range trades {
		if tr.Action == model.ActionBuy {
			net = net.Sub(tr.Total)
		} else {
			net = net.Add(tr.Total)
		}
	}
	if got := balanceOf(t, l); !got.Equal(net) {
		t.Errorf("balance %s does not reconcile with trades (%s)", got, net)
	}
}
