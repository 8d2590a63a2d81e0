// Package annotate produces the first-person commentary attached to each
// committed trade. Annotation is advisory: it runs after the commit, it
// never fails, and it never influences what the engine trades.
package annotate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// Request describes the trade being explained.
type Request struct {
	Action      string // model.ActionBuy or model.ActionSell
	MarketTitle string
	Outcome     string
	Price       decimal.Decimal
	Reasons     []string         // scorer tags, entries only
	PnL         *decimal.Decimal // realized P&L, exits only
	ExitReason  string
	Stats       *model.Stats // portfolio at commit time, if available
}

// Annotator explains a trade. Implementations must return within a
// bounded time and always return usable text.
type Annotator interface {
	Explain(ctx context.Context, req Request) string
}

// Rand picks among fallback templates. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// Templates is the static annotator used when no language model is
// configured, or when a call to one fails.
type Templates struct {
	mu  sync.Mutex
	rng Rand
}

// NewTemplates returns a template annotator. A nil rng uses a
// time-seeded source.
func NewTemplates(rng Rand) *Templates {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return &Templates{rng: rng}
}

var (
	buyTemplates = []string{
		`I'm taking a position on "%s" at %s%%. The volume and price action here caught my attention.`,
		`Picking up "%s" shares at %s%%. Market sentiment seems to be shifting in this direction.`,
		`Going in on "%s" at %s%%. The risk/reward here looks favorable for my portfolio.`,
		`Adding "%s" to my positions at %s%%. My analysis suggests this might be undervalued.`,
		`Buying "%s" at %s%%. The market dynamics here are interesting.`,
	}
	sellTemplates = []string{
		`Taking profits on "%s" at %s%%. Time to lock in these gains.`,
		`Closing my "%s" position at %s%%. The trade has played out well.`,
		`Exiting "%s" at %s%%. Always good to secure profits when available.`,
		`Selling "%s" at %s%%. Market conditions have changed since I entered.`,
	}
)

// Explain returns one of the canned lines for the action.
func (t *Templates) Explain(_ context.Context, req Request) string {
	options := buyTemplates
	if req.Action == model.ActionSell {
		options = sellTemplates
	}
	t.mu.Lock()
	i := t.rng.IntN(len(options))
	t.mu.Unlock()
	return fmt.Sprintf(options[i], req.Outcome, pricePercent(req.Price))
}

func pricePercent(p decimal.Decimal) string {
	return p.Mul(decimal.NewFromInt(100)).StringFixed(0)
}
