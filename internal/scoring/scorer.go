// Package scoring ranks (market, outcome) pairs as trade opportunities.
//
// Scoring is deterministic: the same market, outcome and clock reading
// always produce the same Opportunity. Each signal contributes at most
// once and the score is the plain sum of the contributions.
package scoring

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// Rationale tags attached to opportunities.
const (
	TagHighVolume     = "high trading volume"
	TagModerateVolume = "moderate trading volume"
	TagHighLiquidity  = "high liquidity"
	TagAdequateLiq    = "adequate liquidity"
	TagUndervalued    = "undervalued opportunity"
	TagHighProb       = "high probability play"
	TagBalanced       = "balanced odds"
	TagActiveWindow   = "active timeframe"
)

var (
	volHigh     = decimal.NewFromInt(10000)
	volModerate = decimal.NewFromInt(1000)
	liqHigh     = decimal.NewFromInt(50000)
	liqAdequate = decimal.NewFromInt(10000)

	// Price bands, inclusive at both ends, checked in this order.
	bands = []struct {
		lo, hi decimal.Decimal
		points int
		tag    string
	}{
		{decimal.RequireFromString("0.20"), decimal.RequireFromString("0.40"), 25, TagUndervalued},
		{decimal.RequireFromString("0.60"), decimal.RequireFromString("0.80"), 20, TagHighProb},
		{decimal.RequireFromString("0.40"), decimal.RequireFromString("0.60"), 15, TagBalanced},
	}
)

// Scorer holds the static admission band and score threshold.
type Scorer struct {
	// MinPrice and MaxPrice bound the tradable price range, exclusive.
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal

	// Threshold is the score an opportunity must strictly exceed.
	Threshold int
}

// NewScorer returns a Scorer with the default band (0.05, 0.95) and
// threshold 30.
func NewScorer() *Scorer {
	return &Scorer{
		MinPrice:  decimal.RequireFromString("0.05"),
		MaxPrice:  decimal.RequireFromString("0.95"),
		Threshold: 30,
	}
}

// Score evaluates one outcome of a market. The boolean is false when the
// outcome is unknown, its price lies outside the band, or the score does
// not exceed the threshold.
func (s *Scorer) Score(m model.Market, outcome string, now time.Time) (model.Opportunity, bool) {
	price, ok := m.Price(outcome)
	if !ok {
		return model.Opportunity{}, false
	}
	if !price.GreaterThan(s.MinPrice) || !price.LessThan(s.MaxPrice) {
		return model.Opportunity{}, false
	}

	score := 0
	var reasons []string
	add := func(points int, tag string) {
		score += points
		reasons = append(reasons, tag)
	}

	switch {
	case m.Volume24h.GreaterThan(volHigh):
		add(20, TagHighVolume)
	case m.Volume24h.GreaterThan(volModerate):
		add(10, TagModerateVolume)
	}

	switch {
	case m.Liquidity.GreaterThan(liqHigh):
		add(15, TagHighLiquidity)
	case m.Liquidity.GreaterThan(liqAdequate):
		add(8, TagAdequateLiq)
	}

	for _, b := range bands {
		if price.GreaterThanOrEqual(b.lo) && price.LessThanOrEqual(b.hi) {
			add(b.points, b.tag)
			break
		}
	}

	if m.EndDate != nil {
		days := m.EndDate.Sub(now).Hours() / 24
		if days > 1 && days < 30 {
			add(10, TagActiveWindow)
		}
	}

	if score <= s.Threshold {
		return model.Opportunity{}, false
	}

	return model.Opportunity{
		MarketID:    m.ID,
		MarketSlug:  m.Slug,
		MarketTitle: m.Title,
		Outcome:     outcome,
		Price:       price,
		Volume24h:   m.Volume24h,
		Liquidity:   m.Liquidity,
		EndDate:     m.EndDate,
		Score:       score,
		Reasons:     reasons,
	}, true
}

// Rank scores every outcome of every market and returns the opportunities
// sorted by descending score. Ties keep input order. Markets with fewer
// than two outcomes are ignored.
func (s *Scorer) Rank(markets []model.Market, now time.Time) []model.Opportunity {
	var out []model.Opportunity
	for _, m := range markets {
		if len(m.Outcomes) < 2 {
			continue
		}
		for _, o := range m.Outcomes {
			if opp, ok := s.Score(m, o.Name, now); ok {
				out = append(out, opp)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
