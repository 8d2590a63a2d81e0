package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// gammaMarket is the subset of the Gamma market payload the agent reads.
type gammaMarket struct {
	ID            string       `json:"id"`
	Question      string       `json:"question"`
	Title         string       `json:"title"`
	Slug          string       `json:"slug"`
	Outcomes      stringList   `json:"outcomes"`
	OutcomePrices stringList   `json:"outcomePrices"`
	Tokens        []gammaToken `json:"tokens"`
	Volume24hr    flexDecimal  `json:"volume24hr"`
	Liquidity     flexDecimal  `json:"liquidity"`
	EndDate       string       `json:"endDate"`
}

type gammaToken struct {
	Outcome string      `json:"outcome"`
	Price   flexDecimal `json:"price"`
}

// decodeMarket decodes one market object. Any decode failure is an
// ErrInvalidMarketShape so that one bad market cannot spoil a page.
func decodeMarket(raw json.RawMessage) (model.Market, error) {
	var g gammaMarket
	if err := json.Unmarshal(raw, &g); err != nil {
		return model.Market{}, fmt.Errorf("%w: %v", ErrInvalidMarketShape, err)
	}
	return g.toModel()
}

func (g *gammaMarket) toModel() (model.Market, error) {
	outcomes, err := g.parseOutcomes()
	if err != nil {
		return model.Market{}, fmt.Errorf("%w: market %s: %v", ErrInvalidMarketShape, g.ID, err)
	}
	if len(outcomes) < 2 {
		return model.Market{}, fmt.Errorf("%w: market %s has %d outcomes", ErrInvalidMarketShape, g.ID, len(outcomes))
	}

	m := model.Market{
		ID:        g.ID,
		Title:     g.Question,
		Slug:      g.Slug,
		Outcomes:  outcomes,
		Volume24h: g.Volume24hr.Decimal,
		Liquidity: g.Liquidity.Decimal,
		EndDate:   parseEndDate(g.EndDate),
	}
	if m.Title == "" {
		m.Title = g.Title
	}
	if m.Slug == "" {
		m.Slug = g.ID
	}
	return m, nil
}

func (g *gammaMarket) parseOutcomes() ([]model.Outcome, error) {
	if g.OutcomePrices.Set {
		names, prices := g.Outcomes.Values, g.OutcomePrices.Values
		if len(names) != len(prices) {
			return nil, fmt.Errorf("%d outcomes but %d prices", len(names), len(prices))
		}
		out := make([]model.Outcome, len(names))
		for i, name := range names {
			p, err := decimal.NewFromString(strings.TrimSpace(prices[i]))
			if err != nil {
				return nil, fmt.Errorf("price %q: %v", prices[i], err)
			}
			if err := checkPrice(p); err != nil {
				return nil, err
			}
			out[i] = model.Outcome{Name: name, Price: p}
		}
		return out, nil
	}

	out := make([]model.Outcome, 0, len(g.Tokens))
	for _, t := range g.Tokens {
		if t.Outcome == "" {
			return nil, fmt.Errorf("token without outcome")
		}
		if err := checkPrice(t.Price.Decimal); err != nil {
			return nil, err
		}
		out = append(out, model.Outcome{Name: t.Outcome, Price: t.Price.Decimal})
	}
	return out, nil
}

func checkPrice(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("price %s outside [0,1]", p)
	}
	return nil
}

func parseEndDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// stringList decodes a list of strings that Gamma sends either as a JSON
// array or as a JSON array encoded inside a string. Numeric elements keep
// their literal text. Set reports whether a non-empty value was present.
type stringList struct {
	Values []string
	Set    bool
}

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		if strings.TrimSpace(inner) == "" {
			return nil
		}
		b = []byte(inner)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(b, &elems); err != nil {
		return fmt.Errorf("expected a list: %v", err)
	}
	values := make([]string, len(elems))
	for i, e := range elems {
		e = bytes.TrimSpace(e)
		if len(e) > 0 && e[0] == '"' {
			if err := json.Unmarshal(e, &values[i]); err != nil {
				return err
			}
			continue
		}
		values[i] = string(e)
	}
	l.Values = values
	l.Set = true
	return nil
}

// flexDecimal decodes a JSON number, a numeric string, an empty string or
// null. Anything unparsable decodes to zero.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		f.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		f.Decimal = decimal.Zero
		return nil
	}
	f.Decimal = d
	return nil
}
