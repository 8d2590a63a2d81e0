package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func market(id, price, volume, liquidity string, end *time.Time) model.Market {
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
		EndDate:   end,
	}
}

func in(days float64) *time.Time {
	t := now.Add(time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func TestScore_SignalSum(t *testing.T) {
	s := NewScorer()
	tests := []struct {
		name      string
		price     string
		volume    string
		liquidity string
		end       *time.Time
		want      int // 0 means no opportunity
		reasons   []string
	}{
		{
			name: "all signals", price: "0.30", volume: "15000", liquidity: "60000", end: in(10),
			want:    70,
			reasons: []string{TagHighVolume, TagHighLiquidity, TagUndervalued, TagActiveWindow},
		},
		{
			name: "end-to-end candidate", price: "0.30", volume: "15000", liquidity: "60000",
			want:    60,
			reasons: []string{TagHighVolume, TagHighLiquidity, TagUndervalued},
		},
		{
			name: "moderate signals", price: "0.70", volume: "5000", liquidity: "20000",
			want:    38,
			reasons: []string{TagModerateVolume, TagAdequateLiq, TagHighProb},
		},
		{
			name: "balanced odds", price: "0.50", volume: "10001", liquidity: "0",
			want:    35,
			reasons: []string{TagHighVolume, TagBalanced},
		},
		{name: "exactly threshold", price: "0.90", volume: "20000", liquidity: "0", end: in(5), want: 0},
		{name: "below threshold", price: "0.50", volume: "500", liquidity: "500", want: 0},
		{
			name: "volume boundary is strict", price: "0.30", volume: "10000", liquidity: "0",
			want:    35,
			reasons: []string{TagModerateVolume, TagUndervalued},
		},
		{
			name: "end inside window", price: "0.30", volume: "0", liquidity: "0", end: in(10),
			want:    35,
			reasons: []string{TagUndervalued, TagActiveWindow},
		},
		{name: "end too close", price: "0.30", volume: "0", liquidity: "0", end: in(0.5), want: 0},
		{name: "end too far", price: "0.30", volume: "0", liquidity: "0", end: in(45), want: 0},
		{name: "past end date", price: "0.30", volume: "0", liquidity: "0", end: in(-3), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp, ok := s.Score(market("m1", tt.price, tt.volume, tt.liquidity, tt.end), "Yes", now)
			if tt.want == 0 {
				if ok {
					t.Fatalf("expected no opportunity, got score %d", opp.Score)
				}
				return
			}
			if !ok {
				t.Fatal("expected an opportunity")
			}
			if opp.Score != tt.want {
				t.Errorf("score = %d, want %d", opp.Score, tt.want)
			}
			if !reflect.DeepEqual(opp.Reasons, tt.reasons) {
				t.Errorf("reasons = %v, want %v", opp.Reasons, tt.reasons)
			}
		})
	}
}

func TestScore_PriceBandFirstMatchWins(t *testing.T) {
	s := NewScorer()
	tests := []struct {
		price string
		tag   string
	}{
		{"0.20", TagUndervalued},
		{"0.40", TagUndervalued},
		{"0.60", TagHighProb},
		{"0.80", TagHighProb},
		{"0.45", TagBalanced},
	}
	for _, tt := range tests {
		opp, ok := s.Score(market("m", tt.price, "20000", "60000", nil), "Yes", now)
		if !ok {
			t.Fatalf("price %s: expected opportunity", tt.price)
		}
		if got := opp.Reasons[len(opp.Reasons)-1]; got != tt.tag {
			t.Errorf("price %s: tag = %q, want %q", tt.price, got, tt.tag)
		}
	}
}

func TestScore_PriceBandExclusive(t *testing.T) {
	s := NewScorer()
	tests := []struct {
		price string
		ok    bool
	}{
		{"0.05", false},
		{"0.95", false},
		{"0.0500001", true},
		{"0.9499999", true},
		{"0.01", false},
		{"0.99", false},
	}
	for _, tt := range tests {
		// Volume and liquidity alone score 35.
		m := market("m", "0.5", "20000", "60000", nil)
		m.Outcomes[0].Price = d(tt.price)
		_, ok := s.Score(m, "Yes", now)
		if ok != tt.ok {
			t.Errorf("price %s: admitted = %v, want %v", tt.price, ok, tt.ok)
		}
	}
}

func TestScore_UnknownOutcome(t *testing.T) {
	if _, ok := NewScorer().Score(market("m", "0.3", "20000", "60000", nil), "Maybe", now); ok {
		t.Error("unknown outcome should not score")
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer()
	m := market("m", "0.3", "20000", "60000", in(7))
	a, _ := s.Score(m, "Yes", now)
	b, _ := s.Score(m, "Yes", now)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("scores differ: %+v vs %+v", a, b)
	}
}

func TestRank_SortedStable(t *testing.T) {
	s := NewScorer()
	markets := []model.Market{
		market("a", "0.50", "20000", "60000", nil), // Yes 50, No 50
		market("b", "0.30", "20000", "60000", nil), // Yes 60, No 55
		{ID: "c", Outcomes: []model.Outcome{{Name: "Yes", Price: d("0.3")}}, Volume24h: d("20000"), Liquidity: d("60000")},
		market("d", "0.50", "500", "500", nil), // nothing qualifies
	}

	got := s.Rank(markets, now)

	type key struct {
		id, outcome string
		score       int
	}
	var keys []key
	for _, o := range got {
		keys = append(keys, key{o.MarketID, o.Outcome, o.Score})
	}
	want := []key{
		{"b", "Yes", 60},
		{"b", "No", 55},
		{"a", "Yes", 50},
		{"a", "No", 50},
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("rank = %v, want %v", keys, want)
	}
}

func TestRank_Empty(t *testing.T) {
	if got := NewScorer().Rank(nil, now); len(got) != 0 {
		t.Errorf("expected no opportunities, got %d", len(got))
	}
}
