// Package feed reads market snapshots from the Polymarket Gamma API.
//
// The feed is read-only and stateless. Every request carries a bounded
// timeout; a request that fails or times out surfaces as
// ErrDataUnavailable so callers can skip the affected item.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/model"
)

// DefaultBaseURL is the public Gamma API endpoint.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

var (
	// ErrDataUnavailable is returned when a fetch failed or timed out.
	ErrDataUnavailable = errors.New("feed: data unavailable")

	// ErrNotFound is returned when the market or outcome no longer exists.
	ErrNotFound = errors.New("feed: not found")

	// ErrInvalidMarketShape is returned when a market's outcome or price
	// data cannot be interpreted.
	ErrInvalidMarketShape = errors.New("feed: invalid market shape")
)

// Category selects a candidate list.
type Category string

const (
	Trending Category = "trending"
	New      Category = "new"
)

// Feed is the read-only market data source consumed by the engine.
type Feed interface {
	ListCandidates(ctx context.Context, category Category) ([]model.Market, error)
	GetPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error)
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a GammaClient. Zero values fall back to defaults.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	TrendingLimit int
	NewLimit      int
	Doer          Doer
	Logger        *slog.Logger
}

// GammaClient implements Feed over the Gamma REST API.
type GammaClient struct {
	baseURL       string
	timeout       time.Duration
	trendingLimit int
	newLimit      int
	doer          Doer
	log           *slog.Logger
}

// NewGammaClient creates a Gamma-backed feed.
func NewGammaClient(opts Options) *GammaClient {
	c := &GammaClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		timeout:       opts.Timeout,
		trendingLimit: opts.TrendingLimit,
		newLimit:      opts.NewLimit,
		doer:          opts.Doer,
		log:           opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.trendingLimit <= 0 {
		c.trendingLimit = 30
	}
	if c.newLimit <= 0 {
		c.newLimit = 20
	}
	if c.doer == nil {
		c.doer = &http.Client{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// ListCandidates returns active, open markets for the category. Markets
// whose outcome data is malformed are dropped.
func (c *GammaClient) ListCandidates(ctx context.Context, category Category) ([]model.Market, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("ascending", "false")
	switch category {
	case Trending:
		q.Set("limit", fmt.Sprint(c.trendingLimit))
		q.Set("order", "volume24hr")
	case New:
		q.Set("limit", fmt.Sprint(c.newLimit))
		q.Set("order", "startDate")
	default:
		return nil, fmt.Errorf("feed: unknown category %q", category)
	}

	var page []json.RawMessage
	if err := c.get(ctx, "/markets?"+q.Encode(), &page); err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(page))
	for i, raw := range page {
		m, err := decodeMarket(raw)
		if err != nil {
			c.log.Debug("dropping market", "index", i, "err", err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// GetPrice returns the current price of one outcome of a market.
func (c *GammaClient) GetPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/markets/"+url.PathEscape(marketID), &raw); err != nil {
		return decimal.Zero, err
	}
	m, err := decodeMarket(raw)
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := m.Price(outcome)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: outcome %q of market %s", ErrNotFound, outcome, marketID)
	}
	return price, nil
}

func (c *GammaClient) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s returned status %d", ErrDataUnavailable, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrDataUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrDataUnavailable, path, err)
	}
	return nil
}
