package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/justerbaster/clobster-railway/internal/annotate"
	"github.com/justerbaster/clobster-railway/internal/config"
	"github.com/justerbaster/clobster-railway/internal/engine"
	"github.com/justerbaster/clobster-railway/internal/exits"
	"github.com/justerbaster/clobster-railway/internal/feed"
	"github.com/justerbaster/clobster-railway/internal/scoring"
	"github.com/justerbaster/clobster-railway/internal/store"
)

// openLedger selects the ledger backend and makes sure the account row
// exists. The returned cleanup closes every connection it opened.
func openLedger(ctx context.Context, cfg *config.Config) (store.Ledger, func(), error) {
	var (
		ledger  store.Ledger
		cleanup []func()
	)
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case cfg.Storage.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		ledger = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			ledger = store.NewCachedStore(ledger, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
		}

	case cfg.Storage.SQLitePath != "":
		lite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		ledger = lite
		slog.Info("using SQLite ledger", "path", cfg.Storage.SQLitePath)

	default:
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		ledger = store.NewMemoryStore()
	}

	if err := ledger.EnsureAccount(ctx, cfg.Trading.InitialBalance); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("ensure account: %w", err)
	}
	return ledger, closeAll, nil
}

func newFeed(cfg *config.Config) *feed.GammaClient {
	return feed.NewGammaClient(feed.Options{
		BaseURL:       cfg.Feed.BaseURL,
		Timeout:       cfg.Feed.Timeout,
		TrendingLimit: cfg.Feed.TrendingLimit,
		NewLimit:      cfg.Feed.NewLimit,
	})
}

// newSequencer builds the decision engine from the trading section.
func newSequencer(cfg *config.Config, ledger store.Ledger, f feed.Feed, hooks ...engine.CommitHook) *engine.Sequencer {
	t := cfg.Trading
	scorer := &scoring.Scorer{
		MinPrice:  t.MinPrice,
		MaxPrice:  t.MaxPrice,
		Threshold: t.ScoreThreshold,
	}
	rules := exits.Rules{
		TakeProfitPct:  t.TakeProfitPct,
		StopLossPct:    t.StopLossPct,
		NearResolution: t.NearResolution,
		LockInProb:     t.LockInProb,
	}
	params := engine.Params{
		MaxPositions:       t.MaxPositions,
		MaxNewPerCycle:     t.MaxNewPerCycle,
		MaxPositionSize:    t.MaxPositionSize,
		MinTradeSize:       t.MinTradeSize,
		SizeFractionMin:    t.SizeFractionMin,
		SizeFractionMax:    t.SizeFractionMax,
		AdmitProb:          t.AdmitProb,
		FetchTimeout:       cfg.Feed.Timeout,
		RefreshConcurrency: t.RefreshConcurrency,
	}
	return engine.NewSequencer(ledger, f, scorer, rules, params, engine.Options{Hooks: hooks})
}

func newRecorder(cfg *config.Config, ledger store.Ledger) *annotate.Recorder {
	a := annotate.New(annotate.OpenAIConfig{
		APIKey:  cfg.Annotator.OpenAIKey,
		Model:   cfg.Annotator.Model,
		Timeout: cfg.Annotator.Timeout,
	}, annotate.NewTemplates(nil))
	return annotate.NewRecorder(ledger, a, cfg.Annotator.Timeout)
}
