package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/justerbaster/clobster-railway/internal/api"
	"github.com/justerbaster/clobster-railway/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic decision cycle",
	Long: `Serve starts the JSON API and WebSocket stream, runs one decision cycle
immediately, and then one every analyze_interval until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize ledger ---
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		slog.Error("ledger initialisation failed", "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Decision engine ---
	recorder := newRecorder(cfg, ledger)
	seq := newSequencer(cfg, ledger, newFeed(cfg), recorder, wsHub)

	// --- HTTP API ---
	svc := api.NewService(ledger, seq, wsHub)
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     api.NewRouter(svc, wsHub),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("clobster listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		slog.Info("scheduler started", "interval", cfg.Server.AnalyzeInterval)
		seq.Schedule(ctx, cfg.Server.AnalyzeInterval, wsHub.BroadcastCycle)
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down clobster...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	<-schedDone

	waitOrTimeout(shutdownCtx, recorder.Wait)
	slog.Info("clobster stopped")
	return nil
}

// waitOrTimeout calls wait and gives up when ctx expires.
func waitOrTimeout(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("gave up waiting for annotations", "err", ctx.Err())
	}
}
