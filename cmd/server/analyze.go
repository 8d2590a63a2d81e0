package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justerbaster/clobster-railway/internal/config"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run exactly one decision cycle and print the report",
	Long: `Analyze runs one cycle against the configured ledger and prints the
cycle report as JSON. Annotations are written before the command exits.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// The report goes to stdout; keep logs out of its way.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		slog.Error("ledger initialisation failed", "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	recorder := newRecorder(cfg, ledger)
	seq := newSequencer(cfg, ledger, newFeed(cfg), recorder)

	rep, runErr := seq.Run(ctx)
	recorder.Wait()

	if rep != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	return runErr
}
