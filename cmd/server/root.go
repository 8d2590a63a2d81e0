package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clobster",
	Short: "Paper-trading agent for prediction markets",
	Long: `Clobster scans public prediction markets, scores outcomes with a fixed
heuristic, and trades a simulated cash account against live prices.

Every cycle it refreshes open positions, closes those that hit an exit
rule, then admits a few new entries. State lives in PostgreSQL, SQLite or
memory depending on configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}
