package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "polymarket-trader",
	Short: "Automated trading agent for binary prediction markets",
	Long: `Automated trading agent for binary prediction markets.

The agent discovers high-volume markets, consumes a normalized
top-of-book and trade feed, quotes via a market-making strategy and a
cross-venue fair-value strategy, and simulates execution with a paper
broker. Every order passes a risk gate; every feed event lands on a
persistent tape that can be replayed as a backtest.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
