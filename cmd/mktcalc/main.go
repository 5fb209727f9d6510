// Command mktcalc runs the portfolio optimizer from the command line.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/mktcalc/pkg/logger"
)

var (
	logLevel string
	log      zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mktcalc",
	Short: "Constrained portfolio allocation optimizer",
	Long: `Optimize portfolio weights under beta, volatility, valuation and
yield constraints, and print the rebalancing report.

Examples:
  mktcalc sample --vix 28
  mktcalc optimize portfolio.yaml
  mktcalc optimize --raw --format json bundle.json
  mktcalc estimate prices.json`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(logger.Config{
			Level:  logLevel,
			Pretty: true,
			Output: os.Stderr,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
