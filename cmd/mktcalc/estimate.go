package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/mktcalc/pkg/formulas"
)

var estimateFormat string

var estimateCmd = &cobra.Command{
	Use:   "estimate <prices>",
	Short: "Estimate returns, volatility and correlations from daily closes",
	Long: `Read a .json, .yaml or .msgpack file mapping each symbol to its daily
closing prices, oldest first, and print annualized expected return and
volatility per symbol plus pairwise correlations.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	estimateCmd.Flags().StringVar(&estimateFormat, "format", "yaml", "Output format (json|yaml)")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	var prices map[string][]float64
	if err := decodeFile(args[0], &prices); err != nil {
		return err
	}

	est, err := formulas.Estimate(prices)
	if err != nil {
		return fmt.Errorf("estimate failed: %w", err)
	}

	switch estimateFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(est)
	case "yaml":
		return writeYAML(cmd.OutOrStdout(), est)
	}
	return fmt.Errorf("unknown output format %q (want json or yaml)", estimateFormat)
}
