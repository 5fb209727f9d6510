package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/mktcalc/internal/modules/optimization"
)

var (
	optimizeRaw     bool
	optimizeFormat  string
	optimizeTimeout time.Duration
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <bundle>",
	Short: "Optimize a portfolio bundle file",
	Long: `Optimize the portfolio described by a .json, .yaml or .msgpack bundle.

By default the bundle is a typed request with a constraints section. With
--raw it is the wire layout whose first instrument carries the constraint
metadata as strings.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().BoolVar(&optimizeRaw, "raw", false, "Bundle uses the first-entry constraint carrier layout")
	optimizeCmd.Flags().StringVar(&optimizeFormat, "format", "text", "Output format (text|json|yaml)")
	optimizeCmd.Flags().DurationVar(&optimizeTimeout, "timeout", 10*time.Second, "Give up after this long (0 disables)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	if err := validateFormat(optimizeFormat); err != nil {
		return err
	}

	params, warnings, err := loadParams(args[0], optimizeRaw)
	if err != nil {
		return fmt.Errorf("invalid bundle: %w", err)
	}

	service := optimization.NewService(optimizeTimeout, log)
	result, err := service.Run(context.Background(), params)
	if err != nil {
		return err
	}

	return writeRun(cmd.OutOrStdout(), optimizeFormat, params, result, warnings)
}
