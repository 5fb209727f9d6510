package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/mktcalc/internal/modules/optimization"
)

var (
	sampleVIX    float64
	sampleFormat string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Optimize the built-in five-holding sample portfolio",
	Long: `Optimize the built-in sample portfolio. A VIX above 25 selects the
opportunistic regime, anything else the conservative one.`,
	Args: cobra.NoArgs,
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().Float64Var(&sampleVIX, "vix", optimization.DefaultSampleVIX, "VIX level driving the regime")
	sampleCmd.Flags().StringVar(&sampleFormat, "format", "text", "Output format (text|json|yaml)")
}

func runSample(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sampleFormat); err != nil {
		return err
	}

	service := optimization.NewService(0, log)
	params, result, warnings, err := service.RunRequest(context.Background(), optimization.SampleRequest(sampleVIX))
	if err != nil {
		return fmt.Errorf("sample scenario rejected: %w", err)
	}

	return writeRun(cmd.OutOrStdout(), sampleFormat, params, result, warnings)
}
