package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/aristath/mktcalc/internal/modules/optimization"
)

// runOutput is the structured form of a run for json and yaml output
type runOutput struct {
	Context  optimization.MarketContext `json:"context" yaml:"context"`
	Result   *optimization.Result       `json:"result" yaml:"result"`
	Warnings []optimization.Warning     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func validateFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// writeRun prints a run in the requested format. Warnings go to the log in
// text mode so the report stays byte-for-byte stable.
func writeRun(w io.Writer, format string, params *optimization.Params, result *optimization.Result, warnings []optimization.Warning) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runOutput{Context: params.Context, Result: result, Warnings: warnings})
	case "yaml":
		return writeYAML(w, runOutput{Context: params.Context, Result: result, Warnings: warnings})
	}

	for _, warning := range warnings {
		log.Warn().Str("code", warning.Code).Msg(warning.Message)
	}
	return optimization.WriteReport(w, params, result)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
