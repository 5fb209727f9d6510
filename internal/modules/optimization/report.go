package optimization

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	ruleWide  = "============================================================"
	ruleThin  = "------------------------------------------------------------"
	ruleTable = "----------------------------------------------------------------------"
)

// reportWriter remembers the first write error so the report can be written
// without checking every line.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...interface{}) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

// WriteReport renders the fixed-width rebalancing report.
func WriteReport(w io.Writer, params *Params, result *Result) error {
	rw := &reportWriter{w: w}

	if result.Status != StatusOptimal {
		rw.printf("Optimization failed. Constraints are too restrictive for these assets => %s\n", result.Status)
		if result.Detail != "" {
			rw.printf("%s\n", result.Detail)
		}
		return rw.err
	}

	c := params.Constraints
	m := result.Metrics

	rw.printf("%s\n", ruleWide)
	rw.printf(" MARKET CONTEXT: %s\n", params.Context.RiskMode)
	rw.printf(" VIX Level: %s | Status: %s\n", strconv.FormatFloat(params.Context.VIX, 'f', -1, 64), result.Status)
	rw.printf(" Objective: %s\n", c.Objective)
	rw.printf("%s\n", ruleWide)
	rw.printf("%-15s | %-8s | %-10s | %-10s | %-9s | %-9s | %s\n",
		"Stock", "Weight", "Current $", "Target $", "Return", "Yield", "Action")
	rw.printf("%s\n", ruleTable)

	for i, rec := range result.Recommendations {
		inst := params.Instruments[i]
		action := "--"
		if rec.Action != ActionHold {
			action = rec.Instruction()
		}
		rw.printf("%-15s | %-8s | $%9s | $%9s | %9.2f | %9.2f | %s\n",
			rec.Symbol,
			fmt.Sprintf("%.1f%%", rec.TargetWeight*100),
			formatDollars(rec.CurrentValue),
			formatDollars(rec.TargetValue),
			inst.ExpectedReturn,
			inst.DividendYield,
			action,
		)
	}

	rw.printf("%s\n", ruleWide)
	rw.printf(" PORTFOLIO RISK & RETURN METRICS\n")
	rw.printf("%s\n", ruleThin)
	rw.printf(" EXPECTED ANNUAL RETURN : %8.2f%%\n", m.ExpectedReturn*100)
	rw.printf(" PORTFOLIO VOLATILITY   : %8.2f%% (Limit: %.0f%%)\n", m.Volatility*100, c.MaxVolatility*100)
	rw.printf(" OVERALL PORTFOLIO BETA : %8.2f (Limit: %.2f)\n", m.Beta, c.TargetBeta)
	rw.printf(" AVERAGE P/E RATIO      : %8.1f (Limit: %.1f)\n", m.PERatio, c.MaxPE)
	rw.printf(" PORTFOLIO YIELD        : %8.2f%% (Min: %.0f%%)\n", m.Yield*100, c.MinYield*100)
	rw.printf("%s\n", ruleWide)

	return rw.err
}

// formatDollars renders a whole-dollar amount with thousands separators.
func formatDollars(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}
