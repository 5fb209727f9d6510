// Package optimization provides the constrained portfolio allocation optimizer.
package optimization

import (
	"fmt"
	"strings"
)

// ActionThreshold is the dollar difference a target must clear before a
// position is traded. Smaller differences are rounding noise and map to HOLD.
const ActionThreshold = 10.0

// Defaults applied when a bundle does not carry the optional constraint keys.
const (
	DefaultMaxWeight = 0.35
	DefaultMinYield  = 0.03
)

// Instrument holds the per-holding fundamentals the optimizer works with.
type Instrument struct {
	Symbol         string  `json:"symbol" msgpack:"symbol" yaml:"symbol"`
	Beta           float64 `json:"beta" msgpack:"beta" yaml:"beta"`
	DividendYield  float64 `json:"dividend_yield" msgpack:"dividend_yield" yaml:"dividend_yield"`
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return" yaml:"expected_return"`
	StdDev         float64 `json:"std_dev" msgpack:"std_dev" yaml:"std_dev"`
	PERatio        float64 `json:"pe_ratio" msgpack:"pe_ratio" yaml:"pe_ratio"`
	Capital        float64 `json:"capital" msgpack:"capital" yaml:"capital"` // currently held, in dollars
}

// CorrelationEntry is one (row, col, value) cell of a sparse correlation matrix.
type CorrelationEntry struct {
	Row   string  `json:"row" msgpack:"row" yaml:"row"`
	Col   string  `json:"col" msgpack:"col" yaml:"col"`
	Value float64 `json:"value" msgpack:"value" yaml:"value"`
}

// ObjectiveMode selects the linear objective maximized by the solver.
type ObjectiveMode int

const (
	MaximizeReturn ObjectiveMode = iota
	MaximizeYield
	Balanced
)

// String returns the canonical tag for the mode.
func (m ObjectiveMode) String() string {
	switch m {
	case MaximizeYield:
		return "MAXIMIZE_YIELD"
	case Balanced:
		return "BALANCED"
	default:
		return "MAXIMIZE_RETURN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ObjectiveMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ObjectiveMode) UnmarshalText(text []byte) error {
	mode, err := ParseObjectiveMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseObjectiveMode maps an objective tag to its mode. The short tags used by
// older clients (MAX_RETURN, MAX_YIELD) are accepted. An empty tag selects
// MaximizeReturn.
func ParseObjectiveMode(tag string) (ObjectiveMode, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "", "MAXIMIZE_RETURN", "MAX_RETURN":
		return MaximizeReturn, nil
	case "MAXIMIZE_YIELD", "MAX_YIELD":
		return MaximizeYield, nil
	case "BALANCED":
		return Balanced, nil
	}
	return MaximizeReturn, fmt.Errorf("unknown objective mode %q", tag)
}

// Constraints bundles the portfolio-wide limits of one optimization.
type Constraints struct {
	MaxWeight     float64       `json:"max_weight" msgpack:"max_weight" yaml:"max_weight"`
	MinYield      float64       `json:"min_yield" msgpack:"min_yield" yaml:"min_yield"`
	MaxVolatility float64       `json:"max_vol" msgpack:"max_vol" yaml:"max_vol"`
	MaxPE         float64       `json:"max_pe" msgpack:"max_pe" yaml:"max_pe"`
	TargetBeta    float64       `json:"target_beta" msgpack:"target_beta" yaml:"target_beta"`
	Objective     ObjectiveMode `json:"objective" msgpack:"objective" yaml:"objective"`
}

// ConstraintInput is the wire form of Constraints. A nil limit was absent from
// the payload: required limits then fail with MISSING_PARAMETER, optional ones
// take their defaults.
type ConstraintInput struct {
	MaxWeight     *float64      `json:"max_weight,omitempty" msgpack:"max_weight,omitempty" yaml:"max_weight,omitempty"`
	MinYield      *float64      `json:"min_yield,omitempty" msgpack:"min_yield,omitempty" yaml:"min_yield,omitempty"`
	MaxVolatility *float64      `json:"max_vol,omitempty" msgpack:"max_vol,omitempty" yaml:"max_vol,omitempty"`
	MaxPE         *float64      `json:"max_pe,omitempty" msgpack:"max_pe,omitempty" yaml:"max_pe,omitempty"`
	TargetBeta    *float64      `json:"target_beta,omitempty" msgpack:"target_beta,omitempty" yaml:"target_beta,omitempty"`
	Objective     ObjectiveMode `json:"objective" msgpack:"objective" yaml:"objective"`
}

// Float64 returns a pointer to v, for filling ConstraintInput.
func Float64(v float64) *float64 {
	return &v
}

// MarketContext labels the regime a request was built for. It does not
// influence the solve and is only echoed in reports.
type MarketContext struct {
	RiskMode string  `json:"risk_mode" msgpack:"risk_mode" yaml:"risk_mode"`
	VIX      float64 `json:"vix" msgpack:"vix" yaml:"vix"`
}

// PortfolioState is the capital picture before rebalancing.
type PortfolioState struct {
	StartCapital float64            `json:"start_capital"`
	NewCash      float64            `json:"new_cash"`
	Holdings     map[string]float64 `json:"holdings"`
}

// TotalToAllocate is the capital the target weights are applied to.
func (s PortfolioState) TotalToAllocate() float64 {
	return s.StartCapital + s.NewCash
}

// Params is a fully validated optimizer input.
type Params struct {
	Instruments []Instrument
	Correlation *CorrelationMatrix
	Constraints Constraints
	State       PortfolioState
	Context     MarketContext
}

// Symbols returns instrument symbols in solve order.
func (p *Params) Symbols() []string {
	symbols := make([]string, len(p.Instruments))
	for i, inst := range p.Instruments {
		symbols[i] = inst.Symbol
	}
	return symbols
}

// Status is the outcome of a solve.
type Status string

const (
	StatusOptimal     Status = "OPTIMAL"
	StatusInfeasible  Status = "INFEASIBLE"
	StatusSolverError Status = "SOLVER_ERROR"
)

// Action is a rebalancing instruction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Recommendation is the per-instrument line of a rebalancing report.
type Recommendation struct {
	Symbol       string  `json:"symbol" msgpack:"symbol" yaml:"symbol"`
	TargetWeight float64 `json:"target_weight" msgpack:"target_weight" yaml:"target_weight"`
	TargetValue  float64 `json:"target_value" msgpack:"target_value" yaml:"target_value"`
	CurrentValue float64 `json:"current_value" msgpack:"current_value" yaml:"current_value"`
	Diff         float64 `json:"diff" msgpack:"diff" yaml:"diff"`
	Action       Action  `json:"action" msgpack:"action" yaml:"action"`
	Amount       float64 `json:"amount" msgpack:"amount" yaml:"amount"` // absolute dollars to trade, 0 on HOLD
}

// Instruction formats the action the way traders read it, e.g. "BUY $1,250".
func (r Recommendation) Instruction() string {
	if r.Action == ActionHold {
		return "HOLD"
	}
	return fmt.Sprintf("%s $%s", r.Action, formatDollars(r.Amount))
}

// PortfolioMetrics are realized portfolio-level figures for solved weights.
type PortfolioMetrics struct {
	ExpectedReturn  float64 `json:"expected_return" msgpack:"expected_return" yaml:"expected_return"`
	Volatility      float64 `json:"volatility" msgpack:"volatility" yaml:"volatility"`
	Beta            float64 `json:"beta" msgpack:"beta" yaml:"beta"`
	PERatio         float64 `json:"pe_ratio" msgpack:"pe_ratio" yaml:"pe_ratio"`
	Yield           float64 `json:"yield" msgpack:"yield" yaml:"yield"`
	TotalToAllocate float64 `json:"total_to_allocate" msgpack:"total_to_allocate" yaml:"total_to_allocate"`
}

// Result is the optimizer output. Recommendations and Metrics are only set
// when Status is StatusOptimal.
type Result struct {
	Status          Status            `json:"status" msgpack:"status" yaml:"status"`
	Recommendations []Recommendation  `json:"recommendations,omitempty" msgpack:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Metrics         *PortfolioMetrics `json:"metrics,omitempty" msgpack:"metrics,omitempty" yaml:"metrics,omitempty"`
	Iterations      int               `json:"iterations" msgpack:"iterations" yaml:"iterations"`
	Detail          string            `json:"detail,omitempty" msgpack:"detail,omitempty" yaml:"detail,omitempty"`
}

// Weights returns target weights keyed by symbol.
func (r *Result) Weights() map[string]float64 {
	weights := make(map[string]float64, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		weights[rec.Symbol] = rec.TargetWeight
	}
	return weights
}

// Warning reports input that was accepted but partly ignored.
type Warning struct {
	Code    string `json:"code" msgpack:"code" yaml:"code"`
	Message string `json:"message" msgpack:"message" yaml:"message"`
}

// Warning codes.
const (
	WarnUnknownCorrelationSymbol = "UNKNOWN_CORRELATION_SYMBOL"
)
