package optimization

import (
	"math"
	"strconv"
	"strings"
)

// Metadata keys read from the constraint carrier (first raw instrument).
const (
	KeyRiskMode      = "risk_mode"
	KeyVIX           = "vix"
	KeyTargetBeta    = "target_beta"
	KeyMaxVol        = "max_vol"
	KeyMaxPE         = "max_pe"
	KeyMaxWeight     = "max_weight"
	KeyMinYield      = "min_yield"
	KeyNewCash       = "new_cash"
	KeyObjectiveMode = "objective_mode"
)

// Metadata keys read from every optimized instrument.
const (
	KeyReturn  = "return"
	KeyStdDev  = "std_dev"
	KeyPERatio = "pe_ratio"
)

// RawInstrument is one entry of the wire bundle. Numeric metadata arrives as
// strings.
type RawInstrument struct {
	Symbol        string            `json:"symbol" msgpack:"symbol" yaml:"symbol"`
	Beta          float64           `json:"beta" msgpack:"beta" yaml:"beta"`
	DividendYield float64           `json:"dividend_yield" msgpack:"dividend_yield" yaml:"dividend_yield"`
	Capital       float64           `json:"capital" msgpack:"capital" yaml:"capital"`
	Metadata      map[string]string `json:"metadata" msgpack:"metadata" yaml:"metadata"`
}

// RawPortfolio is the wire bundle. Instruments[0] carries the portfolio-wide
// constraint metadata and is not itself optimized.
type RawPortfolio struct {
	Instruments  []RawInstrument    `json:"instruments" msgpack:"instruments" yaml:"instruments"`
	Correlations []CorrelationEntry `json:"correlations" msgpack:"correlations" yaml:"correlations"`
}

// Request is the explicitly typed bundle: constraints travel in their own
// field instead of inside an instrument slot. Context is an optional label.
type Request struct {
	Constraints  ConstraintInput    `json:"constraints" msgpack:"constraints" yaml:"constraints"`
	Context      MarketContext      `json:"context" msgpack:"context" yaml:"context"`
	NewCash      float64            `json:"new_cash" msgpack:"new_cash" yaml:"new_cash"`
	Instruments  []Instrument       `json:"instruments" msgpack:"instruments" yaml:"instruments"`
	Correlations []CorrelationEntry `json:"correlations" msgpack:"correlations" yaml:"correlations"`
}

// ParsePortfolio normalizes a wire bundle into optimizer params.
func ParsePortfolio(raw RawPortfolio) (*Params, []Warning, error) {
	req, err := splitCarrier(raw)
	if err != nil {
		return nil, nil, err
	}
	return req.Normalize()
}

// splitCarrier is the only place that knows the first raw instrument is the
// constraint carrier. Everything downstream works on a typed Request.
func splitCarrier(raw RawPortfolio) (*Request, error) {
	if len(raw.Instruments) <= 1 {
		return nil, invalidInput("portfolio needs a constraint carrier and at least one instrument, got %d entries", len(raw.Instruments))
	}

	carrier := metadata(raw.Instruments[0].Metadata)

	riskMode, err := carrier.str(KeyRiskMode)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Context:      MarketContext{RiskMode: riskMode},
		Correlations: raw.Correlations,
	}

	if req.Context.VIX, err = carrier.float(KeyVIX); err != nil {
		return nil, err
	}

	required := []struct {
		key string
		dst **float64
	}{
		{KeyTargetBeta, &req.Constraints.TargetBeta},
		{KeyMaxVol, &req.Constraints.MaxVolatility},
		{KeyMaxPE, &req.Constraints.MaxPE},
	}
	for _, r := range required {
		v, err := carrier.float(r.key)
		if err != nil {
			return nil, err
		}
		*r.dst = &v
	}

	optional := []struct {
		key string
		dst **float64
	}{
		{KeyMaxWeight, &req.Constraints.MaxWeight},
		{KeyMinYield, &req.Constraints.MinYield},
	}
	for _, o := range optional {
		s, ok := carrier[o.key]
		if !ok {
			continue
		}
		v, err := parseFloat(o.key, s)
		if err != nil {
			return nil, err
		}
		*o.dst = &v
	}
	if req.NewCash, err = carrier.floatOr(KeyNewCash, 0); err != nil {
		return nil, err
	}

	if tag, ok := carrier[KeyObjectiveMode]; ok {
		mode, err := ParseObjectiveMode(tag)
		if err != nil {
			return nil, parseError(KeyObjectiveMode, tag)
		}
		req.Constraints.Objective = mode
	}

	req.Instruments = make([]Instrument, 0, len(raw.Instruments)-1)
	for _, ri := range raw.Instruments[1:] {
		md := metadata(ri.Metadata)
		inst := Instrument{
			Symbol:        ri.Symbol,
			Beta:          ri.Beta,
			DividendYield: ri.DividendYield,
			Capital:       ri.Capital,
		}
		if inst.ExpectedReturn, err = md.float(KeyReturn); err != nil {
			return nil, err
		}
		if inst.StdDev, err = md.float(KeyStdDev); err != nil {
			return nil, err
		}
		if inst.PERatio, err = md.float(KeyPERatio); err != nil {
			return nil, err
		}
		req.Instruments = append(req.Instruments, inst)
	}

	return req, nil
}

// Normalize validates the request and builds optimizer params. Warnings list
// correlation entries that were ignored.
func (r *Request) Normalize() (*Params, []Warning, error) {
	if len(r.Instruments) == 0 {
		return nil, nil, invalidInput("portfolio has no instruments")
	}
	constraints, err := r.Constraints.resolve()
	if err != nil {
		return nil, nil, err
	}
	if err := r.validate(constraints); err != nil {
		return nil, nil, err
	}

	instruments := append([]Instrument(nil), r.Instruments...)
	symbols := make([]string, len(instruments))
	holdings := make(map[string]float64, len(instruments))
	var startCapital float64
	for i, inst := range instruments {
		symbols[i] = inst.Symbol
		holdings[inst.Symbol] = inst.Capital
		startCapital += inst.Capital
	}

	corr, warnings := NewCorrelationMatrix(symbols, r.Correlations)

	return &Params{
		Instruments: instruments,
		Correlation: corr,
		Constraints: constraints,
		State: PortfolioState{
			StartCapital: startCapital,
			NewCash:      r.NewCash,
			Holdings:     holdings,
		},
		Context: r.Context,
	}, warnings, nil
}

// resolve applies defaults and reports the first absent required limit.
func (in ConstraintInput) resolve() (Constraints, error) {
	required := []struct {
		key string
		v   *float64
	}{
		{KeyTargetBeta, in.TargetBeta},
		{KeyMaxVol, in.MaxVolatility},
		{KeyMaxPE, in.MaxPE},
	}
	for _, r := range required {
		if r.v == nil {
			return Constraints{}, missingParameter(r.key)
		}
	}

	c := Constraints{
		MaxWeight:     DefaultMaxWeight,
		MinYield:      DefaultMinYield,
		MaxVolatility: *in.MaxVolatility,
		MaxPE:         *in.MaxPE,
		TargetBeta:    *in.TargetBeta,
		Objective:     in.Objective,
	}
	if in.MaxWeight != nil {
		c.MaxWeight = *in.MaxWeight
	}
	if in.MinYield != nil {
		c.MinYield = *in.MinYield
	}
	return c, nil
}

func (r *Request) validate(c Constraints) error {
	limits := []struct {
		key string
		v   float64
	}{
		{KeyMaxWeight, c.MaxWeight},
		{KeyMinYield, c.MinYield},
		{KeyMaxVol, c.MaxVolatility},
		{KeyMaxPE, c.MaxPE},
		{KeyTargetBeta, c.TargetBeta},
		{KeyVIX, r.Context.VIX},
		{KeyNewCash, r.NewCash},
	}
	for _, l := range limits {
		if !finite(l.v) {
			return &InputError{Code: CodeInvalidInput, Key: l.key, Message: "value must be finite"}
		}
	}
	if c.MaxWeight <= 0 {
		return &InputError{Code: CodeInvalidInput, Key: KeyMaxWeight, Message: "max weight must be positive"}
	}
	if c.MaxVolatility < 0 {
		return &InputError{Code: CodeInvalidInput, Key: KeyMaxVol, Message: "max volatility cannot be negative"}
	}
	if r.NewCash < 0 {
		return &InputError{Code: CodeInvalidInput, Key: KeyNewCash, Message: "new cash cannot be negative"}
	}

	seen := make(map[string]struct{}, len(r.Instruments))
	for i, inst := range r.Instruments {
		if strings.TrimSpace(inst.Symbol) == "" {
			return invalidInput("instrument %d has no symbol", i)
		}
		if _, dup := seen[inst.Symbol]; dup {
			return invalidInput("duplicate symbol %s", inst.Symbol)
		}
		seen[inst.Symbol] = struct{}{}

		for _, v := range []float64{inst.Beta, inst.DividendYield, inst.ExpectedReturn, inst.StdDev, inst.PERatio, inst.Capital} {
			if !finite(v) {
				return invalidInput("instrument %s has a non-finite field", inst.Symbol)
			}
		}
		if inst.StdDev < 0 {
			return &InputError{Code: CodeInvalidInput, Key: KeyStdDev, Message: "std dev of " + inst.Symbol + " cannot be negative"}
		}
		if inst.Capital < 0 {
			return invalidInput("capital of %s cannot be negative", inst.Symbol)
		}
	}

	for _, e := range r.Correlations {
		if !finite(e.Value) {
			return invalidInput("correlation %s/%s is not finite", e.Row, e.Col)
		}
	}
	return nil
}

type metadata map[string]string

func (m metadata) str(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", missingParameter(key)
	}
	return v, nil
}

func (m metadata) float(key string) (float64, error) {
	s, err := m.str(key)
	if err != nil {
		return 0, err
	}
	return parseFloat(key, s)
}

func (m metadata) floatOr(key string, def float64) (float64, error) {
	s, ok := m[key]
	if !ok {
		return def, nil
	}
	return parseFloat(key, s)
}

func parseFloat(key, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !finite(v) {
		return 0, parseError(key, s)
	}
	return v, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
