package optimization

// HighFearVIX is the VIX level above which the sample scenario switches to the
// opportunistic regime.
const HighFearVIX = 25.0

// DefaultSampleVIX is the VIX level used when the caller does not pick one.
const DefaultSampleVIX = 28.0

// SampleRequest returns the five-holding reference portfolio, $20,000 in each
// position, with targets picked from the VIX level. In a high-fear market the
// limits loosen to buy the dip; otherwise they tighten to harvest gains.
func SampleRequest(vix float64) Request {
	req := Request{
		Context: MarketContext{VIX: vix},
		Constraints: ConstraintInput{
			MaxWeight: Float64(DefaultMaxWeight),
			MinYield:  Float64(DefaultMinYield),
			Objective: MaximizeReturn,
		},
		Instruments: []Instrument{
			{Symbol: "Tech Growth", Beta: 1.50, DividendYield: 0.005, ExpectedReturn: 0.18, StdDev: 0.28, PERatio: 45, Capital: 20000},
			{Symbol: "Blue Chip", Beta: 1.10, DividendYield: 0.025, ExpectedReturn: 0.11, StdDev: 0.18, PERatio: 18, Capital: 20000},
			{Symbol: "Utility Co", Beta: 0.55, DividendYield: 0.045, ExpectedReturn: 0.06, StdDev: 0.12, PERatio: 14, Capital: 20000},
			{Symbol: "Consumer Staple", Beta: 0.45, DividendYield: 0.035, ExpectedReturn: 0.07, StdDev: 0.10, PERatio: 21, Capital: 20000},
			{Symbol: "Bank Stock", Beta: 0.90, DividendYield: 0.050, ExpectedReturn: 0.09, StdDev: 0.15, PERatio: 10, Capital: 20000},
		},
		Correlations: sampleCorrelations(),
	}

	if vix > HighFearVIX {
		req.Context.RiskMode = "OPPORTUNISTIC (BUYING THE DIP)"
		req.Constraints.TargetBeta = Float64(1.15)
		req.Constraints.MaxVolatility = Float64(0.18)
		req.Constraints.MaxPE = Float64(18.0)
	} else {
		req.Context.RiskMode = "CONSERVATIVE (HARVESTING PnL)"
		req.Constraints.TargetBeta = Float64(0.90)
		req.Constraints.MaxVolatility = Float64(0.10)
		req.Constraints.MaxPE = Float64(22.0)
	}
	return req
}

func sampleCorrelations() []CorrelationEntry {
	symbols := []string{"Tech Growth", "Blue Chip", "Utility Co", "Consumer Staple", "Bank Stock"}
	upper := [][]float64{
		{0.7, 0.1, 0.2, 0.4},
		{0.2, 0.3, 0.5},
		{0.6, 0.1},
		{0.2},
	}

	var entries []CorrelationEntry
	for i, row := range upper {
		for k, v := range row {
			entries = append(entries, CorrelationEntry{Row: symbols[i], Col: symbols[i+1+k], Value: v})
		}
	}
	return entries
}
