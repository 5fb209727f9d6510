package formulas

import (
	"fmt"
	"math"
	"sort"
)

// MinPrices is the shortest price series Estimate accepts.
const MinPrices = 3

// InstrumentStats are the annualized figures for one symbol.
type InstrumentStats struct {
	Symbol         string  `json:"symbol" msgpack:"symbol" yaml:"symbol"`
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return" yaml:"expected_return"`
	StdDev         float64 `json:"std_dev" msgpack:"std_dev" yaml:"std_dev"`
	Observations   int     `json:"observations" msgpack:"observations" yaml:"observations"`
}

// PairCorrelation is the return correlation of two symbols.
type PairCorrelation struct {
	Row   string  `json:"row" msgpack:"row" yaml:"row"`
	Col   string  `json:"col" msgpack:"col" yaml:"col"`
	Value float64 `json:"value" msgpack:"value" yaml:"value"`
}

// Estimates holds everything Estimate derives. Both slices are ordered by
// symbol.
type Estimates struct {
	Instruments  []InstrumentStats `json:"instruments" msgpack:"instruments" yaml:"instruments"`
	Correlations []PairCorrelation `json:"correlations" msgpack:"correlations" yaml:"correlations"`
}

// Estimate computes expected return, volatility and pairwise correlation from
// daily closing prices. Correlation of two series with different lengths uses
// their common trailing window.
func Estimate(prices map[string][]float64) (*Estimates, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price series")
	}

	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	returns := make(map[string][]float64, len(symbols))
	est := &Estimates{Instruments: make([]InstrumentStats, 0, len(symbols))}
	for _, s := range symbols {
		series := prices[s]
		if len(series) < MinPrices {
			return nil, fmt.Errorf("%s: need at least %d prices, got %d", s, MinPrices, len(series))
		}
		for i, p := range series {
			if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return nil, fmt.Errorf("%s: invalid price %v at %d", s, p, i)
			}
		}

		r := CalculateReturns(series)
		returns[s] = r
		est.Instruments = append(est.Instruments, InstrumentStats{
			Symbol:         s,
			ExpectedReturn: AnnualizedReturn(r),
			StdDev:         AnnualizedVolatility(r),
			Observations:   len(series),
		})
	}

	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			x, y := trailing(returns[symbols[i]], returns[symbols[j]])
			est.Correlations = append(est.Correlations, PairCorrelation{
				Row:   symbols[i],
				Col:   symbols[j],
				Value: Correlation(x, y),
			})
		}
	}

	return est, nil
}

func trailing(x, y []float64) ([]float64, []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	return x[len(x)-n:], y[len(y)-n:]
}
