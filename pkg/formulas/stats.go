// Package formulas derives per-instrument statistics from price history.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualizes daily figures.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// CalculateReturns converts prices to simple returns
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// AnnualizedReturn scales the mean daily return to a year.
func AnnualizedReturn(dailyReturns []float64) float64 {
	return Mean(dailyReturns) * TradingDaysPerYear
}

// AnnualizedVolatility calculates annualized volatility from daily returns.
// Population standard deviation over the whole window × sqrt(252).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	n := len(dailyReturns)
	if n < 2 {
		return 0
	}

	// talib's StdDev is a rolling window; with the window spanning the whole
	// series the last value covers every return.
	sd := talib.StdDev(dailyReturns, n, 1.0)
	return sd[n-1] * math.Sqrt(TradingDaysPerYear)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		// flat series
		return 0
	}
	return c
}
