package optimization

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weightTol = 1e-6

func normalizedSample(t *testing.T, vix float64, mutate func(*Request)) *Params {
	t.Helper()
	req := SampleRequest(vix)
	if mutate != nil {
		mutate(&req)
	}
	params, warnings, err := req.Normalize()
	require.NoError(t, err)
	require.Empty(t, warnings)
	return params
}

// assertFeasible checks every constraint against the returned weights.
func assertFeasible(t *testing.T, params *Params, result *Result) {
	t.Helper()
	require.Equal(t, StatusOptimal, result.Status)
	require.Len(t, result.Recommendations, len(params.Instruments))
	require.NotNil(t, result.Metrics)

	c := params.Constraints
	sum := 0.0
	for _, rec := range result.Recommendations {
		sum += rec.TargetWeight
		assert.GreaterOrEqual(t, rec.TargetWeight, 0.0, "weight of %s should be non-negative", rec.Symbol)
		assert.LessOrEqual(t, rec.TargetWeight, c.MaxWeight+weightTol, "weight of %s should respect the cap", rec.Symbol)
	}
	assert.InDelta(t, 1.0, sum, weightTol, "weights should sum to 1")

	m := result.Metrics
	assert.LessOrEqual(t, m.Beta, c.TargetBeta+weightTol)
	assert.GreaterOrEqual(t, m.Yield, c.MinYield-weightTol)
	assert.LessOrEqual(t, m.PERatio, c.MaxPE+weightTol)
	assert.LessOrEqual(t, m.Volatility, c.MaxVolatility*(1+1e-6))
}

func TestOptimize_ReferenceScenario(t *testing.T) {
	// High-fear regime: beta 1.15, vol 0.18, P/E 18, $100,000 across 5 holdings
	params := normalizedSample(t, 28, nil)
	require.InDelta(t, 100000.0, params.State.StartCapital, 1e-9)

	result := Optimize(params)
	assertFeasible(t, params, result)

	weights := result.Weights()
	nonZero := 0
	for _, w := range weights {
		if w > weightTol {
			nonZero++
		}
	}
	assert.GreaterOrEqual(t, nonZero, 2, "solution should not collapse to a single holding")

	// P/E and both caps bind: 45t + 14u = 8.2 with t + u = 0.3
	assert.InDelta(t, 4.0/31.0, weights["Tech Growth"], weightTol)
	assert.InDelta(t, 0.35, weights["Blue Chip"], weightTol)
	assert.InDelta(t, 0.3-4.0/31.0, weights["Utility Co"], weightTol)
	assert.InDelta(t, 0.0, weights["Consumer Staple"], weightTol)
	assert.InDelta(t, 0.35, weights["Bank Stock"], weightTol)
	assert.InDelta(t, 18.0, result.Metrics.PERatio, 1e-6)
	assert.InDelta(t, 0.103484, result.Metrics.ExpectedReturn, 1e-5)
	assert.InDelta(t, 100000.0, result.Metrics.TotalToAllocate, 1e-9)
}

func TestOptimize_ReferenceScenarioActions(t *testing.T) {
	params := normalizedSample(t, 28, nil)
	result := Optimize(params)
	require.Equal(t, StatusOptimal, result.Status)

	actions := make(map[string]Recommendation)
	for _, rec := range result.Recommendations {
		actions[rec.Symbol] = rec
	}

	assert.Equal(t, ActionBuy, actions["Blue Chip"].Action)
	assert.InDelta(t, 15000.0, actions["Blue Chip"].Amount, 0.01)
	assert.Equal(t, ActionBuy, actions["Bank Stock"].Action)
	assert.Equal(t, ActionSell, actions["Consumer Staple"].Action)
	assert.InDelta(t, 20000.0, actions["Consumer Staple"].Amount, 0.01)
	assert.Equal(t, ActionSell, actions["Tech Growth"].Action)
	assert.Equal(t, ActionSell, actions["Utility Co"].Action)
	assert.Equal(t, "BUY $15,000", actions["Blue Chip"].Instruction())
}

func TestOptimize_BindingVolatility(t *testing.T) {
	for _, maxVol := range []float64{0.11, 0.09} {
		params := normalizedSample(t, 28, func(r *Request) { r.Constraints.MaxVolatility = Float64(maxVol) })

		result := Optimize(params)
		assertFeasible(t, params, result)
		// The cap is tighter than the unconstrained optimum (13.2%), so it binds
		assert.InDelta(t, maxVol, result.Metrics.Volatility, 1e-5)
		assert.Greater(t, result.Iterations, 1)
	}
}

func TestOptimize_ConservativeRegime(t *testing.T) {
	params := normalizedSample(t, 18, nil)
	assert.Equal(t, "CONSERVATIVE (HARVESTING PnL)", params.Context.RiskMode)

	result := Optimize(params)
	assertFeasible(t, params, result)
	assert.InDelta(t, 0.10, result.Metrics.Volatility, 1e-5)
}

func TestOptimize_VolatilityBelowMinimumIsInfeasible(t *testing.T) {
	params := normalizedSample(t, 28, func(r *Request) { r.Constraints.MaxVolatility = Float64(0.05) })

	result := Optimize(params)
	assert.Equal(t, StatusInfeasible, result.Status)
	assert.Empty(t, result.Recommendations)
	assert.Nil(t, result.Metrics)
	assert.NotEmpty(t, result.Detail)
}

func TestOptimize_LinearConstraintsInfeasible(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"caps cannot reach full investment", func(r *Request) { r.Constraints.MaxWeight = Float64(0.15) }},
		{"yield floor above every holding", func(r *Request) { r.Constraints.MinYield = Float64(0.06) }},
		{"beta ceiling below every holding", func(r *Request) { r.Constraints.TargetBeta = Float64(0.4) }},
		{"pe ceiling below every holding", func(r *Request) { r.Constraints.MaxPE = Float64(9) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params := normalizedSample(t, 28, tc.mutate)
			result := Optimize(params)
			assert.Equal(t, StatusInfeasible, result.Status)
			assert.Nil(t, result.Recommendations)
		})
	}
}

func TestOptimize_ObjectiveModes(t *testing.T) {
	t.Run("maximize yield", func(t *testing.T) {
		params := normalizedSample(t, 28, func(r *Request) { r.Constraints.Objective = MaximizeYield })
		result := Optimize(params)
		assertFeasible(t, params, result)

		weights := result.Weights()
		assert.InDelta(t, 0.35, weights["Bank Stock"], weightTol)
		assert.InDelta(t, 0.35, weights["Utility Co"], weightTol)
		assert.InDelta(t, 0.30, weights["Consumer Staple"], weightTol)
		assert.InDelta(t, 0.04375, result.Metrics.Yield, 1e-6)
	})

	t.Run("balanced beats pure yield on return", func(t *testing.T) {
		yieldParams := normalizedSample(t, 28, func(r *Request) { r.Constraints.Objective = MaximizeYield })
		balancedParams := normalizedSample(t, 28, func(r *Request) { r.Constraints.Objective = Balanced })

		yieldResult := Optimize(yieldParams)
		balancedResult := Optimize(balancedParams)
		assertFeasible(t, balancedParams, balancedResult)
		assert.Greater(t, balancedResult.Metrics.ExpectedReturn, yieldResult.Metrics.ExpectedReturn)
	})
}

func TestOptimize_Idempotent(t *testing.T) {
	params := normalizedSample(t, 28, func(r *Request) { r.Constraints.MaxVolatility = Float64(0.11) })

	first := Optimize(params)
	second := Optimize(params)

	require.Equal(t, first.Status, second.Status)
	for i := range first.Recommendations {
		assert.InDelta(t, first.Recommendations[i].TargetWeight, second.Recommendations[i].TargetWeight, 1e-9)
	}
}

func TestOptimize_ConcurrentCallsAgree(t *testing.T) {
	params := normalizedSample(t, 28, func(r *Request) { r.Constraints.MaxVolatility = Float64(0.11) })
	want := Optimize(params)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Optimize(params)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want.Status, got.Status)
		for j := range want.Recommendations {
			assert.InDelta(t, want.Recommendations[j].TargetWeight, got.Recommendations[j].TargetWeight, 1e-9)
		}
	}
}

func TestOptimize_NewCashIsAllocated(t *testing.T) {
	params := normalizedSample(t, 28, func(r *Request) { r.NewCash = 50000 })

	result := Optimize(params)
	assertFeasible(t, params, result)
	assert.InDelta(t, 150000.0, result.Metrics.TotalToAllocate, 1e-9)

	total := 0.0
	for _, rec := range result.Recommendations {
		total += rec.TargetValue
	}
	assert.InDelta(t, 150000.0, total, 1e-3)
}

func TestOptimize_SingleInstrument(t *testing.T) {
	var req Request
	req.Constraints.MaxWeight = Float64(1)
	req.Constraints.MinYield = Float64(0.01)
	req.Constraints.TargetBeta = Float64(2)
	req.Constraints.MaxPE = Float64(30)
	req.Constraints.MaxVolatility = Float64(0.3)
	req.Instruments = []Instrument{
		{Symbol: "ONLY", Beta: 1, DividendYield: 0.02, ExpectedReturn: 0.08, StdDev: 0.2, PERatio: 15, Capital: 1000},
	}

	params, _, err := req.Normalize()
	require.NoError(t, err)

	result := Optimize(params)
	require.Equal(t, StatusOptimal, result.Status)
	assert.InDelta(t, 1.0, result.Recommendations[0].TargetWeight, weightTol)
	assert.Equal(t, ActionHold, result.Recommendations[0].Action)
	assert.InDelta(t, 0.2, result.Metrics.Volatility, 1e-9)
}

func TestObjectiveVector(t *testing.T) {
	returns := []float64{0.1, 0.2}
	yields := []float64{0.03, 0.01}

	assert.Equal(t, returns, objectiveVector(MaximizeReturn, returns, yields))
	assert.Equal(t, yields, objectiveVector(MaximizeYield, returns, yields))

	balanced := objectiveVector(Balanced, returns, yields)
	assert.InDelta(t, 0.065, balanced[0], 1e-12)
	assert.InDelta(t, 0.105, balanced[1], 1e-12)

	// the solver must not alias caller slices
	v := objectiveVector(MaximizeReturn, returns, yields)
	v[0] = math.Inf(1)
	assert.Equal(t, 0.1, returns[0])
}
