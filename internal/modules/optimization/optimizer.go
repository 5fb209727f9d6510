package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Optimize solves for target weights and derives the rebalancing report.
// Params must come from ParsePortfolio or Request.Normalize. Optimize keeps no
// state and is safe to call concurrently.
//
// Infeasibility and numerical failure are reported in Result.Status; no
// recommendations are produced for them.
func Optimize(params *Params) *Result {
	prob, err := newProblem(params)
	if err != nil {
		return &Result{Status: StatusSolverError, Detail: err.Error()}
	}

	sol := prob.solve()
	result := &Result{Status: sol.status, Iterations: sol.iterations, Detail: sol.detail}
	if sol.status != StatusOptimal {
		return result
	}

	w := sol.weights
	wv := mat.NewVecDense(prob.n, w)
	total := params.State.TotalToAllocate()
	result.Metrics = &PortfolioMetrics{
		ExpectedReturn:  floats.Dot(w, prob.returns),
		Volatility:      math.Sqrt(math.Max(0, mat.Inner(wv, prob.cov, wv))),
		Beta:            floats.Dot(w, prob.betas),
		PERatio:         floats.Dot(w, prob.peRatios),
		Yield:           floats.Dot(w, prob.yields),
		TotalToAllocate: total,
	}
	result.Recommendations = rebalance(params, w, total)
	return result
}

func newProblem(params *Params) (*problem, error) {
	n := len(params.Instruments)
	betas := make([]float64, n)
	yields := make([]float64, n)
	returns := make([]float64, n)
	stdDevs := make([]float64, n)
	peRatios := make([]float64, n)
	for i, inst := range params.Instruments {
		betas[i] = inst.Beta
		yields[i] = inst.DividendYield
		returns[i] = inst.ExpectedReturn
		stdDevs[i] = inst.StdDev
		peRatios[i] = inst.PERatio
	}

	cov, err := BuildCovariance(stdDevs, params.Correlation)
	if err != nil {
		return nil, err
	}

	c := params.Constraints
	return &problem{
		n:          n,
		objective:  objectiveVector(c.Objective, returns, yields),
		returns:    returns,
		betas:      betas,
		yields:     yields,
		peRatios:   peRatios,
		cov:        cov,
		maxWeight:  c.MaxWeight,
		targetBeta: c.TargetBeta,
		minYield:   c.MinYield,
		maxPE:      c.MaxPE,
		maxVol:     c.MaxVolatility,
	}, nil
}

// objectiveVector resolves the objective mode to the coefficients the solver
// maximizes.
func objectiveVector(mode ObjectiveMode, returns, yields []float64) []float64 {
	switch mode {
	case MaximizeYield:
		return append([]float64(nil), yields...)
	case Balanced:
		obj := make([]float64, len(returns))
		for i := range obj {
			obj[i] = 0.5*returns[i] + 0.5*yields[i]
		}
		return obj
	default:
		return append([]float64(nil), returns...)
	}
}
