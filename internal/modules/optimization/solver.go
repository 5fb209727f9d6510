package optimization

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Solver settings.
const (
	maxCutIterations = 200
	varianceRelTol   = 1e-7
	varianceAbsTol   = 1e-12
	simplexTol       = 1e-10
	weightFloor      = 1e-9
)

// problem is the convex program
//
//	maximize   objᵀw
//	subject to Σw = 1, 0 ≤ w ≤ maxWeight,
//	           βᵀw ≤ targetBeta, yᵀw ≥ minYield, peᵀw ≤ maxPE,
//	           wᵀΣw ≤ maxVol².
type problem struct {
	n          int
	objective  []float64
	returns    []float64 // expected returns, for metrics
	betas      []float64
	yields     []float64
	peRatios   []float64
	cov        *mat.SymDense
	maxWeight  float64
	targetBeta float64
	minYield   float64
	maxPE      float64
	maxVol     float64
}

// cut is a linear inequality coefᵀw ≤ rhs.
type cut struct {
	coef []float64
	rhs  float64
}

type solution struct {
	status     Status
	weights    []float64
	iterations int
	detail     string
}

// solve starts from the LP over the linear constraints alone. That LP is a
// relaxation: when it is infeasible so is the program, and when its optimum
// lies inside the risk ellipsoid it is the global optimum. Otherwise the risk
// constraint binds and the interior point method takes over, with outer
// approximation as the fallback for feasible sets without an interior.
func (p *problem) solve() solution {
	w, err := p.solveRelaxation(nil)
	if errors.Is(err, lp.ErrInfeasible) {
		return solution{status: StatusInfeasible, iterations: 1, detail: infeasibleDetail}
	}
	if err != nil {
		return solution{status: StatusSolverError, iterations: 1, detail: err.Error()}
	}
	if _, ok := p.withinRisk(w); ok {
		return solution{status: StatusOptimal, weights: w, iterations: 1}
	}

	if p.maxVol > 0 {
		b := newBarrier(p)
		weights, status := b.solve()
		switch status {
		case barrierOptimal:
			return solution{status: StatusOptimal, weights: clampWeights(weights), iterations: 1 + b.steps}
		case barrierInfeasible:
			return solution{status: StatusInfeasible, iterations: 1 + b.steps, detail: infeasibleDetail}
		}
	}
	return p.solveCuts()
}

const infeasibleDetail = "constraints are too restrictive for these assets"

// withinRisk reports the variance of w and whether it meets the risk cap.
func (p *problem) withinRisk(w []float64) (float64, bool) {
	wv := mat.NewVecDense(p.n, w)
	variance := mat.Inner(wv, p.cov, wv)
	return variance, variance <= p.maxVol*p.maxVol*(1+varianceRelTol)+varianceAbsTol
}

// solveCuts handles the quadratic risk constraint by outer approximation.
// Each round solves the LP over the linear constraints plus the cuts found so
// far. A solution w̄ outside the risk ellipsoid adds the cut
//
//	(Σw̄)ᵀw ≤ maxVol·√(w̄ᵀΣw̄)
//
// which supports the ellipsoid at the boundary point on the ray through w̄, so
// no feasible portfolio is ever cut off.
func (p *problem) solveCuts() solution {
	var cuts []cut

	for iter := 1; iter <= maxCutIterations; iter++ {
		w, err := p.solveRelaxation(cuts)
		if errors.Is(err, lp.ErrInfeasible) {
			return solution{status: StatusInfeasible, iterations: iter, detail: infeasibleDetail}
		}
		if err != nil {
			return solution{status: StatusSolverError, iterations: iter, detail: err.Error()}
		}

		variance, ok := p.withinRisk(w)
		if ok {
			return solution{status: StatusOptimal, weights: w, iterations: iter}
		}

		var grad mat.VecDense
		grad.MulVec(p.cov, mat.NewVecDense(p.n, w))
		cuts = append(cuts, cut{
			coef: append([]float64(nil), grad.RawVector().Data...),
			rhs:  p.maxVol * math.Sqrt(variance),
		})
	}

	return solution{
		status:     StatusSolverError,
		iterations: maxCutIterations,
		detail:     fmt.Sprintf("risk constraint did not converge after %d cuts", maxCutIterations),
	}
}

// clampWeights zeroes weights the interior point method leaves at round-off
// level and restores the budget.
func clampWeights(w []float64) []float64 {
	for i, x := range w {
		if x < weightFloor {
			w[i] = 0
		}
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// solveRelaxation builds the LP in the standard form lp.Simplex expects,
//
//	minimize cᵀx s.t. Ax = b, x ≥ 0,
//
// with x = [w, s]: one slack per inequality row. Rows with a negative right
// hand side are negated so b ≥ 0.
func (p *problem) solveRelaxation(cuts []cut) ([]float64, error) {
	n := p.n

	ineq := make([]cut, 0, n+3+len(cuts))
	for i := 0; i < n; i++ {
		coef := make([]float64, n)
		coef[i] = 1
		ineq = append(ineq, cut{coef: coef, rhs: p.maxWeight})
	}
	ineq = append(ineq,
		cut{coef: p.betas, rhs: p.targetBeta},
		cut{coef: negate(p.yields), rhs: -p.minYield},
		cut{coef: p.peRatios, rhs: p.maxPE},
	)
	ineq = append(ineq, cuts...)

	m := len(ineq)
	rows, cols := m+1, n+m
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)

	for j := 0; j < n; j++ {
		a.Set(0, j, 1)
	}
	b[0] = 1

	for k, in := range ineq {
		row := k + 1
		sign := 1.0
		if in.rhs < 0 {
			sign = -1
		}
		for j := 0; j < n; j++ {
			a.Set(row, j, sign*in.coef[j])
		}
		a.Set(row, n+k, sign)
		b[row] = sign * in.rhs
	}

	c := make([]float64, cols)
	for j := 0; j < n; j++ {
		c[j] = -p.objective[j]
	}

	_, x, err := lp.Simplex(c, a, b, simplexTol, nil)
	if err != nil {
		return nil, err
	}

	w := make([]float64, n)
	for j := 0; j < n; j++ {
		w[j] = math.Max(0, x[j])
	}
	return w, nil
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
