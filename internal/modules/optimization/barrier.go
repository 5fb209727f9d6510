package optimization

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Interior point settings.
const (
	barrierGap      = 1e-9  // duality gap at which phase two stops
	barrierGrowth   = 20.0  // barrier weight multiplier between centerings
	phaseOneGrowth  = 10.0
	phaseOneGap     = 1e-10 // below this a zero phase one optimum means no interior
	maxNewtonSteps  = 100
	newtonTol       = 1e-12 // half the squared Newton decrement
	armijoFraction  = 0.25
	minStepFraction = 1e-14
)

type barrierStatus int

const (
	barrierOptimal barrierStatus = iota
	barrierInfeasible
	barrierNoInterior // feasible set, if any, has an empty interior
	barrierFailed     // singular Newton system
)

// barrierFunc evaluates a centering objective at x. ok is false outside the
// domain of the barrier. grad and hess are only computed when derivs is set.
type barrierFunc func(x []float64, t float64, derivs bool) (val float64, grad []float64, hess *mat.SymDense, ok bool)

// barrier solves the risk-constrained program with a log-barrier interior
// point method. Linear inequalities are kept as aᵀw ≤ b with unit-norm a, and
// the risk constraint as wᵀΣw/maxVol² - 1 ≤ 0. Every Newton step preserves
// Σw = 1.
type barrier struct {
	n           int
	rows        []cut
	cov         *mat.SymDense
	maxVariance float64
	objective   []float64
	steps       int
}

func newBarrier(p *problem) *barrier {
	b := &barrier{
		n:           p.n,
		cov:         p.cov,
		maxVariance: p.maxVol * p.maxVol,
		objective:   p.objective,
	}

	add := func(coef []float64, rhs float64) {
		norm := floats.Norm(coef, 2)
		if norm == 0 {
			// 0 ≤ rhs holds here, the linear program already ruled out the rest
			return
		}
		b.rows = append(b.rows, cut{coef: scaled(coef, 1/norm), rhs: rhs / norm})
	}
	for i := 0; i < p.n; i++ {
		lower := make([]float64, p.n)
		lower[i] = -1
		add(lower, 0)
		upper := make([]float64, p.n)
		upper[i] = 1
		add(upper, p.maxWeight)
	}
	add(p.betas, p.targetBeta)
	add(negate(p.yields), -p.minYield)
	add(p.peRatios, p.maxPE)

	return b
}

// solve runs phase one from the equal-weight portfolio and, once a strictly
// feasible point is found, phase two toward the optimum.
func (b *barrier) solve() ([]float64, barrierStatus) {
	w, status := b.phaseOne()
	if status != barrierOptimal {
		return nil, status
	}
	return b.phaseTwo(w)
}

// constraints is the number of barrier terms, the risk constraint included.
func (b *barrier) constraints() float64 {
	return float64(len(b.rows) + 1)
}

// risk returns wᵀΣw/maxVol² - 1 and Σw.
func (b *barrier) risk(w []float64) (float64, *mat.VecDense) {
	wv := mat.NewVecDense(b.n, w)
	var sw mat.VecDense
	sw.MulVec(b.cov, wv)
	return mat.Dot(wv, &sw)/b.maxVariance - 1, &sw
}

// phaseOne minimizes s subject to fᵢ(w) ≤ s for every constraint. A negative
// s gives a strictly feasible start, a positive lower bound proves the program
// infeasible.
func (b *barrier) phaseOne() ([]float64, barrierStatus) {
	n := b.n
	x := make([]float64, n+1)
	for i := 0; i < n; i++ {
		x[i] = 1 / float64(n)
	}
	worst, _ := b.risk(x[:n])
	for _, r := range b.rows {
		worst = math.Max(worst, floats.Dot(r.coef, x[:n])-r.rhs)
	}
	x[n] = worst + 1

	m := b.constraints()
	for t := 1.0; ; t *= phaseOneGrowth {
		var ok bool
		if x, ok = b.center(x, t, b.phaseOneFunc); !ok {
			return nil, barrierFailed
		}

		s := x[n]
		switch {
		case s-m/t > phaseOneGap:
			return nil, barrierInfeasible
		case s < 0:
			return x[:n], barrierOptimal
		case m/t < phaseOneGap:
			return nil, barrierNoInterior
		}
	}
}

func (b *barrier) phaseOneFunc(x []float64, t float64, derivs bool) (float64, []float64, *mat.SymDense, bool) {
	n := b.n
	w, s := x[:n], x[n]

	fr, sw := b.risk(w)
	dr := s - fr
	if dr <= 0 {
		return 0, nil, nil, false
	}
	val := t*s - math.Log(dr)

	slacks := make([]float64, len(b.rows))
	for i, r := range b.rows {
		d := s - (floats.Dot(r.coef, w) - r.rhs)
		if d <= 0 {
			return 0, nil, nil, false
		}
		slacks[i] = d
		val -= math.Log(d)
	}
	if !derivs {
		return val, nil, nil, true
	}

	grad := make([]float64, n+1)
	hess := mat.NewSymDense(n+1, nil)
	v := make([]float64, n+1)
	for i, r := range b.rows {
		copy(v, r.coef)
		v[n] = -1
		floats.AddScaled(grad, 1/slacks[i], v)
		hess.SymRankOne(hess, 1/(slacks[i]*slacks[i]), mat.NewVecDense(n+1, v))
	}

	riskGrad := scaled(sw.RawVector().Data, 2/b.maxVariance)
	copy(v, riskGrad)
	v[n] = -1
	floats.AddScaled(grad, 1/dr, v)
	hess.SymRankOne(hess, 1/(dr*dr), mat.NewVecDense(n+1, v))
	b.addCovariance(hess, 2/(b.maxVariance*dr))

	grad[n] += t
	return val, grad, hess, true
}

// phaseTwo follows the central path of max objᵀw from a strictly feasible w
// until the duality gap drops below barrierGap.
func (b *barrier) phaseTwo(w []float64) ([]float64, barrierStatus) {
	m := b.constraints()
	for t := 1.0; ; t *= barrierGrowth {
		var ok bool
		if w, ok = b.center(w, t, b.phaseTwoFunc); !ok {
			return nil, barrierFailed
		}
		if m/t < barrierGap {
			return w, barrierOptimal
		}
	}
}

func (b *barrier) phaseTwoFunc(w []float64, t float64, derivs bool) (float64, []float64, *mat.SymDense, bool) {
	n := b.n

	fr, sw := b.risk(w)
	dr := -fr
	if dr <= 0 {
		return 0, nil, nil, false
	}
	val := -t*floats.Dot(b.objective, w) - math.Log(dr)

	slacks := make([]float64, len(b.rows))
	for i, r := range b.rows {
		d := r.rhs - floats.Dot(r.coef, w)
		if d <= 0 {
			return 0, nil, nil, false
		}
		slacks[i] = d
		val -= math.Log(d)
	}
	if !derivs {
		return val, nil, nil, true
	}

	grad := scaled(b.objective, -t)
	hess := mat.NewSymDense(n, nil)
	for i, r := range b.rows {
		floats.AddScaled(grad, 1/slacks[i], r.coef)
		hess.SymRankOne(hess, 1/(slacks[i]*slacks[i]), mat.NewVecDense(n, r.coef))
	}

	riskGrad := scaled(sw.RawVector().Data, 2/b.maxVariance)
	floats.AddScaled(grad, 1/dr, riskGrad)
	hess.SymRankOne(hess, 1/(dr*dr), mat.NewVecDense(n, riskGrad))
	b.addCovariance(hess, 2/(b.maxVariance*dr))

	return val, grad, hess, true
}

// addCovariance adds alpha·Σ to the weight block of hess.
func (b *barrier) addCovariance(hess *mat.SymDense, alpha float64) {
	for i := 0; i < b.n; i++ {
		for j := i; j < b.n; j++ {
			hess.SetSym(i, j, hess.At(i, j)+alpha*b.cov.At(i, j))
		}
	}
}

// center minimizes f(·, t) by equality-constrained Newton steps with a
// backtracking line search. The first b.n entries of x sum to one and every
// step keeps it that way.
func (b *barrier) center(x []float64, t float64, f barrierFunc) ([]float64, bool) {
	size := len(x)
	kkt := mat.NewDense(size+1, size+1, nil)
	rhs := mat.NewVecDense(size+1, nil)
	var step mat.VecDense

	for k := 0; k < maxNewtonSteps; k++ {
		val, grad, hess, ok := f(x, t, true)
		if !ok {
			return nil, false
		}
		b.steps++

		// [H Aᵀ; A 0][Δx; ν] = [-∇f; 0] with A the budget row
		kkt.Zero()
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				kkt.Set(i, j, hess.At(i, j))
			}
			rhs.SetVec(i, -grad[i])
		}
		for i := 0; i < b.n; i++ {
			kkt.Set(i, size, 1)
			kkt.Set(size, i, 1)
		}
		rhs.SetVec(size, 0)

		if err := step.SolveVec(kkt, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				return nil, false
			}
		}
		dx := make([]float64, size)
		for i := range dx {
			dx[i] = step.AtVec(i)
		}
		if floats.HasNaN(dx) {
			return nil, false
		}

		decrement := -floats.Dot(grad, dx)
		if decrement/2 <= newtonTol {
			return x, true
		}

		next := make([]float64, size)
		for alpha := 1.0; ; alpha /= 2 {
			if alpha < minStepFraction {
				return x, true
			}
			floats.AddScaledTo(next, x, alpha, dx)
			if v, _, _, ok := f(next, t, false); ok && v <= val-armijoFraction*alpha*decrement {
				break
			}
		}
		x = next
	}
	return x, true
}

func scaled(v []float64, alpha float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, alpha, v)
	return out
}
