package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CorrelationMatrix is a dense correlation matrix over a fixed symbol order.
type CorrelationMatrix struct {
	symbols []string
	index   map[string]int
	values  *mat.SymDense
}

// NewCorrelationMatrix builds the matrix for symbols from sparse entries.
// Each entry is applied to both (i,j) and (j,i); the diagonal is 1 unless an
// entry pairs a symbol with itself. Entries naming a symbol outside the set
// are skipped and reported as warnings.
func NewCorrelationMatrix(symbols []string, entries []CorrelationEntry) (*CorrelationMatrix, []Warning) {
	n := len(symbols)
	index := make(map[string]int, n)
	for i, s := range symbols {
		index[s] = i
	}

	values := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		values.SetSym(i, i, 1.0)
	}

	var warnings []Warning
	for _, e := range entries {
		i, okRow := index[e.Row]
		j, okCol := index[e.Col]
		if !okRow || !okCol {
			warnings = append(warnings, Warning{
				Code:    WarnUnknownCorrelationSymbol,
				Message: fmt.Sprintf("correlation %s/%s ignored: symbol not in portfolio", e.Row, e.Col),
			})
			continue
		}
		values.SetSym(i, j, e.Value)
	}

	return &CorrelationMatrix{symbols: symbols, index: index, values: values}, warnings
}

// at returns the correlation between two positions.
func (c *CorrelationMatrix) at(i, j int) float64 {
	return c.values.At(i, j)
}

// lookup returns the correlation between two symbols.
func (c *CorrelationMatrix) lookup(a, b string) (float64, bool) {
	i, okA := c.index[a]
	j, okB := c.index[b]
	if !okA || !okB {
		return 0, false
	}
	return c.values.At(i, j), true
}

// Size returns the number of symbols.
func (c *CorrelationMatrix) Size() int {
	return len(c.symbols)
}

// BuildCovariance computes Σ = D·C·D where D = diag(stdDevs). The product is
// taken as is: no shrinkage, no eigenvalue clipping.
func BuildCovariance(stdDevs []float64, corr *CorrelationMatrix) (*mat.SymDense, error) {
	n := len(stdDevs)
	if corr.Size() != n {
		return nil, fmt.Errorf("correlation matrix size %d doesn't match %d std devs", corr.Size(), n)
	}

	d := mat.NewDiagDense(n, append([]float64(nil), stdDevs...))

	var dc, dcd mat.Dense
	dc.Mul(d, corr.values)
	dcd.Mul(&dc, d)

	// D·C·D is symmetric whenever C is; copy the upper triangle so the
	// quadratic forms see an exactly symmetric matrix.
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, dcd.At(i, j))
		}
	}
	return cov, nil
}
