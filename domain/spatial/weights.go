package spatial

import (
	"gonum.org/v1/gonum/mat"
)

// rowSumTolerance absorbs floating point error when checking standardized rows
const rowSumTolerance = 1e-9

// WeightsMatrix is a row-standardized n×n spatial weights matrix.
// Each row sums to 1 or to 0 (isolated observation) and the diagonal is 0.
// It is built once and only read afterwards, so it is safe for concurrent use.
type WeightsMatrix struct {
	dense      *mat.Dense
	definition NeighborParams
	fallback   bool
	s0         float64
	rowSums    []float64
}

// NewWeightsMatrix wraps an already standardized matrix. The caller hands over
// ownership of dense and must not modify it afterwards.
func NewWeightsMatrix(dense *mat.Dense, params NeighborParams, fallback bool) *WeightsMatrix {
	n, _ := dense.Dims()
	w := &WeightsMatrix{
		dense:      dense,
		definition: params,
		fallback:   fallback,
		rowSums:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s := mat.Sum(dense.RowView(i))
		w.rowSums[i] = s
		w.s0 += s
	}
	return w
}

// Len returns the number of observations n
func (w *WeightsMatrix) Len() int { return len(w.rowSums) }

// At returns W[i][j]
func (w *WeightsMatrix) At(i, j int) float64 { return w.dense.At(i, j) }

// Row returns row i without copying. Callers must treat it as read-only.
func (w *WeightsMatrix) Row(i int) []float64 { return w.dense.RawRowView(i) }

// RowSum returns the sum of row i (1 or 0 after standardization)
func (w *WeightsMatrix) RowSum(i int) float64 { return w.rowSums[i] }

// S0 returns the sum of all weights
func (w *WeightsMatrix) S0() float64 { return w.s0 }

// Definition returns the neighbor parameters the matrix was built from.
// After a Queen fallback this still reports Queen; see FallbackUsed.
func (w *WeightsMatrix) Definition() NeighborParams { return w.definition }

// FallbackUsed reports whether Queen adjacency fell back to k-nearest neighbors
func (w *WeightsMatrix) FallbackUsed() bool { return w.fallback }

// Neighbors returns the column indices with non-zero weight in row i
func (w *WeightsMatrix) Neighbors(i int) []int {
	var idx []int
	for j, v := range w.Row(i) {
		if v != 0 {
			idx = append(idx, j)
		}
	}
	return idx
}

// Isolated returns the indices of observations without neighbors
func (w *WeightsMatrix) Isolated() []int {
	var idx []int
	for i, s := range w.rowSums {
		if s == 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// Lag returns Σ_j W[i][j]·values[j]
func (w *WeightsMatrix) Lag(i int, values []float64) float64 {
	var lag float64
	for j, v := range w.Row(i) {
		if v != 0 {
			lag += v * values[j]
		}
	}
	return lag
}

// IsStandardized reports whether every row sums to 0 or 1 and the diagonal is 0
func (w *WeightsMatrix) IsStandardized() bool {
	for i, s := range w.rowSums {
		if w.dense.At(i, i) != 0 {
			return false
		}
		if s != 0 && (s < 1-rowSumTolerance || s > 1+rowSumTolerance) {
			return false
		}
	}
	return true
}

// Summary describes the matrix for reports and API responses
func (w *WeightsMatrix) Summary() WeightsSummary {
	n := w.Len()
	links := 0
	for i := 0; i < n; i++ {
		links += len(w.Neighbors(i))
	}
	mean := 0.0
	if n > 0 {
		mean = float64(links) / float64(n)
	}
	return WeightsSummary{
		Definition:      w.definition,
		FallbackUsed:    w.fallback,
		Observations:    n,
		Links:           links,
		MeanNeighbors:   mean,
		IsolatedIndices: w.Isolated(),
		SumOfWeights:    w.s0,
	}
}

// WeightsSummary is the serializable description of a weights matrix
type WeightsSummary struct {
	Definition      NeighborParams `json:"definition"`
	FallbackUsed    bool           `json:"fallback_used"`
	Observations    int            `json:"observations"`
	Links           int            `json:"links"`
	MeanNeighbors   float64        `json:"mean_neighbors"`
	IsolatedIndices []int          `json:"isolated_indices,omitempty"`
	SumOfWeights    float64        `json:"sum_of_weights"`
}
