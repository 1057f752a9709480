// Package autocorr estimates spatial autocorrelation: Global Moran's I and
// Local Indicators of Spatial Association, both with permutation inference.
package autocorr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/ports"
)

// GlobalEstimator computes Global Moran's I
type GlobalEstimator struct {
	rng  ports.RNGPort
	opts options
}

// NewGlobalEstimator creates a Global Moran's I estimator drawing its
// permutation streams from rng
func NewGlobalEstimator(rng ports.RNGPort, opts ...Option) *GlobalEstimator {
	return &GlobalEstimator{rng: rng, opts: newOptions(opts)}
}

// Estimate computes I for values under w and its permutation null.
// Cancelling ctx abandons the remaining trials; the result then reports the
// number of valid trials reached and Truncated.
func (e *GlobalEstimator) Estimate(ctx context.Context, values []float64, w *spatial.WeightsMatrix, p spatial.PermutationParams) (*spatial.MoranResult, error) {
	n := len(values)
	if n != w.Len() {
		return nil, core.NewValidationError("values", fmt.Sprintf("%d values for a %d×%d weights matrix", n, w.Len(), w.Len()))
	}
	if n < spatial.MinObservations {
		return nil, core.NewValidationError("values", fmt.Sprintf("need at least %d values, got %d", spatial.MinObservations, n))
	}
	if p.Permutations < 1 {
		return nil, core.NewValidationError("permutations", "must be a positive integer")
	}
	s0 := w.S0()
	if s0 == 0 {
		return nil, fmt.Errorf("global moran: %w", core.ErrNoNeighbors)
	}

	expected := -1 / float64(n-1)
	requested := min(p.Permutations, MaxGlobalPermutations)

	y, degenerate := center(values)
	if degenerate {
		// Σy² = 0: every permutation reproduces the same vector, so I is
		// reported as 0 with a flat null rather than dividing by zero.
		return &spatial.MoranResult{
			I:                     0,
			ExpectedI:             expected,
			PValue:                1,
			NormalPValue:          1,
			ValidPermutations:     requested,
			RequestedPermutations: requested,
			SignificanceLevel:     p.SignificanceLevel,
			Interpretation:        spatial.InterpretationRandom,
		}, nil
	}

	var denom float64
	for _, v := range y {
		denom += v * v
	}
	scale := float64(n) / s0
	moran := func(v []float64) float64 {
		return scale * crossProduct(w, v) / denom
	}
	observed := moran(y)

	null, attempted, err := e.permute(ctx, y, requested, p, moran)
	if err != nil {
		return nil, err
	}
	if len(null) == 0 || float64(len(null)) < minValidShare*float64(attempted) {
		return nil, fmt.Errorf("global moran: %w", core.NewInsufficientPermutationsError(len(null), attempted))
	}

	_, variance := nullMoments(null)
	z := zScore(observed, expected, variance)
	pValue := empiricalPValue(observed, expected, null)

	return &spatial.MoranResult{
		I:                     observed,
		ExpectedI:             expected,
		VarianceI:             variance,
		ZScore:                z,
		PValue:                pValue,
		NormalPValue:          normalPValue(z),
		ValidPermutations:     len(null),
		RequestedPermutations: requested,
		SignificanceLevel:     p.SignificanceLevel,
		Truncated:             attempted < requested,
		Interpretation:        spatial.Interpret(observed, expected, pValue, p.SignificanceLevel),
	}, nil
}

// permute runs the trials in fixed-size chunks on a bounded worker pool and
// returns the finite statistics plus the number of trials actually attempted
func (e *GlobalEstimator) permute(ctx context.Context, y []float64, trials int, p spatial.PermutationParams, statistic func([]float64) float64) ([]float64, int, error) {
	chunks := (trials + globalChunkSize - 1) / globalChunkSize
	results := make([][]float64, chunks)
	attempted := make([]int, chunks)

	g := new(errgroup.Group)
	g.SetLimit(e.opts.workers)
	for c := 0; c < chunks; c++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, err := e.rng.Stream(ctx, p.RunID, "global", fmt.Sprintf("chunk-%d", c), p.Seed)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("global moran: rng stream: %w", err)
			}

			size := min(globalChunkSize, trials-c*globalChunkSize)
			perm := append([]float64(nil), y...)
			out := make([]float64, 0, size)
			for t := 0; t < size; t++ {
				if ctx.Err() != nil {
					break
				}
				r.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
				attempted[c]++
				if v := statistic(perm); finite(v) {
					out = append(out, v)
				}
			}
			results[c] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var null []float64
	total := 0
	for c := range results {
		null = append(null, results[c]...)
		total += attempted[c]
	}
	return null, total, nil
}

// crossProduct returns Σ_i Σ_j W[i][j]·v_i·v_j
func crossProduct(w *spatial.WeightsMatrix, v []float64) float64 {
	var sum float64
	for i, vi := range v {
		if vi == 0 || w.RowSum(i) == 0 {
			continue
		}
		sum += vi * w.Lag(i, v)
	}
	return sum
}
