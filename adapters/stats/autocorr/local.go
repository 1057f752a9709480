package autocorr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/ports"
)

// localBlockSize is the number of observations one worker handles with a
// single scratch buffer
const localBlockSize = 64

// LocalEstimator computes Local Moran's I (LISA) for every observation
type LocalEstimator struct {
	rng  ports.RNGPort
	opts options
}

// NewLocalEstimator creates a LISA estimator drawing one RNG stream per observation
func NewLocalEstimator(rng ports.RNGPort, opts ...Option) *LocalEstimator {
	return &LocalEstimator{rng: rng, opts: newOptions(opts)}
}

// Estimate returns one LisaResult per observation, index-aligned with values.
// values are the transformed values the statistic is computed on; raw are the
// untransformed values used for pattern classification.
//
// Each observation is tested conditionally: y_i stays fixed while its
// neighbor slots are filled by a random draw from the other n-1 values. An
// observation without a single finite trial gets p=1 and z=0 instead of
// failing the run. Cancelling ctx marks the observations it cut short as
// Truncated; the run fails with ErrInsufficientPermutations when no
// observation attempted a single trial.
func (e *LocalEstimator) Estimate(ctx context.Context, raw, values []float64, w *spatial.WeightsMatrix, p spatial.PermutationParams) ([]spatial.LisaResult, error) {
	n := len(values)
	if n != w.Len() || len(raw) != n {
		return nil, core.NewValidationError("values", fmt.Sprintf("%d values and %d raw values for a %d×%d weights matrix", n, len(raw), w.Len(), w.Len()))
	}
	if n < spatial.MinObservations {
		return nil, core.NewValidationError("values", fmt.Sprintf("need at least %d values, got %d", spatial.MinObservations, n))
	}
	if p.Permutations < 1 {
		return nil, core.NewValidationError("permutations", "must be a positive integer")
	}
	if w.S0() == 0 {
		return nil, fmt.Errorf("local moran: %w", core.ErrNoNeighbors)
	}

	trials := min(p.Permutations/2, MaxLocalPermutations)
	y, _ := center(values)
	rawMean := stat.Mean(raw, nil)

	results := make([]spatial.LisaResult, n)
	attempted := make([]int, n)
	g := new(errgroup.Group)
	g.SetLimit(e.opts.workers)
	for start := 0; start < n; start += localBlockSize {
		end := min(start+localBlockSize, n)
		g.Go(func() error {
			pool := make([]float64, 0, n-1)
			for i := start; i < end; i++ {
				null, tried, err := e.permute(ctx, i, y, w, trials, p, pool)
				if err != nil {
					return err
				}
				attempted[i] = tried
				results[i] = e.summarize(i, y, raw, rawMean, w, null, p.SignificanceLevel)
				results[i].Truncated = tried < trials
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, a := range attempted {
		total += a
	}
	if trials > 0 && total == 0 {
		return nil, fmt.Errorf("local moran: %w", core.NewInsufficientPermutationsError(0, 0))
	}
	return results, nil
}

// permute draws the conditional null distribution of I_i and reports how
// many trials it attempted. A cancelled ctx ends the draw early; whatever was
// reached is returned.
func (e *LocalEstimator) permute(ctx context.Context, i int, y []float64, w *spatial.WeightsMatrix, trials int, p spatial.PermutationParams, pool []float64) ([]float64, int, error) {
	neighbors := w.Neighbors(i)
	if trials == 0 || ctx.Err() != nil {
		return nil, 0, nil
	}

	r, err := e.rng.Stream(ctx, p.RunID, "local", fmt.Sprintf("obs-%d", i), p.Seed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("local moran: rng stream for observation %d: %w", i, err)
	}

	pool = pool[:0]
	pool = append(pool, y[:i]...)
	pool = append(pool, y[i+1:]...)

	row := w.Row(i)
	null := make([]float64, 0, trials)
	tried := 0
	for ; tried < trials; tried++ {
		if ctx.Err() != nil {
			break
		}
		// partial Fisher-Yates: the first len(neighbors) slots become a
		// uniform draw without replacement from the other observations
		var lag float64
		for k, j := range neighbors {
			s := k + r.Intn(len(pool)-k)
			pool[k], pool[s] = pool[s], pool[k]
			lag += row[j] * pool[k]
		}
		if v := y[i] * lag; finite(v) {
			null = append(null, v)
		}
	}
	return null, tried, nil
}

func (e *LocalEstimator) summarize(i int, y, raw []float64, rawMean float64, w *spatial.WeightsMatrix, null []float64, alpha float64) spatial.LisaResult {
	observed := y[i] * w.Lag(i, y)

	lag := rawMean
	if w.RowSum(i) != 0 {
		lag = w.Lag(i, raw)
	}

	pValue, z := 1.0, 0.0
	if len(null) > 0 {
		mean, variance := nullMoments(null)
		z = zScore(observed, mean, variance)
		pValue = empiricalPValue(observed, 0, null)
	}

	return spatial.LisaResult{
		LocalI:            observed,
		ZScore:            z,
		PValue:            pValue,
		Pattern:           spatial.ClassifyPattern(pValue, raw[i], lag, rawMean, alpha),
		SpatialLag:        lag,
		ValidPermutations: len(null),
	}
}
