package autocorr

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	rngadapter "spatialstat/adapters/rng"
	"spatialstat/adapters/weights"
	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
)

func grid(rows, cols int) []orb.Point {
	pts := make([]orb.Point, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, orb.Point{float64(c), float64(r)})
		}
	}
	return pts
}

func checkerboard(rows, cols int) []float64 {
	v := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v = append(v, float64((r+c)%2))
		}
	}
	return v
}

func gradient(rows, cols int) []float64 {
	v := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v = append(v, float64(r+c))
		}
	}
	return v
}

func buildWeights(t *testing.T, coords []orb.Point, params spatial.NeighborParams) *spatial.WeightsMatrix {
	t.Helper()
	w, err := weights.NewBuilder().Build(context.Background(), coords, params)
	require.NoError(t, err)
	return w
}

func params(perms int) spatial.PermutationParams {
	return spatial.PermutationParams{Permutations: perms, SignificanceLevel: 0.05, Seed: 42, RunID: "test-run"}
}

// cancellingRNG cancels the run once a given number of streams has been handed out
type cancellingRNG struct {
	*rngadapter.Adapter
	mu     sync.Mutex
	calls  int
	after  int
	cancel context.CancelFunc
}

func (c *cancellingRNG) Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	c.mu.Lock()
	c.calls++
	if c.calls > c.after {
		c.cancel()
	}
	c.mu.Unlock()
	return c.Adapter.Stream(ctx, runID, stageName, key, baseSeed)
}

func TestGlobalMoran(t *testing.T) {
	rook := spatial.NeighborParams{Definition: spatial.NeighborRook}
	w := buildWeights(t, grid(8, 8), rook)
	est := NewGlobalEstimator(rngadapter.NewAdapter())

	tests := []struct {
		name    string
		values  []float64
		assertI func(t *testing.T, r *spatial.MoranResult)
		want    spatial.Interpretation
	}{
		{
			name:   "checkerboard is perfectly dispersed",
			values: checkerboard(8, 8),
			assertI: func(t *testing.T, r *spatial.MoranResult) {
				assert.InDelta(t, -1.0, r.I, 1e-9)
			},
			want: spatial.InterpretationNegative,
		},
		{
			name:   "gradient is clustered",
			values: gradient(8, 8),
			assertI: func(t *testing.T, r *spatial.MoranResult) {
				assert.Greater(t, r.I, 0.5)
			},
			want: spatial.InterpretationPositive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := est.Estimate(context.Background(), tt.values, w, params(999))
			require.NoError(t, err)

			tt.assertI(t, r)
			assert.InDelta(t, -1.0/63, r.ExpectedI, 1e-12)
			assert.Equal(t, MaxGlobalPermutations, r.RequestedPermutations)
			assert.Equal(t, MaxGlobalPermutations, r.ValidPermutations)
			assert.False(t, r.Truncated)
			assert.Less(t, r.PValue, 0.05)
			assert.GreaterOrEqual(t, r.PValue, 0.0)
			assert.Greater(t, r.VarianceI, 0.0)
			assert.Greater(t, math.Abs(r.ZScore), 2.0)
			assert.Less(t, r.NormalPValue, 0.05)
			assert.Equal(t, tt.want, r.Interpretation)
		})
	}
}

func TestGlobalMoranIdenticalValues(t *testing.T) {
	coords := []orb.Point{{0, 0}, {3, 1}, {1, 4}, {5, 5}}
	for _, def := range []spatial.NeighborParams{
		{Definition: spatial.NeighborQueen},
		{Definition: spatial.NeighborRook},
		{Definition: spatial.NeighborKNearest, K: 2},
		{Definition: spatial.NeighborFixedRadius, Radius: 10},
	} {
		t.Run(string(def.Definition), func(t *testing.T) {
			w := buildWeights(t, coords, def)
			r, err := NewGlobalEstimator(rngadapter.NewAdapter()).Estimate(context.Background(), []float64{5, 5, 5, 5}, w, params(99))
			require.NoError(t, err)

			assert.Zero(t, r.I)
			assert.Zero(t, r.ZScore)
			assert.Equal(t, 1.0, r.PValue)
			assert.InDelta(t, -1.0/3, r.ExpectedI, 1e-12)
			assert.Equal(t, spatial.InterpretationRandom, r.Interpretation)
		})
	}
}

func TestGlobalMoranErrors(t *testing.T) {
	empty := spatial.NewWeightsMatrix(mat.NewDense(3, 3, nil), spatial.NeighborParams{Definition: spatial.NeighborFixedRadius, Radius: 1}, false)
	w := buildWeights(t, grid(2, 2), spatial.NeighborParams{Definition: spatial.NeighborRook})
	est := NewGlobalEstimator(rngadapter.NewAdapter())

	_, err := est.Estimate(context.Background(), []float64{1, 2, 3}, empty, params(99))
	assert.ErrorIs(t, err, core.ErrNoNeighbors)

	_, err = est.Estimate(context.Background(), []float64{1, 2, 3}, w, params(99))
	assert.True(t, core.IsValidationError(err))

	_, err = est.Estimate(context.Background(), []float64{1, 2, 3, 4}, w, params(0))
	assert.True(t, core.IsValidationError(err))
}

func TestGlobalMoranDeterministic(t *testing.T) {
	w := buildWeights(t, grid(6, 6), spatial.NeighborParams{Definition: spatial.NeighborKNearest, K: 4})
	values := gradient(6, 6)
	values[7], values[20] = values[20], values[7]

	a, err := NewGlobalEstimator(rngadapter.NewAdapter(), WithWorkers(1)).Estimate(context.Background(), values, w, params(199))
	require.NoError(t, err)
	b, err := NewGlobalEstimator(rngadapter.NewAdapter(), WithWorkers(8)).Estimate(context.Background(), values, w, params(199))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGlobalMoranCancellation(t *testing.T) {
	w := buildWeights(t, grid(5, 5), spatial.NeighborParams{Definition: spatial.NeighborRook})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rng := &cancellingRNG{Adapter: rngadapter.NewAdapter(), after: 2, cancel: cancel}
	r, err := NewGlobalEstimator(rng, WithWorkers(1)).Estimate(ctx, gradient(5, 5), w, params(199))
	require.NoError(t, err)

	assert.True(t, r.Truncated)
	assert.Equal(t, 2*globalChunkSize, r.ValidPermutations)
	assert.Equal(t, MaxGlobalPermutations, r.RequestedPermutations)
}

func TestGlobalMoranCancelledBeforeStart(t *testing.T) {
	w := buildWeights(t, grid(3, 3), spatial.NeighborParams{Definition: spatial.NeighborRook})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGlobalEstimator(rngadapter.NewAdapter()).Estimate(ctx, gradient(3, 3), w, params(99))
	assert.ErrorIs(t, err, core.ErrInsufficientPermutations)
}

func TestGlobalMoranOverflow(t *testing.T) {
	w := buildWeights(t, grid(3, 3), spatial.NeighborParams{Definition: spatial.NeighborRook})
	// Σy² overflows to +Inf, so every trial's statistic is NaN.
	values := make([]float64, 9)
	for i := range values {
		values[i] = float64(i-4) * 1e160
	}

	r, err := NewGlobalEstimator(rngadapter.NewAdapter()).Estimate(context.Background(), values, w, params(99))
	assert.ErrorIs(t, err, core.ErrInsufficientPermutations)
	assert.ErrorContains(t, err, "0 of 99")
	assert.Nil(t, r)
}

func TestLocalMoranClusteredPoints(t *testing.T) {
	coords := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}}
	values := []float64{10, 10, 10, 1, 1}
	w := buildWeights(t, coords, spatial.NeighborParams{Definition: spatial.NeighborKNearest, K: 2})

	p := params(199)
	// Five points allow only six distinct neighbor draws per observation, so
	// no exact permutation p-value can fall below 1/3.
	p.SignificanceLevel = 0.6
	lisa, err := NewLocalEstimator(rngadapter.NewAdapter()).Estimate(context.Background(), values, values, w, p)
	require.NoError(t, err)
	require.Len(t, lisa, len(values))

	for i, r := range lisa {
		assert.Equal(t, MaxLocalPermutations, r.ValidPermutations, "observation %d", i)
		assert.GreaterOrEqual(t, r.PValue, 0.0)
		assert.LessOrEqual(t, r.PValue, 1.0)
	}

	// (1,0) sits between the two other high values.
	assert.InDelta(t, 10.0, lisa[1].SpatialLag, 1e-12)
	assert.Greater(t, lisa[1].LocalI, 0.0)
	assert.Equal(t, spatial.PatternHighHigh, lisa[1].Pattern)

	// (0,1) has one high and one low neighbor; half of all draws match it.
	assert.Greater(t, lisa[3].PValue, p.SignificanceLevel)
	assert.Equal(t, spatial.PatternNotSignificant, lisa[3].Pattern)
}

func TestLocalMoranCheckerboard(t *testing.T) {
	w := buildWeights(t, grid(6, 6), spatial.NeighborParams{Definition: spatial.NeighborRook})
	values := checkerboard(6, 6)

	p := params(199)
	p.SignificanceLevel = 0.5
	lisa, err := NewLocalEstimator(rngadapter.NewAdapter()).Estimate(context.Background(), values, values, w, p)
	require.NoError(t, err)

	for i, r := range lisa {
		assert.Less(t, r.LocalI, 0.0, "observation %d", i)
		assert.NotEqual(t, spatial.PatternHighHigh, r.Pattern)
		assert.NotEqual(t, spatial.PatternLowLow, r.Pattern)
		if r.Pattern != spatial.PatternNotSignificant {
			if values[i] == 1 {
				assert.Equal(t, spatial.PatternHighLow, r.Pattern)
			} else {
				assert.Equal(t, spatial.PatternLowHigh, r.Pattern)
			}
		}
	}
}

func TestLocalMoranIsolatedObservation(t *testing.T) {
	coords := []orb.Point{{0, 0}, {1, 0}, {0, 1}, {10, 10}}
	raw := []float64{4, 8, 6, 2}
	w := buildWeights(t, coords, spatial.NeighborParams{Definition: spatial.NeighborFixedRadius, Radius: 1.5})

	lisa, err := NewLocalEstimator(rngadapter.NewAdapter()).Estimate(context.Background(), raw, raw, w, params(99))
	require.NoError(t, err)

	iso := lisa[3]
	assert.Zero(t, iso.LocalI)
	assert.Zero(t, iso.ZScore)
	assert.Equal(t, 1.0, iso.PValue)
	assert.Equal(t, 5.0, iso.SpatialLag)
	assert.Equal(t, spatial.PatternNotSignificant, iso.Pattern)
}

func TestLocalMoranDegenerateInputs(t *testing.T) {
	w := buildWeights(t, grid(3, 3), spatial.NeighborParams{Definition: spatial.NeighborRook})
	est := NewLocalEstimator(rngadapter.NewAdapter())

	t.Run("identical values", func(t *testing.T) {
		values := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5}
		lisa, err := est.Estimate(context.Background(), values, values, w, params(99))
		require.NoError(t, err)
		for _, r := range lisa {
			assert.Zero(t, r.LocalI)
			assert.Equal(t, 1.0, r.PValue)
			assert.Equal(t, spatial.PatternNotSignificant, r.Pattern)
		}
	})

	t.Run("single requested permutation", func(t *testing.T) {
		values := gradient(3, 3)
		lisa, err := est.Estimate(context.Background(), values, values, w, params(1))
		require.NoError(t, err)
		for _, r := range lisa {
			assert.Zero(t, r.ValidPermutations)
			assert.Equal(t, 1.0, r.PValue)
			assert.Zero(t, r.ZScore)
			assert.False(t, r.Truncated)
		}
	})

	t.Run("no neighbors", func(t *testing.T) {
		empty := spatial.NewWeightsMatrix(mat.NewDense(3, 3, nil), spatial.NeighborParams{Definition: spatial.NeighborFixedRadius, Radius: 1}, false)
		_, err := est.Estimate(context.Background(), []float64{1, 2, 3}, []float64{1, 2, 3}, empty, params(99))
		assert.ErrorIs(t, err, core.ErrNoNeighbors)
	})
}

func TestLocalMoranDeterministic(t *testing.T) {
	w := buildWeights(t, grid(5, 5), spatial.NeighborParams{Definition: spatial.NeighborQueen})
	values := gradient(5, 5)

	a, err := NewLocalEstimator(rngadapter.NewAdapter(), WithWorkers(1)).Estimate(context.Background(), values, values, w, params(199))
	require.NoError(t, err)
	b, err := NewLocalEstimator(rngadapter.NewAdapter(), WithWorkers(4)).Estimate(context.Background(), values, values, w, params(199))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestLocalMoranCancellation(t *testing.T) {
	w := buildWeights(t, grid(3, 3), spatial.NeighborParams{Definition: spatial.NeighborRook})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rng := &cancellingRNG{Adapter: rngadapter.NewAdapter(), after: 4, cancel: cancel}
	values := gradient(3, 3)
	lisa, err := NewLocalEstimator(rng, WithWorkers(1)).Estimate(ctx, values, values, w, params(199))
	require.NoError(t, err)
	require.Len(t, lisa, 9)

	for i, r := range lisa {
		if i < 4 {
			assert.Equal(t, MaxLocalPermutations, r.ValidPermutations, "observation %d", i)
			assert.False(t, r.Truncated, "observation %d", i)
		} else {
			assert.Zero(t, r.ValidPermutations, "observation %d", i)
			assert.Equal(t, 1.0, r.PValue)
			assert.True(t, r.Truncated, "observation %d", i)
		}
	}
}

func TestLocalMoranCancelledBeforeStart(t *testing.T) {
	w := buildWeights(t, grid(3, 3), spatial.NeighborParams{Definition: spatial.NeighborRook})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	values := gradient(3, 3)
	lisa, err := NewLocalEstimator(rngadapter.NewAdapter()).Estimate(ctx, values, values, w, params(199))
	assert.ErrorIs(t, err, core.ErrInsufficientPermutations)
	assert.Nil(t, lisa)
}

func TestEmpiricalPValue(t *testing.T) {
	null := []float64{-0.3, -0.1, 0, 0.1, 0.2, 0.4}

	tests := []struct {
		name     string
		observed float64
		want     float64
	}{
		{"upper tail", 0.2, 2 * 2.0 / 6},
		{"lower tail", -0.3, 2 * 1.0 / 6},
		{"capped at one", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, empiricalPValue(tt.observed, 0, null), 1e-12)
		})
	}
	assert.Equal(t, 1.0, empiricalPValue(0.5, 0, nil))
}

func TestNormalPValue(t *testing.T) {
	assert.Equal(t, 1.0, normalPValue(0))
	assert.InDelta(t, 0.05, normalPValue(1.959964), 1e-5)
	assert.InDelta(t, normalPValue(-2.5), normalPValue(2.5), 1e-15)
}

func TestCenter(t *testing.T) {
	y, degenerate := center([]float64{1, 2, 3})
	assert.False(t, degenerate)
	assert.Equal(t, []float64{-1, 0, 1}, y)

	y, degenerate = center([]float64{1e6, 1e6, 1e6})
	assert.True(t, degenerate)
	assert.Equal(t, []float64{0, 0, 0}, y)
}
