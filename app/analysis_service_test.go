package app_test

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spatialstat/adapters/stats/autocorr"
	"spatialstat/adapters/stats/transform"
	"spatialstat/adapters/weights"
	"spatialstat/app"
	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/internal/testkit"
	"spatialstat/ports"
)

type countingBuilder struct {
	inner *weights.Builder
	calls int
}

func (b *countingBuilder) Build(ctx context.Context, coords []orb.Point, params spatial.NeighborParams) (*spatial.WeightsMatrix, error) {
	b.calls++
	return b.inner.Build(ctx, coords, params)
}

func knn(k int) spatial.NeighborParams {
	return spatial.NeighborParams{Definition: spatial.NeighborKNearest, K: k}
}

func TestRunClusteredPoints(t *testing.T) {
	kit := testkit.NewTestKit()
	sink := &testkit.RecordingSink{}
	set := testkit.ClusteredPoints()

	result, err := kit.AnalysisService().Run(context.Background(), set, testkit.DefaultRequest(knn(2)), sink)
	require.NoError(t, err)

	require.NotNil(t, result.Moran)
	require.Len(t, result.Lisa, len(set))
	assert.False(t, result.ID.String() == "")
	assert.Equal(t, int64(42), result.Request.Seed)
	assert.Equal(t, []float64{10, 10, 10, 1, 1}, result.OriginalValues)
	assert.Equal(t, result.OriginalValues, result.TransformedValues)
	assert.Equal(t, 5, result.Weights.Observations)
	assert.Equal(t, 10, result.Weights.Links)
	assert.InDelta(t, -0.25, result.Moran.ExpectedI, 1e-12)
	assert.Greater(t, result.Moran.I, result.Moran.ExpectedI)
	for i, o := range result.Observations {
		assert.Equal(t, set[i].ID, o.ID)
		assert.Equal(t, o.RawValue, o.TransformedValue)
	}
	for _, l := range result.Lisa {
		assert.GreaterOrEqual(t, l.PValue, 0.0)
		assert.LessOrEqual(t, l.PValue, 1.0)
		assert.Equal(t, spatial.PatternNotSignificant, l.Pattern)
	}

	assert.Equal(t, []spatial.Stage{
		spatial.StageValidate,
		spatial.StageWeights,
		spatial.StageTransform,
		spatial.StageGlobal,
		spatial.StageLocal,
		spatial.StageDone,
	}, sink.Stages())
	events := sink.Events()
	assert.Equal(t, 100.0, events[len(events)-1].Percent)
}

func TestRunClusteredPointsPattern(t *testing.T) {
	req := testkit.DefaultRequest(knn(2))
	// Five points cannot reach p < 1/3 under an exact permutation test.
	req.SignificanceLevel = 0.6

	result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), testkit.ClusteredPoints(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, spatial.PatternHighHigh, result.Lisa[1].Pattern)
	assert.GreaterOrEqual(t, result.PatternCounts()[spatial.PatternHighHigh]+result.PatternCounts()[spatial.PatternLowLow], 1)
}

func TestRunRejectsTooFewObservationsBeforeWeights(t *testing.T) {
	builder := &countingBuilder{inner: weights.NewBuilder()}
	rng := testkit.NewTestKit().RNGAdapter()
	svc := app.NewAnalysisService(transform.Transformer{}, builder, autocorr.NewGlobalEstimator(rng), autocorr.NewLocalEstimator(rng))

	set := testkit.Observations([]orb.Point{{0, 0}, {1, 1}}, []float64{1, 2})
	_, err := svc.Run(context.Background(), set, testkit.DefaultRequest(knn(1)), nil)

	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.Zero(t, builder.calls)
}

func TestRunIdenticalValues(t *testing.T) {
	set := testkit.Observations([]orb.Point{{0, 0}, {2, 0}, {0, 3}, {4, 4}}, []float64{5, 5, 5, 5})
	for _, params := range []spatial.NeighborParams{
		{Definition: spatial.NeighborQueen},
		{Definition: spatial.NeighborRook},
		knn(2),
		{Definition: spatial.NeighborFixedRadius, Radius: 5},
	} {
		t.Run(string(params.Definition), func(t *testing.T) {
			result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), set, testkit.DefaultRequest(params), nil)
			require.NoError(t, err)
			assert.Zero(t, result.Moran.I)
			assert.Equal(t, 1.0, result.Moran.PValue)
			assert.Zero(t, result.SignificantCount())
		})
	}
}

func TestRunQueenFallback(t *testing.T) {
	var logs bytes.Buffer
	kit := testkit.NewTestKit().WithLogger(internal.NewLoggerTo(&logs, internal.LogLevelWarn))
	sink := &testkit.RecordingSink{}
	coords := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}}

	result, err := kit.AnalysisService().Run(context.Background(),
		testkit.Observations(coords, []float64{1, 2, 3, 4, 5, 6}),
		testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborQueen}), sink)
	require.NoError(t, err)

	assert.True(t, result.Weights.FallbackUsed)
	assert.Equal(t, 4, result.Weights.Definition.K)
	assert.Contains(t, sink.Stages(), spatial.StageFallback)
	assert.Contains(t, logs.String(), "[WARN]")
	assert.Contains(t, logs.String(), "4 nearest neighbors")
}

func TestRunCountData(t *testing.T) {
	req := testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborRook})
	req.DataType = spatial.DataTypeCount
	values := testkit.Gradient(4, 4)

	result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), testkit.Observations(testkit.Grid(4, 4), values), req, nil)
	require.NoError(t, err)

	for i, v := range values {
		assert.InDelta(t, transform.FreemanTukey(v), result.TransformedValues[i], 1e-12)
	}
	assert.Equal(t, spatial.InterpretationPositive, result.Moran.Interpretation)
}

func TestRunSelectsAnalyses(t *testing.T) {
	set := testkit.Observations(testkit.Grid(4, 4), testkit.Gradient(4, 4))

	t.Run("local only", func(t *testing.T) {
		req := testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborRook})
		req.RunGlobal = false
		sink := &testkit.RecordingSink{}

		result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), set, req, sink)
		require.NoError(t, err)
		assert.Nil(t, result.Moran)
		assert.Len(t, result.Lisa, 16)
		assert.NotContains(t, sink.Stages(), spatial.StageGlobal)
	})

	t.Run("global only", func(t *testing.T) {
		req := testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborRook})
		req.RunLocal = false

		result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), set, req, nil)
		require.NoError(t, err)
		assert.NotNil(t, result.Moran)
		assert.Nil(t, result.Lisa)
	})
}

func TestRunErrors(t *testing.T) {
	grid := testkit.Observations(testkit.Grid(3, 3), testkit.Gradient(3, 3))
	rook := spatial.NeighborParams{Definition: spatial.NeighborRook}

	tests := []struct {
		name    string
		set     spatial.ObservationSet
		mutate  func(*spatial.AnalysisRequest)
		opts    []app.ServiceOption
		checkFn func(error) bool
	}{
		{
			name:    "no analysis selected",
			set:     grid,
			mutate:  func(r *spatial.AnalysisRequest) { r.RunGlobal, r.RunLocal = false, false },
			checkFn: core.IsValidationError,
		},
		{
			name:    "negative count",
			set:     testkit.Observations(testkit.Grid(1, 3), []float64{1, -2, 3}),
			mutate:  func(r *spatial.AnalysisRequest) { r.DataType = spatial.DataTypeCount },
			checkFn: core.IsValidationError,
		},
		{
			name:    "too many observations",
			set:     grid,
			opts:    []app.ServiceOption{app.WithMaxObservations(5)},
			checkFn: core.IsValidationError,
		},
		{
			name:    "identical coordinates",
			set:     testkit.Observations([]orb.Point{{1, 1}, {1, 1}, {1, 1}}, []float64{1, 2, 3}),
			checkFn: core.IsDataQualityError,
		},
		{
			name:    "negative timeout",
			set:     grid,
			mutate:  func(r *spatial.AnalysisRequest) { r.Timeout = -time.Second },
			checkFn: core.IsValidationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testkit.DefaultRequest(rook)
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			sink := &testkit.RecordingSink{}
			result, err := testkit.NewTestKit().AnalysisService(tt.opts...).Run(context.Background(), tt.set, req, sink)

			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
			assert.NotContains(t, sink.Stages(), spatial.StageDone)
		})
	}
}

func TestRunReproducible(t *testing.T) {
	set := testkit.Observations(testkit.Grid(5, 5), testkit.Checkerboard(5, 5))
	req := testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborQueen})
	svc := testkit.NewTestKit().AnalysisService()

	a, err := svc.Run(context.Background(), set, req, nil)
	require.NoError(t, err)
	b, err := svc.Run(context.Background(), set, req, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Moran, b.Moran)
	assert.Equal(t, a.Lisa, b.Lisa)
}

func TestRunResolvesZeroSeed(t *testing.T) {
	req := testkit.DefaultRequest(knn(3))
	req.Seed = 0
	req.Timeout = time.Minute

	result, err := testkit.NewTestKit().AnalysisService().Run(context.Background(), testkit.Observations(testkit.Grid(3, 3), testkit.Gradient(3, 3)), req, nil)
	require.NoError(t, err)
	assert.NotZero(t, result.Request.Seed)
	assert.Equal(t, time.Minute, result.Request.Timeout)
	assert.False(t, result.Moran.Truncated)
}

// cutoffRNG cancels the run once it has handed out a fixed number of streams
type cutoffRNG struct {
	ports.RNGPort
	mu     sync.Mutex
	calls  int
	after  int
	cancel context.CancelFunc
}

func (c *cutoffRNG) Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	c.mu.Lock()
	c.calls++
	if c.calls > c.after {
		c.cancel()
	}
	c.mu.Unlock()
	return c.RNGPort.Stream(ctx, runID, stageName, key, baseSeed)
}

func TestRunLocalCutShort(t *testing.T) {
	// 199 global trials run in 8 chunks, one stream each.
	const globalStreams = 8
	set := testkit.Observations(testkit.Grid(3, 3), testkit.Gradient(3, 3))
	req := testkit.DefaultRequest(spatial.NeighborParams{Definition: spatial.NeighborRook})

	newService := func(rng ports.RNGPort, logger *internal.Logger) *app.AnalysisService {
		return app.NewAnalysisService(transform.Transformer{}, weights.NewBuilder(),
			autocorr.NewGlobalEstimator(rng, autocorr.WithWorkers(1)),
			autocorr.NewLocalEstimator(rng, autocorr.WithWorkers(1)),
			app.WithLogger(logger))
	}

	t.Run("some observations truncated", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var logs bytes.Buffer
		rng := &cutoffRNG{RNGPort: testkit.NewTestKit().RNGAdapter(), after: globalStreams + 4, cancel: cancel}

		result, err := newService(rng, internal.NewLoggerTo(&logs, internal.LogLevelWarn)).Run(ctx, set, req, nil)
		require.NoError(t, err)

		assert.False(t, result.Moran.Truncated)
		assert.Equal(t, 5, result.TruncatedLisaCount())
		for i, l := range result.Lisa {
			assert.Equal(t, i >= 4, l.Truncated, "observation %d", i)
		}
		assert.Contains(t, logs.String(), "[WARN]")
		assert.Contains(t, logs.String(), "stopped early for 5 of 9 observations")
	})

	t.Run("no local trial ran", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rng := &cutoffRNG{RNGPort: testkit.NewTestKit().RNGAdapter(), after: globalStreams, cancel: cancel}
		sink := &testkit.RecordingSink{}

		result, err := newService(rng, internal.NewNopLogger()).Run(ctx, set, req, sink)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, core.ErrInsufficientPermutations)
		assert.NotContains(t, sink.Stages(), spatial.StageDone)
	})
}
