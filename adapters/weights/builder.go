package weights

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
)

// rookTolerance widens the minimum distance when connecting rook neighbors
const rookTolerance = 1.1

// queenFallbackK is the neighbor count used when triangulation fails
const queenFallbackK = 4

// FallbackFunc is told why Queen adjacency was replaced by k-nearest neighbors
type FallbackFunc func(reason error, k int)

// Builder constructs spatial weights matrices
type Builder struct {
	onFallback FallbackFunc
}

// Option configures a Builder
type Option func(*Builder)

// WithFallbackListener registers a callback for Queen fallbacks
func WithFallbackListener(fn FallbackFunc) Option {
	return func(b *Builder) { b.onFallback = fn }
}

// NewBuilder creates a weights builder
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the row-standardized weights matrix for coords
func (b *Builder) Build(ctx context.Context, coords []orb.Point, params spatial.NeighborParams) (*spatial.WeightsMatrix, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := len(coords)
	if n < 2 {
		return nil, core.NewDegenerateGeometryError(fmt.Sprintf("need at least 2 coordinates, got %d", n))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		adj      *mat.Dense
		fallback bool
		err      error
	)
	switch params.Definition {
	case spatial.NeighborQueen:
		adj, fallback, err = b.queen(coords)
		if fallback {
			// the matrix records the k it actually used
			params.K = min(queenFallbackK, n-1)
		}
	case spatial.NeighborRook:
		if err = requireDistinct(coords); err == nil {
			adj = rook(coords)
		}
	case spatial.NeighborKNearest:
		if err = requireDistinct(coords); err == nil {
			adj = knn(coords, min(params.K, n-1))
		}
	case spatial.NeighborFixedRadius:
		if err = requireDistinct(coords); err == nil {
			adj = fixedRadius(coords, params.Radius)
		}
	}
	if err != nil {
		return nil, err
	}

	standardize(adj)
	return spatial.NewWeightsMatrix(adj, params, fallback), nil
}

func (b *Builder) queen(coords []orb.Point) (*mat.Dense, bool, error) {
	adj, err := delaunayAdjacency(coords)
	if err == nil {
		return adj, false, nil
	}
	if !errors.Is(err, core.ErrDegenerateGeometry) {
		return nil, false, err
	}
	k := min(queenFallbackK, len(coords)-1)
	if b.onFallback != nil {
		b.onFallback(err, k)
	}
	return knn(coords, k), true, nil
}

func requireDistinct(coords []orb.Point) error {
	first := coords[0]
	for _, p := range coords[1:] {
		if !p.Equal(first) {
			return nil
		}
	}
	return core.NewDegenerateGeometryError("fewer than 2 distinct coordinates")
}

// standardize divides each non-empty row by its sum; empty rows stay zero
func standardize(w *mat.Dense) {
	n, _ := w.Dims()
	for i := 0; i < n; i++ {
		row := w.RawRowView(i)
		var sum float64
		for _, v := range row {
			sum += v
		}
		if sum > 0 {
			for j := range row {
				row[j] /= sum
			}
		}
	}
}

// link sets the symmetric 0/1 adjacency between i and j
func link(w *mat.Dense, i, j int) {
	w.Set(i, j, 1)
	w.Set(j, i, 1)
}
