package ports

import (
	"context"

	"github.com/paulmach/orb"

	"spatialstat/domain/spatial"
)

// WeightsBuilder derives a row-standardized neighbor matrix from coordinates
type WeightsBuilder interface {
	Build(ctx context.Context, coords []orb.Point, params spatial.NeighborParams) (*spatial.WeightsMatrix, error)
}

// GlobalEstimator computes Global Moran's I with permutation inference
type GlobalEstimator interface {
	Estimate(ctx context.Context, values []float64, w *spatial.WeightsMatrix, p spatial.PermutationParams) (*spatial.MoranResult, error)
}

// LocalEstimator computes one LISA result per observation. raw carries the
// untransformed values used for pattern classification.
type LocalEstimator interface {
	Estimate(ctx context.Context, raw, values []float64, w *spatial.WeightsMatrix, p spatial.PermutationParams) ([]spatial.LisaResult, error)
}

// ValueTransformer maps raw values onto the scale the statistics run on
type ValueTransformer interface {
	Transform(values []float64, dt spatial.DataType) []float64
}
