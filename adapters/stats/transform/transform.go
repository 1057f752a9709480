// Package transform maps raw observation values onto a variance-stabilized
// scale. Moran's I and LISA assume roughly homoscedastic values; skipping the
// transform for counts inflates hotspot detection.
package transform

import (
	"math"

	"spatialstat/domain/spatial"
)

// Transform returns a new slice with each value mapped according to dt.
// Count input must already be validated as finite and non-negative.
func Transform(values []float64, dt spatial.DataType) []float64 {
	out := make([]float64, len(values))
	fn := For(dt)
	for i, v := range values {
		out[i] = fn(v)
	}
	return out
}

// For returns the scalar transform used for dt
func For(dt spatial.DataType) func(float64) float64 {
	switch dt {
	case spatial.DataTypeCount:
		return FreemanTukey
	case spatial.DataTypeRate:
		return ArcsineSqrt
	default:
		return identity
	}
}

// FreemanTukey is the variance-stabilizing transform for Poisson counts
func FreemanTukey(v float64) float64 {
	return math.Sqrt(v) + math.Sqrt(v+1)
}

// ArcsineSqrt is the angular transform for proportions, clamped to [0,1]
func ArcsineSqrt(v float64) float64 {
	return math.Asin(math.Sqrt(math.Max(0, math.Min(1, v))))
}

func identity(v float64) float64 { return v }

// Transformer exposes Transform as a ports.ValueTransformer
type Transformer struct{}

// Transform implements ports.ValueTransformer
func (Transformer) Transform(values []float64, dt spatial.DataType) []float64 {
	return Transform(values, dt)
}
