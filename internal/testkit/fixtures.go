package testkit

import (
	"fmt"

	"github.com/paulmach/orb"

	"spatialstat/domain/spatial"
)

// Grid returns unit-spaced points row by row
func Grid(rows, cols int) []orb.Point {
	pts := make([]orb.Point, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, orb.Point{float64(c), float64(r)})
		}
	}
	return pts
}

// Checkerboard alternates 0 and 1 across a grid laid out like Grid
func Checkerboard(rows, cols int) []float64 {
	values := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			values = append(values, float64((r+c)%2))
		}
	}
	return values
}

// Gradient rises by one per row and per column
func Gradient(rows, cols int) []float64 {
	values := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			values = append(values, float64(r+c))
		}
	}
	return values
}

// Observations zips coordinates and values into a set with ids obs-1..obs-n
func Observations(coords []orb.Point, values []float64) spatial.ObservationSet {
	if len(coords) != len(values) {
		panic(fmt.Sprintf("testkit: %d coordinates for %d values", len(coords), len(values)))
	}
	set := make(spatial.ObservationSet, len(coords))
	for i := range coords {
		set[i] = spatial.Observation{
			ID:         fmt.Sprintf("obs-%d", i+1),
			Coordinate: coords[i],
			RawValue:   values[i],
		}
	}
	return set
}

// ClusteredPoints is five points where the high values share a row
func ClusteredPoints() spatial.ObservationSet {
	return Observations(
		[]orb.Point{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}},
		[]float64{10, 10, 10, 1, 1},
	)
}
