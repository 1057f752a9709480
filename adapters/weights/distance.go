package weights

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

// distanceMatrix returns the symmetric pairwise Euclidean distances
func distanceMatrix(coords []orb.Point) *mat.SymDense {
	n := len(coords)
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, planar.Distance(coords[i], coords[j]))
		}
	}
	return d
}

// rook connects pairs within rookTolerance × the minimum positive distance
func rook(coords []orb.Point) *mat.Dense {
	n := len(coords)
	d := distanceMatrix(coords)

	minDist := math.Inf(1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if v := d.At(i, j); v > 0 && v < minDist {
				minDist = v
			}
		}
	}

	adj := mat.NewDense(n, n, nil)
	threshold := minDist * rookTolerance
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if v := d.At(i, j); v > 0 && v <= threshold {
				link(adj, i, j)
			}
		}
	}
	return adj
}
