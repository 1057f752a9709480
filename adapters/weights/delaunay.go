package weights

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"spatialstat/domain/core"
)

// collinearTolerance is relative to the squared extent of the point set
const collinearTolerance = 1e-12

type edge struct{ u, v int }

func newEdge(u, v int) edge {
	if u > v {
		u, v = v, u
	}
	return edge{u, v}
}

// delaunayAdjacency links every pair of points that share a Delaunay edge.
// Duplicate coordinates are triangulated once; each copy inherits the
// adjacency of the first occurrence. Returns ErrDegenerateGeometry when no
// triangulation exists.
func delaunayAdjacency(coords []orb.Point) (*mat.Dense, error) {
	n := len(coords)

	// Map each coordinate to the first point at the same location.
	rep := make([]int, n)
	var distinct []int
	seen := make(map[orb.Point]int, n)
	for i, p := range coords {
		if j, ok := seen[p]; ok {
			rep[i] = j
			continue
		}
		seen[p] = i
		rep[i] = i
		distinct = append(distinct, i)
	}
	if len(distinct) < 3 {
		return nil, core.NewDegenerateGeometryError(
			fmt.Sprintf("triangulation needs 3 distinct points, got %d", len(distinct)))
	}

	pts := normalize(coords, distinct)
	if collinear(pts) {
		return nil, core.NewDegenerateGeometryError("all points are collinear")
	}

	tri, err := delaunay.Triangulate(pts)
	if err != nil {
		return nil, core.NewDegenerateGeometryError(err.Error())
	}
	if len(tri.Triangles) == 0 {
		return nil, core.NewDegenerateGeometryError("triangulation produced no triangles")
	}

	// Triangles holds index triplets into pts, which is distinct-index space.
	edges := make(map[edge]struct{}, len(tri.Triangles))
	for t := 0; t+2 < len(tri.Triangles); t += 3 {
		a, b, c := tri.Triangles[t], tri.Triangles[t+1], tri.Triangles[t+2]
		edges[newEdge(a, b)] = struct{}{}
		edges[newEdge(b, c)] = struct{}{}
		edges[newEdge(a, c)] = struct{}{}
	}
	neighbors := make(map[int][]int, len(distinct))
	for e := range edges {
		u, v := distinct[e.u], distinct[e.v]
		neighbors[u] = append(neighbors[u], v)
		neighbors[v] = append(neighbors[v], u)
	}

	adj := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for _, j := range neighbors[rep[i]] {
			adj.Set(i, j, 1)
			adj.Set(j, i, 1)
		}
	}
	return adj, nil
}

// normalize maps the selected points into the unit box to keep the
// orientation tests well conditioned
func normalize(coords []orb.Point, selected []int) []delaunay.Point {
	bound := coords[selected[0]].Bound()
	for _, i := range selected[1:] {
		bound = bound.Extend(coords[i])
	}
	scale := math.Max(bound.Max.X()-bound.Min.X(), bound.Max.Y()-bound.Min.Y())
	if scale == 0 {
		scale = 1
	}
	pts := make([]delaunay.Point, len(selected))
	for k, i := range selected {
		pts[k] = delaunay.Point{
			X: (coords[i].X() - bound.Min.X()) / scale,
			Y: (coords[i].Y() - bound.Min.Y()) / scale,
		}
	}
	return pts
}

// collinear reports whether every point lies on the line through the first
// point and the point farthest from it
func collinear(pts []delaunay.Point) bool {
	o := pts[0]
	far, farD := 0, 0.0
	for i, p := range pts {
		dx, dy := p.X-o.X, p.Y-o.Y
		if d := dx*dx + dy*dy; d > farD {
			far, farD = i, d
		}
	}
	if farD == 0 {
		return true
	}
	fx, fy := pts[far].X-o.X, pts[far].Y-o.Y
	for _, p := range pts {
		cross := fx*(p.Y-o.Y) - fy*(p.X-o.X)
		if cross*cross > collinearTolerance*farD*farD {
			return false
		}
	}
	return true
}
