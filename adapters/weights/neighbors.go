package weights

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// site is a coordinate that remembers its row in the weights matrix
type site struct {
	X, Y  float64
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p site) Dims() int { return 2 }

// Distance returns the squared Euclidean distance, as the tree's pruning expects
func (p site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// sites is a collection of site that satisfies kdtree.Interface
type sites []site

func (p sites) Index(i int) kdtree.Comparable         { return p[i] }
func (p sites) Len() int                              { return len(p) }
func (p sites) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p sites) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{sites: p, Dim: d}, kdtree.MedianOfRandoms(plane{sites: p, Dim: d}, 100))
}

// plane implements sort.Interface and kdtree.SortSlicer for sites
type plane struct {
	sites
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sites[i].X < p.sites[j].X
	case 1:
		return p.sites[i].Y < p.sites[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{sites: p.sites[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}

// siteIndex is a kd-tree over the coordinates. The tree reorders its own
// copy, so query results are mapped back through site.Index.
type siteIndex struct {
	coords []orb.Point
	tree   *kdtree.Tree
}

func newSiteIndex(coords []orb.Point) *siteIndex {
	pts := make(sites, len(coords))
	for i, c := range coords {
		pts[i] = site{X: c.X(), Y: c.Y(), Index: i}
	}
	return &siteIndex{coords: coords, tree: kdtree.New(pts, false)}
}

func (s *siteIndex) query(i int) site {
	return site{X: s.coords[i].X(), Y: s.coords[i].Y(), Index: i}
}

// candidate is a neighbor found by a tree query
type candidate struct {
	index int
	dist  float64
}

// within returns every point whose Euclidean distance to point i is at most
// radius, i itself included, ordered by (distance, index)
func (s *siteIndex) within(i int, radius float64) []candidate {
	// Squared distances are compared with a small slack; the exact test
	// against radius uses planar.Distance below.
	keeper := kdtree.NewDistKeeper(radius * radius * (1 + 1e-9))
	s.tree.NearestSet(keeper, s.query(i))

	out := make([]candidate, 0, keeper.Len())
	for _, item := range keeper.Heap {
		p, ok := item.Comparable.(site)
		if !ok {
			continue // sentinel entry carries no point
		}
		d := planar.Distance(s.coords[i], s.coords[p.Index])
		if d <= radius {
			out = append(out, candidate{index: p.Index, dist: d})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].dist != out[b].dist {
			return out[a].dist < out[b].dist
		}
		return out[a].index < out[b].index
	})
	return out
}

// kthDistance returns the distance to the k-th closest point, i itself counted
func (s *siteIndex) kthDistance(i, k int) float64 {
	keeper := kdtree.NewNKeeper(k)
	s.tree.NearestSet(keeper, s.query(i))

	kth := 0.0
	for _, item := range keeper.Heap {
		if _, ok := item.Comparable.(site); !ok {
			continue
		}
		kth = math.Max(kth, math.Sqrt(item.Dist))
	}
	return kth
}

// knn links each point to its k closest other points. Rows get exactly k
// entries; ties at the k-th distance are resolved by lower index first.
func knn(coords []orb.Point, k int) *mat.Dense {
	n := len(coords)
	adj := mat.NewDense(n, n, nil)
	if k < 1 {
		return adj
	}
	idx := newSiteIndex(coords)
	for i := 0; i < n; i++ {
		// k+1 because the query point finds itself at distance 0.
		radius := idx.kthDistance(i, k+1)
		taken := 0
		for _, c := range idx.within(i, radius) {
			if c.index == i {
				continue
			}
			adj.Set(i, c.index, 1)
			taken++
			if taken == k {
				break
			}
		}
	}
	return adj
}

// fixedRadius links every pair with 0 < distance ≤ radius
func fixedRadius(coords []orb.Point, radius float64) *mat.Dense {
	n := len(coords)
	adj := mat.NewDense(n, n, nil)
	idx := newSiteIndex(coords)
	for i := 0; i < n; i++ {
		for _, c := range idx.within(i, radius) {
			if c.index > i && c.dist > 0 {
				link(adj, i, c.index)
			}
		}
	}
	return adj
}
