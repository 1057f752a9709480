// Package weights builds row-standardized spatial weights matrices from point
// coordinates under four neighbor definitions:
//
//   - Queen: edges of a Delaunay triangulation. Degenerate input (fewer than
//     three distinct points, or all points collinear) falls back to k-nearest
//     neighbors with k = min(4, n-1) and the fallback is reported.
//   - Rook: pairs within 1.1 × the smallest positive pairwise distance. Points
//     carry no shared-edge topology, so this is only a heuristic stand-in for
//     rook contiguity and works best on regular lattices.
//   - K-nearest: the k closest other points, ties broken by index.
//   - Fixed radius: every pair with 0 < distance ≤ radius.
//
// Co-located points are never neighbors of each other under Rook and Fixed
// radius, because both require a strictly positive distance.
package weights
