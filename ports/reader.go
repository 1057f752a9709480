package ports

import (
	"context"

	"spatialstat/domain/spatial"
)

// ColumnMapping names the table columns that carry an observation
type ColumnMapping struct {
	ID string // optional; row number is used when empty
	X  string
	Y  string
	// Geometry names a WKT column used instead of X and Y; polygons and
	// lines are reduced to their centroid.
	Geometry string
	Value    string
}

// ReadResult is the outcome of loading observations from a table
type ReadResult struct {
	Observations spatial.ObservationSet
	SkippedCount int
	Source       string
}

// ObservationReader loads located observations from an external source
type ObservationReader interface {
	Read(ctx context.Context, path string, columns ColumnMapping, dataType spatial.DataType) (*ReadResult, error)
}
