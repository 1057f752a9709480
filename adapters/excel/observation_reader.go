package excel

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/ports"
)

// missingMarkers are cell contents treated as an absent value
var missingMarkers = map[string]bool{
	"":     true,
	"null": true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
}

// ObservationReader loads observations from CSV or XLSX tables
type ObservationReader struct {
	logger *internal.Logger
}

// NewObservationReader creates a table-backed ports.ObservationReader
func NewObservationReader(logger *internal.Logger) *ObservationReader {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ObservationReader{logger: logger}
}

var _ ports.ObservationReader = (*ObservationReader)(nil)

// Read loads the table at path. Rows with a missing or unusable value or
// location are skipped and counted; the remaining rows keep file order.
func (r *ObservationReader) Read(ctx context.Context, path string, columns ports.ColumnMapping, dataType spatial.DataType) (*ports.ReadResult, error) {
	if columns.Value == "" {
		return nil, core.NewValidationError("value_column", "is required")
	}
	if columns.Geometry == "" && (columns.X == "" || columns.Y == "") {
		return nil, core.NewValidationError("columns", "either a geometry column or both x and y columns are required")
	}

	data, err := ReadTable(ctx, path, r.logger)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{columns.ID, columns.X, columns.Y, columns.Geometry, columns.Value} {
		if name != "" && !data.HasColumn(name) {
			return nil, core.NewValidationError("columns", fmt.Sprintf("column %q not found in %s", name, path))
		}
	}

	set := make(spatial.ObservationSet, 0, len(data.Rows))
	skipped := 0
	for i, row := range data.Rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		obs, ok := r.parseRow(row, i, columns, dataType)
		if !ok {
			skipped++
			continue
		}
		set = append(set, obs)
	}

	if skipped > 0 {
		r.logger.Info("skipped %d rows with invalid or missing data in %s", skipped, path)
	}
	if len(set) == 0 {
		return nil, core.NewValidationError("observations", fmt.Sprintf("no valid numeric values found in column %q", columns.Value))
	}

	return &ports.ReadResult{Observations: set, SkippedCount: skipped, Source: path}, nil
}

func (r *ObservationReader) parseRow(row RawRowData, index int, columns ports.ColumnMapping, dataType spatial.DataType) (spatial.Observation, bool) {
	value, ok := ParseValue(row[columns.Value])
	if !ok || (dataType == spatial.DataTypeCount && value < 0) {
		return spatial.Observation{}, false
	}

	var coord orb.Point
	if columns.Geometry != "" {
		coord, ok = parseGeometry(row[columns.Geometry])
	} else {
		coord, ok = parsePoint(row[columns.X], row[columns.Y])
	}
	if !ok {
		return spatial.Observation{}, false
	}

	id := strconv.Itoa(index + 1)
	if columns.ID != "" && row[columns.ID] != "" {
		id = row[columns.ID]
	}
	return spatial.Observation{ID: id, Coordinate: coord, RawValue: value}, true
}

// ParseValue parses a numeric cell. Missing markers, unparsable text and
// non-finite numbers are rejected.
func ParseValue(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if missingMarkers[strings.ToLower(cell)] {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parsePoint(x, y string) (orb.Point, bool) {
	px, ok := ParseValue(x)
	if !ok {
		return orb.Point{}, false
	}
	py, ok := ParseValue(y)
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{px, py}, true
}

// parseGeometry reads a WKT cell; non-point geometries are represented by
// their centroid
func parseGeometry(cell string) (orb.Point, bool) {
	if strings.TrimSpace(cell) == "" {
		return orb.Point{}, false
	}
	geom, err := wkt.Unmarshal(cell)
	if err != nil || geom == nil {
		return orb.Point{}, false
	}
	return Centroid(geom)
}

// Centroid returns the representative point of geom, rejecting empty or
// non-finite results
func Centroid(geom orb.Geometry) (orb.Point, bool) {
	var p orb.Point
	if pt, ok := geom.(orb.Point); ok {
		p = pt
	} else {
		if geom.Bound().IsEmpty() {
			return orb.Point{}, false
		}
		p, _ = planar.CentroidArea(geom)
	}
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return orb.Point{}, false
		}
	}
	return p, true
}
