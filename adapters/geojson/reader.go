// Package geojson reads observations from GeoJSON feature collections. Each
// feature contributes its centroid and one numeric property.
package geojson

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"spatialstat/adapters/excel"
	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/ports"
)

// Reader implements ports.ObservationReader for GeoJSON files
type Reader struct {
	logger *internal.Logger
}

// NewReader creates a GeoJSON observation reader
func NewReader(logger *internal.Logger) *Reader {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Reader{logger: logger}
}

var _ ports.ObservationReader = (*Reader)(nil)

// Read loads path. columns.Value names the property holding the value and
// columns.ID an optional identifying property; the feature id is used when
// it is absent. X, Y and Geometry are ignored.
func (r *Reader) Read(ctx context.Context, path string, columns ports.ColumnMapping, dataType spatial.DataType) (*ports.ReadResult, error) {
	if columns.Value == "" {
		return nil, core.NewValidationError("value_column", "is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GeoJSON file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, core.NewValidationError("geojson", err.Error())
	}

	set := make(spatial.ObservationSet, 0, len(fc.Features))
	skipped := 0
	for i, f := range fc.Features {
		obs, ok := parseFeature(f, i, columns, dataType)
		if !ok {
			skipped++
			continue
		}
		set = append(set, obs)
	}

	if skipped > 0 {
		r.logger.Info("skipped %d features with invalid or missing data in %s", skipped, path)
	}
	if len(set) == 0 {
		return nil, core.NewValidationError("observations", fmt.Sprintf("no valid numeric values found in property %q", columns.Value))
	}
	return &ports.ReadResult{Observations: set, SkippedCount: skipped, Source: path}, nil
}

func parseFeature(f *geojson.Feature, index int, columns ports.ColumnMapping, dataType spatial.DataType) (spatial.Observation, bool) {
	if f == nil || f.Geometry == nil {
		return spatial.Observation{}, false
	}
	value, ok := propertyValue(f.Properties[columns.Value])
	if !ok || (dataType == spatial.DataTypeCount && value < 0) {
		return spatial.Observation{}, false
	}
	coord, ok := excel.Centroid(f.Geometry)
	if !ok {
		return spatial.Observation{}, false
	}

	// id property, then feature id, then 1-based position
	id := strconv.Itoa(index + 1)
	if v, present := f.Properties[columns.ID]; columns.ID != "" && present && v != nil {
		id = fmt.Sprint(v)
	} else if f.ID != nil {
		id = fmt.Sprint(f.ID)
	}
	return spatial.Observation{ID: id, Coordinate: coord, RawValue: value}, true
}

// propertyValue accepts JSON numbers and numeric strings
func propertyValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return excel.ParseValue(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		return excel.ParseValue(x)
	}
	return 0, false
}
