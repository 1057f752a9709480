package geojson

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/ports"
)

const districts = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "north", "geometry": {"type": "Point", "coordinates": [1, 5]}, "properties": {"cases": 12, "name": "N"}},
    {"type": "Feature", "id": "square", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[4,0],[4,4],[0,4],[0,0]]]}, "properties": {"cases": "7", "name": "S", "code": "SQ"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [3, 3]}, "properties": {"cases": null}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [6, 1]}, "properties": {"cases": -2}}
  ]
}`

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "districts.geojson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFeatureCollection(t *testing.T) {
	path := write(t, districts)

	tests := []struct {
		name     string
		columns  ports.ColumnMapping
		dataType spatial.DataType
		ids      []string
		skipped  int
	}{
		{"feature ids", ports.ColumnMapping{Value: "cases"}, spatial.DataTypeCount, []string{"north", "square"}, 2},
		{"id property", ports.ColumnMapping{ID: "name", Value: "cases"}, spatial.DataTypeCount, []string{"N", "S"}, 2},
		{"partial id property", ports.ColumnMapping{ID: "code", Value: "cases"}, spatial.DataTypeContinuous, []string{"north", "SQ", "4"}, 1},
		{"continuous keeps negatives", ports.ColumnMapping{Value: "cases"}, spatial.DataTypeContinuous, []string{"north", "square", "4"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewReader(nil).Read(context.Background(), path, tt.columns, tt.dataType)
			require.NoError(t, err)

			ids := make([]string, len(res.Observations))
			for i, o := range res.Observations {
				ids[i] = o.ID
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.skipped, res.SkippedCount)
		})
	}

	res, err := NewReader(nil).Read(context.Background(), path, ports.ColumnMapping{Value: "cases"}, spatial.DataTypeCount)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 5}, res.Observations[0].Coordinate)
	assert.InDelta(t, 2.0, res.Observations[1].Coordinate.X(), 1e-12)
	assert.InDelta(t, 2.0, res.Observations[1].Coordinate.Y(), 1e-12)
	assert.Equal(t, 7.0, res.Observations[1].RawValue)
}

func TestReadErrors(t *testing.T) {
	_, err := NewReader(nil).Read(context.Background(), write(t, districts), ports.ColumnMapping{}, spatial.DataTypeCount)
	assert.True(t, core.IsValidationError(err))

	_, err = NewReader(nil).Read(context.Background(), write(t, `{"type": "FeatureCollection", "features": [`), ports.ColumnMapping{Value: "cases"}, spatial.DataTypeCount)
	assert.True(t, core.IsValidationError(err))

	_, err = NewReader(nil).Read(context.Background(), write(t, districts), ports.ColumnMapping{Value: "population"}, spatial.DataTypeCount)
	assert.True(t, core.IsValidationError(err))

	_, err = NewReader(nil).Read(context.Background(), filepath.Join(t.TempDir(), "absent.geojson"), ports.ColumnMapping{Value: "cases"}, spatial.DataTypeCount)
	assert.Error(t, err)
}
