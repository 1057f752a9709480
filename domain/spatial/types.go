package spatial

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"spatialstat/domain/core"
)

// MinObservations is the smallest set on which an analysis is meaningful
const MinObservations = 3

// DataType declares the measurement scale of the analysed variable
type DataType string

const (
	DataTypeCount      DataType = "count"
	DataTypeRate       DataType = "rate"
	DataTypeContinuous DataType = "continuous"
)

// ParseDataType maps a user supplied tag onto the closed set of data types
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(strings.ToLower(strings.TrimSpace(s))); dt {
	case DataTypeCount, DataTypeRate, DataTypeContinuous:
		return dt, nil
	}
	return "", core.NewValidationError("data_type", fmt.Sprintf("unknown data type %q", s))
}

// NeighborDefinition selects how the spatial weights are derived from coordinates
type NeighborDefinition string

const (
	NeighborQueen       NeighborDefinition = "queen"
	NeighborRook        NeighborDefinition = "rook"
	NeighborKNearest    NeighborDefinition = "knn"
	NeighborFixedRadius NeighborDefinition = "radius"
)

// ParseNeighborDefinition maps a user supplied tag onto the closed set of definitions
func ParseNeighborDefinition(s string) (NeighborDefinition, error) {
	switch nd := NeighborDefinition(strings.ToLower(strings.TrimSpace(s))); nd {
	case NeighborQueen, NeighborRook, NeighborKNearest, NeighborFixedRadius:
		return nd, nil
	}
	return "", core.NewValidationError("neighbor_definition", fmt.Sprintf("unknown neighbor definition %q", s))
}

// NeighborParams is a neighbor definition together with its parameter.
// K is read only for NeighborKNearest and Radius only for NeighborFixedRadius.
type NeighborParams struct {
	Definition NeighborDefinition `json:"definition"`
	K          int                `json:"k,omitempty"`
	Radius     float64            `json:"radius,omitempty"`
}

// Validate checks the parameter required by the chosen definition
func (p NeighborParams) Validate() error {
	switch p.Definition {
	case NeighborQueen, NeighborRook:
		return nil
	case NeighborKNearest:
		if p.K < 1 {
			return core.NewValidationError("k", "must be at least 1")
		}
		return nil
	case NeighborFixedRadius:
		if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
			return core.NewValidationError("radius", "must be a positive finite distance")
		}
		return nil
	}
	return core.NewValidationError("neighbor_definition", fmt.Sprintf("unknown neighbor definition %q", p.Definition))
}

// Observation is one located measurement
type Observation struct {
	ID               string    `json:"id"`
	Coordinate       orb.Point `json:"coordinate"`
	RawValue         float64   `json:"raw_value"`
	TransformedValue float64   `json:"transformed_value"`
}

// ObservationSet is ordered: index i is row/column i of the weights matrix
type ObservationSet []Observation

// Coordinates returns the observation locations in set order
func (s ObservationSet) Coordinates() []orb.Point {
	coords := make([]orb.Point, len(s))
	for i, o := range s {
		coords[i] = o.Coordinate
	}
	return coords
}

// RawValues returns the untransformed values in set order
func (s ObservationSet) RawValues() []float64 {
	values := make([]float64, len(s))
	for i, o := range s {
		values[i] = o.RawValue
	}
	return values
}

// Bound returns the planar extent of the set
func (s ObservationSet) Bound() orb.Bound {
	return orb.MultiPoint(s.Coordinates()).Bound()
}

// Validate enforces the set-level invariants for the given data type
func (s ObservationSet) Validate(dt DataType) error {
	if len(s) < MinObservations {
		return core.NewValidationError("observations",
			fmt.Sprintf("need at least %d valid observations, got %d", MinObservations, len(s)))
	}
	for i, o := range s {
		if math.IsNaN(o.RawValue) || math.IsInf(o.RawValue, 0) {
			return core.NewValidationError("observations", fmt.Sprintf("value at index %d is not finite", i))
		}
		if dt == DataTypeCount && o.RawValue < 0 {
			return core.NewValidationError("observations", fmt.Sprintf("count value at index %d is negative", i))
		}
		if !finitePoint(o.Coordinate) {
			return core.NewValidationError("observations", fmt.Sprintf("coordinate at index %d is not finite", i))
		}
	}
	return nil
}

func finitePoint(p orb.Point) bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// AnalysisRequest carries every parameter of one analysis run
type AnalysisRequest struct {
	DataType          DataType       `json:"data_type"`
	Neighbors         NeighborParams `json:"neighbors"`
	SignificanceLevel float64        `json:"significance_level"`
	Permutations      int            `json:"permutations"`
	RunGlobal         bool           `json:"run_global"`
	RunLocal          bool           `json:"run_local"`
	// Seed fixes the permutation streams; 0 selects a time-based seed.
	Seed int64 `json:"seed,omitempty"`
	// Timeout bounds the permutation phase; remaining trials are abandoned.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the request independently of the observations
func (r AnalysisRequest) Validate() error {
	if !r.RunGlobal && !r.RunLocal {
		return core.NewValidationError("analysis", "select at least one of global or local")
	}
	if _, err := ParseDataType(string(r.DataType)); err != nil {
		return err
	}
	if err := r.Neighbors.Validate(); err != nil {
		return err
	}
	if !(r.SignificanceLevel > 0 && r.SignificanceLevel < 1) {
		return core.NewValidationError("significance_level", "must lie strictly between 0 and 1")
	}
	if r.Permutations < 1 {
		return core.NewValidationError("permutations", "must be a positive integer")
	}
	if r.Timeout < 0 {
		return core.NewValidationError("timeout", "must not be negative")
	}
	return nil
}

// PermutationParams configures one permutation test
type PermutationParams struct {
	Permutations      int
	SignificanceLevel float64
	// Seed is the base seed of every RNG stream; RunID namespaces the streams.
	Seed  int64
	RunID string
}
