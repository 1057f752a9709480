package api

import (
	"time"

	"github.com/paulmach/orb"

	"spatialstat/domain/spatial"
)

// ObservationDTO is one located measurement in a request body. Pointers
// distinguish a missing field from a zero value.
type ObservationDTO struct {
	ID    string   `json:"id"`
	X     *float64 `json:"x" binding:"required"`
	Y     *float64 `json:"y" binding:"required"`
	Value *float64 `json:"value" binding:"required"`
}

// CreateAnalysisRequest is the body of POST /api/v1/analyses
type CreateAnalysisRequest struct {
	Observations       []ObservationDTO `json:"observations" binding:"required,min=3,dive"`
	DataType           string           `json:"data_type" binding:"required,oneof=count rate continuous"`
	NeighborDefinition string           `json:"neighbor_definition" binding:"required,oneof=queen rook knn radius"`
	K                  int              `json:"k" binding:"omitempty,min=1"`
	Radius             float64          `json:"radius" binding:"omitempty,gt=0"`
	SignificanceLevel  *float64         `json:"significance_level" binding:"omitempty,gt=0,lt=1"`
	Permutations       *int             `json:"permutations" binding:"omitempty,min=1"`
	RunGlobal          *bool            `json:"run_global"`
	RunLocal           *bool            `json:"run_local"`
	Seed               *int64           `json:"seed"`
	TimeoutSeconds     *float64         `json:"timeout_seconds" binding:"omitempty,gte=0"`
}

// Defaults fills the request fields a client may omit
type Defaults struct {
	Permutations      int
	SignificanceLevel float64
	Seed              int64
	Timeout           time.Duration
}

// toDomain converts the body into the service's observation set and request
func (r CreateAnalysisRequest) toDomain(d Defaults) (spatial.ObservationSet, spatial.AnalysisRequest, error) {
	dataType, err := spatial.ParseDataType(r.DataType)
	if err != nil {
		return nil, spatial.AnalysisRequest{}, err
	}
	definition, err := spatial.ParseNeighborDefinition(r.NeighborDefinition)
	if err != nil {
		return nil, spatial.AnalysisRequest{}, err
	}

	set := make(spatial.ObservationSet, len(r.Observations))
	for i, o := range r.Observations {
		set[i] = spatial.Observation{
			ID:         o.ID,
			Coordinate: orb.Point{*o.X, *o.Y},
			RawValue:   *o.Value,
		}
	}

	req := spatial.AnalysisRequest{
		DataType: dataType,
		Neighbors: spatial.NeighborParams{
			Definition: definition,
			K:          r.K,
			Radius:     r.Radius,
		},
		SignificanceLevel: d.SignificanceLevel,
		Permutations:      d.Permutations,
		RunGlobal:         true,
		RunLocal:          true,
		Seed:              d.Seed,
		Timeout:           d.Timeout,
	}
	if r.SignificanceLevel != nil {
		req.SignificanceLevel = *r.SignificanceLevel
	}
	if r.Permutations != nil {
		req.Permutations = *r.Permutations
	}
	if r.RunGlobal != nil {
		req.RunGlobal = *r.RunGlobal
	}
	if r.RunLocal != nil {
		req.RunLocal = *r.RunLocal
	}
	if r.Seed != nil {
		req.Seed = *r.Seed
	}
	if r.TimeoutSeconds != nil {
		req.Timeout = time.Duration(*r.TimeoutSeconds * float64(time.Second))
	}
	return set, req, nil
}

// AnalysisSummary is one entry of GET /api/v1/analyses
type AnalysisSummary struct {
	ID               string                  `json:"id"`
	CreatedAt        time.Time               `json:"created_at"`
	Observations     int                     `json:"observations"`
	Neighbors        spatial.NeighborParams  `json:"neighbors"`
	MoranI           *float64                `json:"moran_i,omitempty"`
	PValue           *float64                `json:"p_value,omitempty"`
	Interpretation   spatial.Interpretation  `json:"interpretation,omitempty"`
	SignificantLocal int                     `json:"significant_local"`
	TruncatedLocal   int                     `json:"truncated_local,omitempty"`
	PatternCounts    map[spatial.Pattern]int `json:"pattern_counts,omitempty"`
}

func summarizeResult(r *spatial.AnalysisResult) AnalysisSummary {
	s := AnalysisSummary{
		ID:           r.ID.String(),
		CreatedAt:    r.CreatedAt.Time(),
		Observations: len(r.Observations),
		Neighbors:    r.Weights.Definition,
	}
	if r.Moran != nil {
		i, p := r.Moran.I, r.Moran.PValue
		s.MoranI = &i
		s.PValue = &p
		s.Interpretation = r.Moran.Interpretation
	}
	if len(r.Lisa) > 0 {
		s.SignificantLocal = r.SignificantCount()
		s.TruncatedLocal = r.TruncatedLisaCount()
		s.PatternCounts = r.PatternCounts()
	}
	return s
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
