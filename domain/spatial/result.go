package spatial

import (
	"spatialstat/domain/core"
)

// Pattern is the four-quadrant LISA classification of one observation
type Pattern string

const (
	PatternHighHigh       Pattern = "High-High"
	PatternLowLow         Pattern = "Low-Low"
	PatternHighLow        Pattern = "High-Low"
	PatternLowHigh        Pattern = "Low-High"
	PatternNotSignificant Pattern = "Not significant"
)

// Patterns lists every label in report order
var Patterns = []Pattern{
	PatternHighHigh,
	PatternLowLow,
	PatternHighLow,
	PatternLowHigh,
	PatternNotSignificant,
}

// ClassifyPattern assigns the LISA label from untransformed values.
// Observations sitting exactly on the mean on either axis stay NotSignificant.
func ClassifyPattern(pValue, value, lag, mean, alpha float64) Pattern {
	if pValue > alpha {
		return PatternNotSignificant
	}
	switch {
	case value > mean && lag > mean:
		return PatternHighHigh
	case value < mean && lag < mean:
		return PatternLowLow
	case value > mean && lag < mean:
		return PatternHighLow
	case value < mean && lag > mean:
		return PatternLowHigh
	}
	return PatternNotSignificant
}

// Interpretation summarizes the global verdict
type Interpretation string

const (
	InterpretationPositive Interpretation = "positive_autocorrelation"
	InterpretationNegative Interpretation = "negative_autocorrelation"
	InterpretationRandom   Interpretation = "random"
)

// MoranResult is the Global Moran's I outcome
type MoranResult struct {
	I                     float64        `json:"i"`
	ExpectedI             float64        `json:"expected_i"`
	VarianceI             float64        `json:"variance_i"`
	ZScore                float64        `json:"z_score"`
	PValue                float64        `json:"p_value"`
	NormalPValue          float64        `json:"normal_p_value"`
	ValidPermutations     int            `json:"valid_permutations"`
	RequestedPermutations int            `json:"requested_permutations"`
	SignificanceLevel     float64        `json:"significance_level"`
	Truncated             bool           `json:"truncated,omitempty"`
	Interpretation        Interpretation `json:"interpretation"`
}

// Interpret derives the verdict from the permutation p-value
func Interpret(i, expected, pValue, alpha float64) Interpretation {
	if pValue >= alpha {
		return InterpretationRandom
	}
	if i > expected {
		return InterpretationPositive
	}
	return InterpretationNegative
}

// LisaResult is the local statistic of one observation
type LisaResult struct {
	LocalI            float64 `json:"local_i"`
	ZScore            float64 `json:"z_score"`
	PValue            float64 `json:"p_value"`
	Pattern           Pattern `json:"pattern"`
	SpatialLag        float64 `json:"spatial_lag"`
	ValidPermutations int     `json:"valid_permutations"`
	// Truncated is set when the run was cancelled before this observation
	// attempted its full trial count
	Truncated bool `json:"truncated,omitempty"`
}

// Significant reports whether the observation passed the raw per-observation threshold
func (r LisaResult) Significant(alpha float64) bool {
	return r.PValue <= alpha
}

// AnalysisResult bundles everything one run produced. It is never mutated
// after AssembleResult returns.
type AnalysisResult struct {
	ID                core.AnalysisID `json:"id"`
	Request           AnalysisRequest `json:"request"`
	Observations      ObservationSet  `json:"observations"`
	Moran             *MoranResult    `json:"moran,omitempty"`
	Lisa              []LisaResult    `json:"lisa,omitempty"`
	OriginalValues    []float64       `json:"original_values"`
	TransformedValues []float64       `json:"transformed_values"`
	Weights           WeightsSummary  `json:"weights"`
	CreatedAt         core.Timestamp  `json:"created_at"`
}

// AssembleResult combines the estimator outputs under id, generating one when
// id is empty. The first non-nil error is returned unchanged and no partial
// result is produced.
func AssembleResult(
	id core.AnalysisID,
	req AnalysisRequest,
	set ObservationSet,
	moran *MoranResult, moranErr error,
	lisa []LisaResult, lisaErr error,
	weights WeightsSummary,
) (*AnalysisResult, error) {
	if moranErr != nil {
		return nil, moranErr
	}
	if lisaErr != nil {
		return nil, lisaErr
	}
	if lisa != nil && len(lisa) != len(set) {
		return nil, core.NewValidationError("lisa", "result is not index-aligned with the observations")
	}

	original := make([]float64, len(set))
	transformed := make([]float64, len(set))
	observations := make(ObservationSet, len(set))
	for i, o := range set {
		original[i] = o.RawValue
		transformed[i] = o.TransformedValue
		observations[i] = o
	}

	var lisaCopy []LisaResult
	if lisa != nil {
		lisaCopy = append([]LisaResult(nil), lisa...)
	}
	var moranCopy *MoranResult
	if moran != nil {
		m := *moran
		moranCopy = &m
	}

	if id == "" {
		id = core.NewAnalysisID()
	}
	return &AnalysisResult{
		ID:                id,
		Request:           req,
		Observations:      observations,
		Moran:             moranCopy,
		Lisa:              lisaCopy,
		OriginalValues:    original,
		TransformedValues: transformed,
		Weights:           weights,
		CreatedAt:         core.Now(),
	}, nil
}

// PatternCounts tallies LISA labels, always including every label
func (r *AnalysisResult) PatternCounts() map[Pattern]int {
	counts := make(map[Pattern]int, len(Patterns))
	for _, p := range Patterns {
		counts[p] = 0
	}
	for _, l := range r.Lisa {
		counts[l.Pattern]++
	}
	return counts
}

// TruncatedLisaCount returns how many observations stopped short of their trial count
func (r *AnalysisResult) TruncatedLisaCount() int {
	count := 0
	for _, l := range r.Lisa {
		if l.Truncated {
			count++
		}
	}
	return count
}

// SignificantCount returns how many observations passed the local threshold
func (r *AnalysisResult) SignificantCount() int {
	count := 0
	for _, l := range r.Lisa {
		if l.Significant(r.Request.SignificanceLevel) {
			count++
		}
	}
	return count
}
