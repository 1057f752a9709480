package app

import (
	"context"
	"fmt"
	"time"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/ports"
)

// streamNamespace prefixes every permutation stream of a run. It is constant
// so that the same seed reproduces the same result across runs.
const streamNamespace = "analysis"

// AnalysisService runs one spatial autocorrelation analysis end to end:
// transform, weights, Global Moran's I, LISA, assembly
type AnalysisService struct {
	transformer ports.ValueTransformer
	weights     ports.WeightsBuilder
	global      ports.GlobalEstimator
	local       ports.LocalEstimator

	logger          *internal.Logger
	maxObservations int
	now             func() time.Time
}

// ServiceOption configures an AnalysisService
type ServiceOption func(*AnalysisService)

// WithLogger sets the service logger
func WithLogger(logger *internal.Logger) ServiceOption {
	return func(s *AnalysisService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxObservations rejects sets larger than n; 0 disables the limit
func WithMaxObservations(n int) ServiceOption {
	return func(s *AnalysisService) { s.maxObservations = n }
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(
	transformer ports.ValueTransformer,
	weights ports.WeightsBuilder,
	global ports.GlobalEstimator,
	local ports.LocalEstimator,
	opts ...ServiceOption,
) *AnalysisService {
	s := &AnalysisService{
		transformer: transformer,
		weights:     weights,
		global:      global,
		local:       local,
		logger:      internal.NewNopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run validates the request and the observations, then executes the selected
// analyses. sink may be nil. Any failure is terminal: no partial result is
// returned alongside an error.
func (s *AnalysisService) Run(ctx context.Context, set spatial.ObservationSet, req spatial.AnalysisRequest, sink ports.ProgressSink) (*spatial.AnalysisResult, error) {
	return s.RunWithID(ctx, core.NewAnalysisID(), set, req, sink)
}

// RunWithID is Run with a caller-chosen analysis ID, for callers that hand the
// ID out before the analysis completes
func (s *AnalysisService) RunWithID(ctx context.Context, id core.AnalysisID, set spatial.ObservationSet, req spatial.AnalysisRequest, sink ports.ProgressSink) (*spatial.AnalysisResult, error) {
	publish := func(stage spatial.Stage, percent float64, format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		s.logger.Debug("%s (%.0f%%): %s", stage, percent, msg)
		if sink != nil {
			sink.Publish(spatial.ProgressEvent{Stage: stage, Percent: percent, Message: msg})
		}
	}
	startTime := s.now()

	publish(spatial.StageValidate, 5, "validating %d observations", len(set))
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(req.DataType); err != nil {
		return nil, err
	}
	if s.maxObservations > 0 && len(set) > s.maxObservations {
		return nil, core.NewValidationError("observations",
			fmt.Sprintf("%d observations exceed the limit of %d", len(set), s.maxObservations))
	}
	if req.Seed == 0 {
		req.Seed = s.now().UnixNano()
	}

	publish(spatial.StageWeights, 20, "building %s neighbor matrix", req.Neighbors.Definition)
	w, err := s.weights.Build(ctx, set.Coordinates(), req.Neighbors)
	if err != nil {
		return nil, fmt.Errorf("building weights: %w", err)
	}
	if w.FallbackUsed() {
		k := w.Definition().K
		s.logger.Warn("queen contiguity unavailable for %d points; using %d nearest neighbors", len(set), k)
		publish(spatial.StageFallback, 20, "queen contiguity unavailable, using k-nearest neighbors (k=%d)", k)
	}
	if isolated := w.Isolated(); len(isolated) > 0 {
		s.logger.Info("%d of %d observations have no neighbors", len(isolated), len(set))
	}

	publish(spatial.StageTransform, 35, "applying %s transform", req.DataType)
	raw := set.RawValues()
	transformed := s.transformer.Transform(raw, req.DataType)
	prepared := make(spatial.ObservationSet, len(set))
	for i, o := range set {
		o.TransformedValue = transformed[i]
		prepared[i] = o
	}

	permCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		permCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	params := spatial.PermutationParams{
		Permutations:      req.Permutations,
		SignificanceLevel: req.SignificanceLevel,
		Seed:              req.Seed,
		RunID:             streamNamespace,
	}

	var moran *spatial.MoranResult
	var moranErr error
	if req.RunGlobal {
		publish(spatial.StageGlobal, 50, "computing global Moran's I")
		moran, moranErr = s.global.Estimate(permCtx, transformed, w, params)
		if moranErr == nil && moran.Truncated {
			s.logger.Warn("global permutation test stopped after %d of %d trials", moran.ValidPermutations, moran.RequestedPermutations)
		}
	}

	var lisa []spatial.LisaResult
	var lisaErr error
	if req.RunLocal && moranErr == nil {
		publish(spatial.StageLocal, 70, "computing local indicators for %d observations", len(set))
		lisa, lisaErr = s.local.Estimate(permCtx, raw, transformed, w, params)
	}

	result, err := spatial.AssembleResult(id, req, prepared, moran, moranErr, lisa, lisaErr, w.Summary())
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	if result.Moran != nil {
		s.logger.Info("analysis %s: I=%.4f p=%.4f (%s), %d valid permutations",
			result.ID, result.Moran.I, result.Moran.PValue, result.Moran.Interpretation, result.Moran.ValidPermutations)
	}
	if result.Lisa != nil {
		s.logger.Info("analysis %s: %d of %d observations significant at %.3f",
			result.ID, result.SignificantCount(), len(result.Lisa), req.SignificanceLevel)
		if truncated := result.TruncatedLisaCount(); truncated > 0 {
			s.logger.Warn("local permutation test stopped early for %d of %d observations", truncated, len(result.Lisa))
		}
	}
	publish(spatial.StageDone, 100, "analysis completed in %s", s.now().Sub(startTime).Round(time.Millisecond))
	return result, nil
}
