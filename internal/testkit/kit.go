package testkit

import (
	"context"
	"math/rand"
	"sync"

	"spatialstat/adapters/stats/autocorr"
	"spatialstat/adapters/stats/transform"
	"spatialstat/adapters/weights"
	"spatialstat/app"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/ports"
)

// TestKit wires the production analysis pipeline around a deterministic RNG
type TestKit struct {
	rng    *RNGAdapter
	logger *internal.Logger
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{rng: &RNGAdapter{}, logger: internal.NewNopLogger()}
}

// WithLogger replaces the kit's silent logger
func (t *TestKit) WithLogger(logger *internal.Logger) *TestKit {
	t.logger = logger
	return t
}

// RNGAdapter returns an RNG adapter
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return t.rng
}

// Logger returns the logger handed to services built by the kit
func (t *TestKit) Logger() *internal.Logger {
	return t.logger
}

// AnalysisService returns a fully wired service using the kit's RNG
func (t *TestKit) AnalysisService(opts ...app.ServiceOption) *app.AnalysisService {
	return app.NewAnalysisService(
		transform.Transformer{},
		weights.NewBuilder(),
		autocorr.NewGlobalEstimator(t.rng),
		autocorr.NewLocalEstimator(t.rng),
		append([]app.ServiceOption{app.WithLogger(t.logger)}, opts...)...,
	)
}

// DefaultRequest is a continuous-value request running both analyses with
// a fixed seed
func DefaultRequest(neighbors spatial.NeighborParams) spatial.AnalysisRequest {
	return spatial.AnalysisRequest{
		DataType:          spatial.DataTypeContinuous,
		Neighbors:         neighbors,
		SignificanceLevel: 0.05,
		Permutations:      199,
		RunGlobal:         true,
		RunLocal:          true,
		Seed:              42,
	}
}

// RNGAdapter implements the RNGPort interface for testing
type RNGAdapter struct{}

// Stream creates a deterministic RNG stream for one unit of permutation work
func (r *RNGAdapter) Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := baseSeed
	for _, part := range []string{runID, stageName, key} {
		if part != "" {
			seed = seed*31 + int64(hashString(part))
		}
	}
	return rand.New(rand.NewSource(seed)), nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}

// RecordingSink collects progress events for assertions
type RecordingSink struct {
	mu     sync.Mutex
	events []spatial.ProgressEvent
}

// Publish implements ports.ProgressSink
func (s *RecordingSink) Publish(event spatial.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything published so far
func (s *RecordingSink) Events() []spatial.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spatial.ProgressEvent(nil), s.events...)
}

// Stages returns the stage of every published event in order
func (s *RecordingSink) Stages() []spatial.Stage {
	events := s.Events()
	stages := make([]spatial.Stage, len(events))
	for i, e := range events {
		stages[i] = e.Stage
	}
	return stages
}
