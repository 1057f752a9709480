package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for permutation tests
type RNGPort interface {
	// Stream creates an independent stream for one unit of permutation work
	// (a chunk of global trials, or one observation's local trials). The same
	// (runID, stage, key, baseSeed) always yields the same sequence, so results
	// do not depend on how work is scheduled across goroutines.
	Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error)
}
