package rng

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"time"
)

// Adapter implements ports.RNGPort. Every stream gets its own *rand.Rand
// seeded from an FNV-1a hash of its coordinates, so concurrent workers never
// share generator state.
type Adapter struct {
	now func() time.Time
}

// NewAdapter creates the production RNG adapter
func NewAdapter() *Adapter {
	return &Adapter{now: time.Now}
}

// Stream creates an independent generator for one unit of work. A zero
// baseSeed is replaced by the current time.
func (a *Adapter) Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(a.derive(baseSeed, runID, stageName, key))), nil
}

func (a *Adapter) derive(seed int64, parts ...string) int64 {
	if seed == 0 {
		seed = a.now().UnixNano()
	}
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}
