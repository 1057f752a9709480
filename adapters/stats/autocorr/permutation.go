package autocorr

import (
	"math"
	"runtime"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// MaxGlobalPermutations caps the global test; each trial is an O(n²) double sum.
	MaxGlobalPermutations = 199

	// MaxLocalPermutations caps each observation's local test, which runs n times.
	MaxLocalPermutations = 99

	// globalChunkSize is the number of global trials drawn from one RNG stream.
	// Chunking is independent of the worker count so results do not depend on
	// the machine.
	globalChunkSize = 25

	// degenerateTolerance is the relative spread below which values count as identical
	degenerateTolerance = 1e-12

	// minValidShare is the fraction of trials that must yield a finite statistic
	minValidShare = 0.5
)

// Option configures an estimator
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of concurrent permutation workers
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// center subtracts the mean. When every value is the same up to rounding the
// centered vector is returned as exact zeros and degenerate is true.
func center(values []float64) (y []float64, degenerate bool) {
	mean := stat.Mean(values, nil)
	y = make([]float64, len(values))
	scale := 1.0
	spread := 0.0
	for i, v := range values {
		y[i] = v - mean
		scale = math.Max(scale, math.Abs(v))
		spread = math.Max(spread, math.Abs(y[i]))
	}
	if spread <= degenerateTolerance*scale {
		for i := range y {
			y[i] = 0
		}
		return y, true
	}
	return y, false
}

// empiricalPValue is the two-sided permutation p-value. The tail is the side
// of the null on which the observed value lies relative to pivot.
func empiricalPValue(observed, pivot float64, null []float64) float64 {
	if len(null) == 0 {
		return 1
	}
	extreme := 0
	if observed >= pivot {
		for _, v := range null {
			if v >= observed {
				extreme++
			}
		}
	} else {
		for _, v := range null {
			if v <= observed {
				extreme++
			}
		}
	}
	return math.Min(2*float64(extreme)/float64(len(null)), 1)
}

// nullMoments returns the mean and population variance of the null distribution
func nullMoments(null []float64) (mean, variance float64) {
	if len(null) == 0 {
		return 0, 0
	}
	if len(null) == 1 {
		return null[0], 0
	}
	return stat.PopMeanVariance(null, nil)
}

// zScore standardizes observed against center; a flat null yields 0
func zScore(observed, center, variance float64) float64 {
	if !(variance > 0) {
		return 0
	}
	return (observed - center) / math.Sqrt(variance)
}

// normalPValue is the two-sided normal approximation for z
func normalPValue(z float64) float64 {
	if z == 0 {
		return 1
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
