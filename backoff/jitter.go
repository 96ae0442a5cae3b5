package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Source supplies uniformly distributed values in [0, 1).
type Source interface {
	Float64() float64
}

// randSource is the production Source.
type randSource struct{}

func (randSource) Float64() float64 { return rand.Float64() } //nolint:gosec // jitter intentionally uses non-crypto rand

// NewRandSource returns a Source backed by math/rand/v2.
func NewRandSource() Source { return randSource{} }

// SequenceSource replays a fixed sequence of values, cycling when it runs
// out. Use it to make jittered delays deterministic.
type SequenceSource struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequenceSource creates a SequenceSource over values.
func NewSequenceSource(values ...float64) *SequenceSource {
	return &SequenceSource{values: values}
}

// Float64 returns the next value in the sequence, or 0.5 if empty.
func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0.5
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// DefaultJitterFactor is the jitter width used when a policy enables jitter
// without choosing a factor.
const DefaultJitterFactor = 0.3

// Jitter perturbs a delay by a uniform factor in [1-Factor/2, 1+Factor/2].
type Jitter struct {
	Factor float64
	Source Source
}

// NewJitter creates a Jitter. A nil source uses NewRandSource.
func NewJitter(factor float64, src Source) Jitter {
	if src == nil {
		src = NewRandSource()
	}
	return Jitter{Factor: factor, Source: src}
}

// Apply returns d perturbed by the jitter factor. The result is never
// negative and never exceeds maxDelay when maxDelay > 0.
func (j Jitter) Apply(d, maxDelay time.Duration) time.Duration {
	if d <= 0 || j.Factor <= 0 {
		return d
	}
	src := j.Source
	if src == nil {
		src = NewRandSource()
	}
	span := float64(d) * j.Factor
	f := float64(d) - span/2 + src.Float64()*span
	switch {
	case f < 0:
		return 0
	case maxDelay > 0 && f > float64(maxDelay):
		return maxDelay
	case f >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}
