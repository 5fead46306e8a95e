// Package dp implements the differential-privacy primitives applied to
// federated client updates: L2 clipping and calibrated Gaussian noise.
package dp

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand/v2"
	"sync"
)

// Processor adds Gaussian noise from an owned random source. The source is
// injectable so tests can seed it; the production constructor seeds from
// crypto-quality entropy.
type Processor struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// New returns a Processor seeded from the operating system's entropy pool.
func New() *Processor {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// Zero seeds still yield a valid PCG stream.
		return NewSeeded(0, 0)
	}
	return NewSeeded(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// NewSeeded returns a Processor with a deterministic PCG source.
func NewSeeded(seed1, seed2 uint64) *Processor {
	return &Processor{rng: mrand.New(mrand.NewPCG(seed1, seed2))}
}

// Clip scales v down to L2 norm c when it exceeds c; otherwise v is returned
// unchanged. Clipping is idempotent.
func Clip(v []float64, c float64) []float64 {
	norm := l2Norm(v)
	if norm <= c || norm == 0 {
		return v
	}
	scale := c / norm
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * scale
	}
	return out
}

// AddNoise returns v plus independent N(0, sigma^2) noise per coordinate.
func (p *Processor) AddNoise(v []float64, sigma float64) []float64 {
	out := make([]float64, len(v))
	if sigma == 0 {
		copy(out, v)
		return out
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range v {
		out[i] = x + p.rng.NormFloat64()*sigma
	}
	return out
}

// Apply clips v to clipNorm and adds Gaussian noise with
// sigma = noiseMultiplier * clipNorm.
func (p *Processor) Apply(v []float64, clipNorm, noiseMultiplier float64) []float64 {
	return p.AddNoise(Clip(v, clipNorm), noiseMultiplier*clipNorm)
}

// Validate reports whether v is a finite real vector of length exactly dim.
func Validate(v []float64, dim int) bool {
	if len(v) != dim {
		return false
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func l2Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
