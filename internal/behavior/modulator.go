// Package behavior provides the timestep gates and samplers that modulate
// facility behaviour over a simulation run.
//
// All randomness flows through a Modulator owned by the simulation run.
// There is no package-level RNG state: two runs in the same process each
// hold their own Modulator and never observe each other's draws.
package behavior

import (
	"math"
	"math/rand/v2"
	"time"
)

// TimeSeed selects a wall-clock derived seed instead of a fixed one.
const TimeSeed = -1

// pcgStream is the second PCG word. Fixed so that a seed alone determines
// the sequence.
const pcgStream = 0x5e9a_f10e

// Modulator is the run-scoped pseudo-random source.
//
// The source is seeded lazily by the first caller that needs a draw and is
// never reseeded afterwards; later callers passing a different seed get the
// already-seeded stream. A run is single-threaded, so Modulator does no
// locking.
type Modulator struct {
	seeded bool
	seed   int64
	rng    *rand.Rand
	now    func() time.Time
}

// NewModulator returns an unseeded modulator.
func NewModulator() *Modulator {
	return &Modulator{now: time.Now}
}

// EnsureSeeded seeds the source if no caller has done so yet.
// seed == TimeSeed derives the seed from the wall clock.
// Returns true if this call performed the seeding.
func (m *Modulator) EnsureSeeded(seed int) bool {
	if m.seeded {
		return false
	}
	s := int64(seed)
	if seed == TimeSeed {
		s = m.now().Unix()
	}
	m.seed = s
	m.rng = rand.New(rand.NewPCG(uint64(s), pcgStream))
	m.seeded = true
	return true
}

// Seeded reports whether the source has been seeded.
func (m *Modulator) Seeded() bool {
	return m.seeded
}

// Seed returns the effective seed. Zero until seeded.
func (m *Modulator) Seed() int64 {
	return m.seed
}

// uniform draws from [0,1).
func (m *Modulator) uniform() float64 {
	return m.rng.Float64()
}

// EveryPeriodic reports whether time falls on an interval boundary.
// Non-positive intervals never fire.
func EveryPeriodic(time, interval int) bool {
	if interval <= 0 {
		return false
	}
	return time%interval == 0
}

// EveryRandomTrigger fires with probability close to 1/|frequency|.
//
// A single uniform draw u yields t = 1 + int(u*frequency), and the gate fires
// when t equals frequency/2 under integer division. The conversion truncates
// toward zero, so negative frequencies work with the same odds. For small
// frequencies the odds are biased (frequency 1 can never fire).
func (m *Modulator) EveryRandomTrigger(frequency, seed int) bool {
	if frequency == 0 {
		return false
	}
	m.EnsureSeeded(seed)

	midpoint := frequency / 2
	t := 1 + int(m.uniform()*float64(frequency))
	return t == midpoint
}

// SampleNormal draws from N(mean, sigma²) with the polar Box–Muller method.
//
// sigma <= 0 returns mean without consuming a draw. Each call runs its own
// rejection loop; the paired deviate is discarded rather than cached, so a
// fixed seed yields one sequence regardless of call interleaving.
func (m *Modulator) SampleNormal(mean, sigma float64, seed int) float64 {
	if sigma <= 0 {
		return mean
	}
	m.EnsureSeeded(seed)

	var x, y, r float64
	for {
		x = 2*m.uniform() - 1
		y = 2*m.uniform() - 1
		r = x*x + y*y
		if r != 0 && r <= 1 {
			break
		}
	}
	d := math.Sqrt(-2 * math.Log(r) / r)
	return mean + sigma*x*d
}
