// Package chance holds the random draws shared by simulation components.
package chance

import (
	"math"
	"math/rand/v2"
)

// Process describes a mean-time-between-events trial: on average one event
// every MTB*Unit ticks, checked over a window of Check ticks.
type Process struct {
	MTB   float64 `yaml:"mtb" json:"mtb"`
	Unit  float64 `yaml:"unit" json:"unit"`
	Check float64 `yaml:"check" json:"check"`
}

// Probability is the chance of at least one event in p.Check ticks.
func (p Process) Probability() float64 {
	return Probability(p.MTB, p.Unit, p.Check)
}

// Occurs draws one trial of p from rng.
func (p Process) Occurs(rng *rand.Rand) bool {
	return MTBEventOccurs(rng, p.MTB, p.Unit, p.Check)
}

// Probability returns 1 - exp(-check / (mtb*unit)), the chance that a Poisson
// process with mean interval mtb*unit fires at least once within check ticks.
// mtb of +Inf never fires and mtb <= 0 always fires; a non-positive unit or
// check never fires.
func Probability(mtb, unit, check float64) float64 {
	switch {
	case math.IsInf(mtb, 1), math.IsNaN(mtb):
		return 0
	case mtb <= 0:
		return 1
	case unit <= 0, check <= 0, math.IsNaN(unit), math.IsNaN(check):
		return 0
	}
	rate := check / (mtb * unit)
	return -math.Expm1(-rate)
}

// MTBEventOccurs draws whether an event with the given mean time between
// events happens within check ticks.
func MTBEventOccurs(rng *rand.Rand, mtb, unit, check float64) bool {
	p := Probability(mtb, unit, check)
	switch p {
	case 0:
		return false
	case 1:
		return true
	}
	return rng.Float64() < p
}

// NewSource returns the PCG source used for world RNGs. Its state can be
// saved with MarshalBinary and reloaded with UnmarshalBinary.
func NewSource(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// IntRange returns a value in [lo, hi].
func IntRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
