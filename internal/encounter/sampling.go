package encounter

import (
	"fmt"
	"math"

	"flagship/internal/chance"
	"flagship/internal/domain"
	"flagship/internal/sim"
)

type process struct {
	name string
	p    chance.Process
	fire func(f *Flagship, env sim.Env) error
}

func (f *Flagship) processes() []process {
	return []process{
		{"strike", f.cfg.Strike, (*Flagship).strike},
		{"slice", f.cfg.Slice, (*Flagship).slice},
		{"reinforce", f.cfg.Reinforce, (*Flagship).reinforce},
		{"defector", f.cfg.Defector, (*Flagship).defector},
	}
}

// Tick samples the harassment processes. It only runs while the flagship is
// damaged but still up, on ticks where tick % Cadence == Phase. Each process
// is an independent trial; several may fire on the same tick.
func (f *Flagship) Tick(env sim.Env) {
	if f.State() != ActiveDamaged || !f.onCadence(env.Tick) {
		return
	}
	for _, pr := range f.processes() {
		if !pr.p.Occurs(env.Rand) {
			continue
		}
		if err := f.fireSafely(pr, env); err != nil {
			f.cfg.logger().Printf("flagship: %s at tick %d: %v", pr.name, env.Tick, err)
		}
	}
}

func (f *Flagship) onCadence(tick int64) bool {
	if f.cfg.Cadence <= 0 {
		return true
	}
	return tick%f.cfg.Cadence == f.cfg.Phase
}

func (f *Flagship) fireSafely(pr process, env sim.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return pr.fire(f, env)
}

func (f *Flagship) strike(env sim.Env) error {
	targets := env.Site.HostilesTo(f.cfg.ControllingFaction)
	if len(targets) == 0 {
		return nil
	}
	target := targets[env.Rand.IntN(len(targets))]
	return env.Effects.Strike(env.Context(), target.Cell)
}

func (f *Flagship) slice(env sim.Env) error {
	from := env.Site.RandomCell(env.Rand)
	dist := float64(chance.IntRange(env.Rand, f.cfg.SliceMinRadius, f.cfg.SliceMaxRadius))
	angle := env.Rand.Float64() * 2 * math.Pi
	offset := domain.Cell{
		X: int(math.Round(dist * math.Cos(angle))),
		Y: int(math.Round(dist * math.Sin(angle))),
	}
	return env.Effects.Slice(env.Context(), from, from.Add(offset))
}

func (f *Flagship) reinforce(env sim.Env) error {
	at := env.Site.LandingSpot(env.Rand)
	return env.Effects.DropReinforcements(env.Context(), f.cfg.ControllingFaction, at)
}

func (f *Flagship) defector(env sim.Env) error {
	at := env.Site.RandomEdgeCell(env.Rand)
	return env.Effects.DropDefector(env.Context(), f.cfg.DeserterFaction, at)
}
