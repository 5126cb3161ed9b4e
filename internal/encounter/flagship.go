// Package encounter implements the flagship fight: an orbital flagship whose
// hull integrity drops as it is hit, that harasses the map while damaged and
// that breaks the controlling faction's assault when destroyed.
package encounter

import (
	"errors"
	"fmt"
	"log"
	"math"
	"slices"

	"flagship/internal/chance"
	"flagship/internal/domain"
	"flagship/internal/sim"
)

var (
	ErrAlreadyActive = errors.New("encounter: already initiated")
	ErrNotActive     = errors.New("encounter: not initiated")
	ErrDestroyed     = errors.New("encounter: flagship already destroyed")
	ErrInvalidDamage = errors.New("encounter: damage must be positive")
)

// State is the phase of the fight, derived from the active flag and health.
type State int

const (
	Dormant State = iota
	ActiveFull
	ActiveDamaged
	Destroyed
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case ActiveFull:
		return "active_full"
	case ActiveDamaged:
		return "active_damaged"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config tunes the fight.
type Config struct {
	ControllingFaction string
	DeserterFaction    string
	AlliedFaction      string

	Cadence int64
	Phase   int64

	Strike    chance.Process
	Slice     chance.Process
	Reinforce chance.Process
	Defector  chance.Process

	DebrisEdgeMargin int
	DebrisMaxDist    int
	SliceMinRadius   int
	SliceMaxRadius   int

	Logger *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// DefaultConfig mirrors the tuning shipped in the default world config.
func DefaultConfig() Config {
	return Config{
		ControllingFaction: "empire",
		DeserterFaction:    "deserters",
		AlliedFaction:      "player",
		Cadence:            30,
		Phase:              1,
		Strike:             chance.Process{MTB: 20, Unit: 60, Check: 30},
		Slice:              chance.Process{MTB: 120, Unit: 60, Check: 30},
		Reinforce:          chance.Process{MTB: 140, Unit: 60, Check: 30},
		Defector:           chance.Process{MTB: 100, Unit: 60, Check: 30},
		DebrisEdgeMargin:   10,
		DebrisMaxDist:      999999,
		SliceMinRadius:     5,
		SliceMaxRadius:     14,
	}
}

// Flagship is one encounter. Controller and cannons are entity ids looked up
// through the site every time they are needed.
type Flagship struct {
	cfg Config

	active          bool
	health          float32
	controller      string
	cannons         []string
	damagedSignal   string
	destroyedSignal string
}

// New returns a dormant encounter.
func New(cfg Config) *Flagship {
	return &Flagship{cfg: cfg}
}

// FromSnapshot restores a persisted encounter. A zero snapshot is dormant.
func FromSnapshot(cfg Config, snap domain.Encounter) *Flagship {
	f := New(cfg)
	f.active = snap.Active
	f.health = snap.FlagshipHealth
	if snap.Controller != nil {
		f.controller = *snap.Controller
	}
	f.cannons = slices.Clone(snap.Cannons)
	f.damagedSignal = snap.ShipDamagedSignal
	f.destroyedSignal = snap.ShipDestroyedSignal
	return f
}

// Snapshot returns the persisted form.
func (f *Flagship) Snapshot() domain.Encounter {
	snap := domain.Encounter{
		Active:              f.active,
		FlagshipHealth:      f.health,
		Cannons:             slices.Clone(f.cannons),
		ShipDamagedSignal:   f.damagedSignal,
		ShipDestroyedSignal: f.destroyedSignal,
	}
	if f.controller != "" {
		id := f.controller
		snap.Controller = &id
	}
	if snap.Cannons == nil {
		snap.Cannons = []string{}
	}
	return snap
}

func (f *Flagship) State() State {
	switch {
	case !f.active:
		return Dormant
	case f.health <= 0:
		return Destroyed
	case f.health >= 1:
		return ActiveFull
	}
	return ActiveDamaged
}

func (f *Flagship) Health() float32 { return f.health }

// Signals returns the damaged and destroyed channel names.
func (f *Flagship) Signals() (damaged, destroyed string) {
	return f.damagedSignal, f.destroyedSignal
}

// Initiate starts the fight at full health and takes a one-time snapshot of
// the cannon control and the cannons present on the map.
func (f *Flagship) Initiate(env sim.Env, damagedSignal, destroyedSignal string) error {
	if f.active {
		return ErrAlreadyActive
	}
	f.active = true
	f.health = 1
	f.damagedSignal = damagedSignal
	f.destroyedSignal = destroyedSignal
	f.controller = ""
	f.cannons = []string{}
	for _, b := range env.Site.Buildings() {
		switch b.Kind {
		case domain.KindCannonControl:
			if f.controller == "" {
				f.controller = b.ID
			}
		case domain.KindZeusCannon:
			f.cannons = append(f.cannons, b.ID)
		}
	}
	return nil
}

// Controller returns the cannon control if it still exists.
func (f *Flagship) Controller(env sim.Env) (domain.Entity, bool) {
	if f.controller == "" {
		return domain.Entity{}, false
	}
	e, ok := env.Site.Entity(f.controller)
	if !ok || e.Kind != domain.KindCannonControl {
		return domain.Entity{}, false
	}
	return e, true
}

// Cannons returns the cannons that still exist, in snapshot order.
func (f *Flagship) Cannons(env sim.Env) []domain.Entity {
	out := make([]domain.Entity, 0, len(f.cannons))
	for _, id := range f.cannons {
		if e, ok := env.Site.Entity(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// CannonsShouldFire is true while the cannon control exists, is controlled and
// the flagship is still up.
func (f *Flagship) CannonsShouldFire(env sim.Env) bool {
	c, ok := f.Controller(env)
	return ok && c.Controlled && f.health > 0
}

// DamageFlagship lowers hull integrity by amount, announces the hit and drops
// a hull chunk near the map center. When integrity reaches zero the fight ends.
func (f *Flagship) DamageFlagship(env sim.Env, amount float32) error {
	switch f.State() {
	case Dormant:
		return ErrNotActive
	case Destroyed:
		return ErrDestroyed
	}
	if !(amount > 0) || math.IsInf(float64(amount), 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDamage, amount)
	}
	ctx := env.Context()
	f.health -= amount
	env.Signals.Publish(ctx, f.damagedSignal)
	if cell, ok := env.Site.FindDropCell(env.Rand, env.Site.Center(), f.cfg.DebrisEdgeMargin, f.cfg.DebrisMaxDist); ok {
		if err := env.Effects.DropDebris(ctx, cell); err != nil {
			f.cfg.logger().Printf("flagship: drop debris at %v: %v", cell, err)
		}
	}
	if f.health <= 0 {
		f.destroy(env)
	}
	return nil
}

func (f *Flagship) destroy(env sim.Env) {
	ctx := env.Context()
	logger := f.cfg.logger()

	for _, g := range env.Site.Groups() {
		if g.Faction != f.cfg.ControllingFaction {
			continue
		}
		if !g.HasDirective(domain.DirectiveFlee) {
			if err := env.Site.AddDirective(g.ID, domain.DirectiveFlee); err != nil {
				logger.Printf("flagship: add flee to group %s: %v", g.ID, err)
				continue
			}
		}
		if err := env.Site.SetDirective(g.ID, domain.DirectiveFlee); err != nil {
			logger.Printf("flagship: flee group %s: %v", g.ID, err)
			continue
		}
		if err := env.Effects.Notify(ctx, fmt.Sprintf("Fighters of %s are fleeing.", g.Faction)); err != nil {
			logger.Printf("flagship: notify: %v", err)
		}
	}

	deserters := env.Site.Pawns(f.cfg.DeserterFaction)
	if len(deserters) > 0 {
		ids := make([]string, 0, len(deserters))
		for _, d := range deserters {
			if err := env.Site.RemoveFromGroup(d.ID); err != nil {
				logger.Printf("flagship: release deserter %s: %v", d.ID, err)
			}
			ids = append(ids, d.ID)
		}
		if _, err := env.Site.NewGroup(f.cfg.DeserterFaction, domain.DirectiveExitMap, ids); err != nil {
			logger.Printf("flagship: regroup deserters: %v", err)
		}
	}

	allies := env.Site.Pawns(f.cfg.AlliedFaction)
	names := make([]string, 0, len(allies))
	for _, a := range allies {
		names = append(names, a.Name)
	}
	if err := env.Effects.ShowSummary(ctx, "The flagship has fallen.", names); err != nil {
		logger.Printf("flagship: summary: %v", err)
	}

	env.Signals.Publish(ctx, f.destroyedSignal)
}
