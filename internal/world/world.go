// Package world hosts one simulation: the entity index, coordination groups,
// map geometry, the shared RNG, the deferred-action scheduler and the flagship
// encounter. It is single-threaded and advanced one tick at a time by Step.
package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"flagship/internal/chance"
	"flagship/internal/command"
	"flagship/internal/config"
	"flagship/internal/domain"
	"flagship/internal/encounter"
	"flagship/internal/events"
	"flagship/internal/schedule"
	"flagship/internal/signal"
	"flagship/internal/sim"
)

var (
	ErrEntityNotFound   = errors.New("world: entity not found")
	ErrGroupNotFound    = errors.New("world: group not found")
	ErrUnknownDirective = errors.New("world: directive not attached to group")
	ErrOutOfBounds      = errors.New("world: cell out of bounds")
	ErrUnknownKind      = errors.New("world: unknown entity kind")
	ErrCannonsOffline   = errors.New("world: cannons cannot fire")
)

// Turn is what a scheduled action receives when it runs.
type Turn struct {
	Ctx   context.Context
	Tick  int64
	World *World
}

type World struct {
	cfg    *config.Config
	logger *log.Logger

	meta domain.World
	src  *rand.PCG
	rng  *rand.Rand

	entities   map[string]domain.Entity
	order      []string
	groups     map[string]domain.Group
	groupOrder []string

	sched     *schedule.Scheduler[Turn]
	flagship  *encounter.Flagship
	tickables []sim.Tickable
	signals   *signal.Dispatcher
	watched   map[string]bool

	pending []events.Record
}

// New creates an empty world from cfg. The visibility decay is queued for its
// first run.
func New(cfg *config.Config, logger *log.Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := build(cfg, logger, domain.World{
		ID:         cfg.World.ID,
		Seed:       cfg.World.Seed,
		Width:      cfg.World.Width,
		Height:     cfg.World.Height,
		Visibility: cfg.Visibility.Initial,
	}, chance.NewSource(cfg.World.Seed))
	w.flagship = encounter.New(w.encounterConfig())
	w.tickables = append(w.tickables, w.flagship)
	if _, err := w.sched.Schedule(decayVisibility, cfg.Visibility.DecayInterval); err != nil {
		return nil, err
	}
	return w, nil
}

// Restore rebuilds a world from a save. Scheduled entries keep their order;
// entries whose action is no longer registered stay queued and are dropped
// with command.ErrResolution when they come due.
func Restore(cfg *config.Config, save domain.Save, logger *log.Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := chance.NewSource(save.World.Seed)
	if len(save.World.RNGState) > 0 {
		if err := src.UnmarshalBinary(save.World.RNGState); err != nil {
			return nil, fmt.Errorf("restore rng: %w", err)
		}
	}
	w := build(cfg, logger, save.World, src)
	for _, e := range save.Entities {
		w.entities[e.ID] = e
		w.order = append(w.order, e.ID)
	}
	for _, g := range save.Groups {
		g.Directives = slices.Clone(g.Directives)
		w.groups[g.ID] = g
		w.groupOrder = append(w.groupOrder, g.ID)
	}
	entries := make([]schedule.Entry, 0, len(save.Schedule))
	for _, a := range save.Schedule {
		ref, err := command.ParseRef(a.Command)
		if err != nil {
			return nil, fmt.Errorf("restore scheduled action %d: %w", a.Seq, err)
		}
		entries = append(entries, schedule.Entry{Ref: ref, Tick: a.TargetTick, Seq: a.Seq})
	}
	w.sched.Restore(entries)
	w.flagship = encounter.FromSnapshot(w.encounterConfig(), save.Encounter)
	w.tickables = append(w.tickables, w.flagship)
	w.watchFlagship()
	return w, nil
}

func build(cfg *config.Config, logger *log.Logger, meta domain.World, src *rand.PCG) *World {
	if logger == nil {
		logger = log.Default()
	}
	w := &World{
		cfg:      cfg,
		logger:   logger,
		meta:     meta,
		src:      src,
		rng:      rand.New(src),
		entities: make(map[string]domain.Entity),
		groups:   make(map[string]domain.Group),
		watched:  make(map[string]bool),
	}
	w.sched = schedule.New(actions, logger)
	w.signals = signal.NewDispatcher(w, logger)
	return w
}

func (w *World) encounterConfig() encounter.Config {
	ec := w.cfg.EncounterConfig()
	ec.Logger = w.logger
	return ec
}

// Export returns the full persisted form of the world.
func (w *World) Export() (domain.Save, error) {
	state, err := w.src.MarshalBinary()
	if err != nil {
		return domain.Save{}, fmt.Errorf("save rng: %w", err)
	}
	meta := w.meta
	meta.RNGState = state
	save := domain.Save{
		World:     meta,
		Entities:  w.Entities(),
		Groups:    w.Groups(),
		Schedule:  w.ScheduledActions(),
		Encounter: w.flagship.Snapshot(),
	}
	return save, nil
}

// Step advances one tick: the scheduler drains everything now due, then every
// tickable component runs.
func (w *World) Step(ctx context.Context) schedule.Report {
	w.meta.Tick++
	tick := w.meta.Tick
	report := w.sched.Advance(Turn{Ctx: ctx, Tick: tick, World: w}, tick)
	for _, f := range report.Failures {
		w.record(events.TypeSchedule, f.Entry.Ref.String(), events.EventPayload{
			"dropped":  true,
			"due_tick": f.Entry.Tick,
			"error":    f.Err.Error(),
		})
	}
	env := w.env(ctx)
	for _, t := range w.tickables {
		t.Tick(env)
	}
	return report
}

// AdvanceTo steps until the world reaches tick.
func (w *World) AdvanceTo(ctx context.Context, tick int64) schedule.Report {
	var report schedule.Report
	for w.meta.Tick < tick {
		r := w.Step(ctx)
		report.Executed = append(report.Executed, r.Executed...)
		report.Failures = append(report.Failures, r.Failures...)
	}
	return report
}

func (w *World) env(ctx context.Context) sim.Env {
	return sim.Env{
		Ctx:     ctx,
		Tick:    w.meta.Tick,
		Rand:    w.rng,
		Site:    w,
		Effects: w,
		Signals: w.signals,
	}
}

func (w *World) ID() string { return w.meta.ID }
func (w *World) Tick() int64 { return w.meta.Tick }
func (w *World) Meta() domain.World { return w.meta }
func (w *World) Config() *config.Config { return w.cfg }
func (w *World) Flagship() *encounter.Flagship { return w.flagship }
func (w *World) Signals() *signal.Dispatcher { return w.signals }

// Env returns the environment components see at the current tick.
func (w *World) Env(ctx context.Context) sim.Env { return w.env(ctx) }

// Entities returns every entity in spawn order.
func (w *World) Entities() []domain.Entity {
	out := make([]domain.Entity, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.entities[id])
	}
	return out
}

// ScheduledActions returns the pending queue in run order.
func (w *World) ScheduledActions() []domain.ScheduledAction {
	entries := w.sched.Entries()
	out := make([]domain.ScheduledAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ScheduledAction{Seq: e.Seq, Command: e.Ref.String(), TargetTick: e.Tick})
	}
	return out
}

// DrainEvents returns and clears the events recorded since the last call.
func (w *World) DrainEvents() []events.Record {
	out := w.pending
	w.pending = nil
	return out
}

func (w *World) record(evtType, subject string, payload events.EventPayload) {
	w.pending = append(w.pending, events.Record{Tick: w.meta.Tick, Type: evtType, Subject: subject, Payload: payload})
}

// RecordSignal logs every publish to the event stream.
func (w *World) RecordSignal(_ context.Context, channel string) error {
	w.record(events.TypeSignal, channel, nil)
	return nil
}

func (w *World) nextID(kind string) (string, uint64) {
	w.meta.NextID++
	n := w.meta.NextID
	name := fmt.Sprintf("%s|%s|%d", w.meta.ID, kind, n)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(), n
}

// Spawn places a new entity.
func (w *World) Spawn(kind, faction, name string, at domain.Cell) (domain.Entity, error) {
	switch kind {
	case domain.KindPawn, domain.KindBuilding, domain.KindCannonControl, domain.KindZeusCannon, domain.KindShipChunk:
	default:
		return domain.Entity{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !w.inBounds(at) {
		return domain.Entity{}, fmt.Errorf("%w: %v", ErrOutOfBounds, at)
	}
	id, seq := w.nextID(kind)
	e := domain.Entity{ID: id, Seq: seq, Kind: kind, Faction: faction, Name: name, Cell: at}
	w.entities[id] = e
	w.order = append(w.order, id)
	w.record(events.TypeEntity, id, events.EventPayload{"action": "spawn", "kind": kind, "faction": faction, "cell": at})
	return e, nil
}

// Despawn removes an entity. Any encounter holding its id sees it as gone.
func (w *World) Despawn(id string) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if e.GroupID != nil {
		if err := w.RemoveFromGroup(id); err != nil {
			return err
		}
	}
	delete(w.entities, id)
	w.order = slices.DeleteFunc(w.order, func(v string) bool { return v == id })
	w.record(events.TypeEntity, id, events.EventPayload{"action": "despawn", "kind": e.Kind})
	return nil
}

// SetControlled marks who holds an entity, e.g. the player seizing the cannon
// control.
func (w *World) SetControlled(id string, controlled bool) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	e.Controlled = controlled
	w.entities[id] = e
	w.record(events.TypeEntity, id, events.EventPayload{"action": "control", "controlled": controlled})
	return nil
}

// ChangeVisibility moves the world visibility by delta, never below zero.
func (w *World) ChangeVisibility(delta int, reason string) int {
	before := w.meta.Visibility
	w.meta.Visibility = max(0, before+delta)
	if w.meta.Visibility != before {
		w.record(events.TypeVisibility, reason, events.EventPayload{"from": before, "to": w.meta.Visibility})
	}
	return w.meta.Visibility
}

// Initiate starts the flagship fight with the given signal names and hooks
// the destroyed signal to the visibility bump.
func (w *World) Initiate(ctx context.Context, damagedSignal, destroyedSignal string) error {
	if err := w.flagship.Initiate(w.env(ctx), damagedSignal, destroyedSignal); err != nil {
		return err
	}
	w.watchFlagship()
	f := w.flagship
	payload := events.EventPayload{"cannons": len(f.Cannons(w.env(ctx)))}
	if c, ok := f.Controller(w.env(ctx)); ok {
		payload["controller"] = c.ID
	}
	w.record(events.TypeEncounter, "initiated", payload)
	return nil
}

// Damage hits the flagship.
func (w *World) Damage(ctx context.Context, amount float32) error {
	if err := w.flagship.DamageFlagship(w.env(ctx), amount); err != nil {
		return err
	}
	w.record(events.TypeEncounter, "damaged", events.EventPayload{
		"amount": amount,
		"health": w.flagship.Health(),
		"state":  w.flagship.State().String(),
	})
	return nil
}

// FireCannons fires a salvo at the flagship if the cannon control is held.
func (w *World) FireCannons(ctx context.Context) error {
	if !w.flagship.CannonsShouldFire(w.env(ctx)) {
		return ErrCannonsOffline
	}
	return w.Damage(ctx, w.cfg.Encounter.CannonDamage)
}

func (w *World) watchFlagship() {
	_, destroyed := w.flagship.Signals()
	if destroyed == "" || w.watched[destroyed] {
		return
	}
	w.watched[destroyed] = true
	w.signals.Subscribe(destroyed, func(context.Context, string) error {
		w.ChangeVisibility(w.cfg.Visibility.OnDestroyed, "flagship destroyed")
		return nil
	})
}
