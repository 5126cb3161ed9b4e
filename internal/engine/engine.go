package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"flagship/internal/config"
	"flagship/internal/domain"
	"flagship/internal/events"
	"flagship/internal/repo"
	"flagship/internal/world"
)

// Engine loads a world, applies one command and saves it back in a single
// transaction together with the events the command produced.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// CreateWorld builds a fresh world from cfg and stores it with its config.
func (e Engine) CreateWorld(ctx context.Context, cfg *config.Config) (domain.World, error) {
	if cfg == nil {
		return domain.World{}, errors.New("config is required")
	}
	if _, err := e.Repo.GetWorld(ctx, cfg.World.ID); err == nil {
		return domain.World{}, fmt.Errorf("world %s already exists", cfg.World.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.World{}, err
	}
	w, err := world.New(cfg, e.Logger)
	if err != nil {
		return domain.World{}, err
	}
	save, err := w.Export()
	if err != nil {
		return domain.World{}, err
	}
	save.World.CreatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.World{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveWorldTx(ctx, tx, save); err != nil {
		return domain.World{}, err
	}
	if err := e.Repo.UpsertWorldConfigTx(ctx, tx, cfg.World.ID, cfg); err != nil {
		return domain.World{}, fmt.Errorf("insert world config: %w", err)
	}
	if err := e.writer().Append(ctx, tx, cfg.World.ID, 0, "world.create", cfg.World.ID, events.EventPayload{"seed": cfg.World.Seed}); err != nil {
		return domain.World{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.World{}, err
	}
	return save.World, nil
}

// Load restores a world and its stored config.
func (e Engine) Load(ctx context.Context, worldID string) (*world.World, error) {
	cfg, err := e.Repo.GetWorldConfig(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("world %s config: %w", worldID, err)
	}
	save, err := e.Repo.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("world %s: %w", worldID, err)
	}
	return world.Restore(cfg, save, e.Logger)
}

// update loads worldID, runs fn and saves the result. Nothing is written
// when fn fails.
func (e Engine) update(ctx context.Context, worldID, evtType string, fn func(w *world.World) (events.EventPayload, error)) (*world.World, error) {
	w, err := e.Load(ctx, worldID)
	if err != nil {
		return nil, err
	}
	payload, err := fn(w)
	if err != nil {
		return nil, err
	}
	if err := e.save(ctx, w, evtType, payload); err != nil {
		return nil, err
	}
	return w, nil
}

func (e Engine) save(ctx context.Context, w *world.World, evtType string, payload events.EventPayload) error {
	save, err := w.Export()
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveWorldTx(ctx, tx, save); err != nil {
		return err
	}
	if err := e.writer().AppendAll(ctx, tx, w.ID(), w.DrainEvents()); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, w.ID(), w.Tick(), evtType, w.ID(), payload); err != nil {
		return err
	}
	return tx.Commit()
}

// StepResult summarises a run of ticks.
type StepResult struct {
	Tick     int64    `json:"tick"`
	Executed []string `json:"executed"`
	Dropped  []string `json:"dropped"`
}

// Step advances the world n ticks and saves once at the end.
func (e Engine) Step(ctx context.Context, worldID string, n int64) (StepResult, error) {
	if n <= 0 {
		return StepResult{}, errors.New("tick count must be positive")
	}
	var res StepResult
	_, err := e.update(ctx, worldID, "world.step", func(w *world.World) (events.EventPayload, error) {
		res = runSteps(ctx, w, w.Tick()+n)
		return events.EventPayload{"ticks": n, "tick": res.Tick, "executed": len(res.Executed), "dropped": len(res.Dropped)}, nil
	})
	return res, err
}

// AdvanceTo steps the world until it reaches tick.
func (e Engine) AdvanceTo(ctx context.Context, worldID string, tick int64) (StepResult, error) {
	var res StepResult
	_, err := e.update(ctx, worldID, "world.advance", func(w *world.World) (events.EventPayload, error) {
		if tick <= w.Tick() {
			return nil, fmt.Errorf("world %s is already at tick %d", worldID, w.Tick())
		}
		res = runSteps(ctx, w, tick)
		return events.EventPayload{"tick": res.Tick, "executed": len(res.Executed), "dropped": len(res.Dropped)}, nil
	})
	return res, err
}

func runSteps(ctx context.Context, w *world.World, tick int64) StepResult {
	report := w.AdvanceTo(ctx, tick)
	res := StepResult{Tick: w.Tick(), Executed: []string{}, Dropped: []string{}}
	for _, x := range report.Executed {
		res.Executed = append(res.Executed, x.Ref.String())
	}
	for _, f := range report.Failures {
		res.Dropped = append(res.Dropped, f.Error())
	}
	return res
}

// Initiate starts the flagship fight. Empty signal names fall back to the
// world config.
func (e Engine) Initiate(ctx context.Context, worldID, damagedSignal, destroyedSignal string) (FlagshipStatus, error) {
	w, err := e.update(ctx, worldID, "flagship.initiate", func(w *world.World) (events.EventPayload, error) {
		s := w.Config().Encounter.Signals
		if damagedSignal == "" {
			damagedSignal = s.Damaged
		}
		if destroyedSignal == "" {
			destroyedSignal = s.Destroyed
		}
		if err := w.Initiate(ctx, damagedSignal, destroyedSignal); err != nil {
			return nil, err
		}
		return events.EventPayload{"damaged": damagedSignal, "destroyed": destroyedSignal}, nil
	})
	if err != nil {
		return FlagshipStatus{}, err
	}
	return statusOf(ctx, w), nil
}

func (e Engine) Damage(ctx context.Context, worldID string, amount float32) (FlagshipStatus, error) {
	w, err := e.update(ctx, worldID, "flagship.damage", func(w *world.World) (events.EventPayload, error) {
		if err := w.Damage(ctx, amount); err != nil {
			return nil, err
		}
		return events.EventPayload{"amount": amount}, nil
	})
	if err != nil {
		return FlagshipStatus{}, err
	}
	return statusOf(ctx, w), nil
}

// Fire fires the cannons at the flagship.
func (e Engine) Fire(ctx context.Context, worldID string) (FlagshipStatus, error) {
	w, err := e.update(ctx, worldID, "flagship.fire", func(w *world.World) (events.EventPayload, error) {
		if err := w.FireCannons(ctx); err != nil {
			return nil, err
		}
		return events.EventPayload{"amount": w.Config().Encounter.CannonDamage}, nil
	})
	if err != nil {
		return FlagshipStatus{}, err
	}
	return statusOf(ctx, w), nil
}

// SetControl sets who holds an entity. An empty entityID targets the
// flagship's cannon control.
func (e Engine) SetControl(ctx context.Context, worldID, entityID string, controlled bool) (domain.Entity, error) {
	var ent domain.Entity
	_, err := e.update(ctx, worldID, "entity.control", func(w *world.World) (events.EventPayload, error) {
		id := entityID
		if id == "" {
			c, ok := w.Flagship().Controller(w.Env(ctx))
			if !ok {
				return nil, fmt.Errorf("flagship has no cannon control: %w", world.ErrEntityNotFound)
			}
			id = c.ID
		}
		if err := w.SetControlled(id, controlled); err != nil {
			return nil, err
		}
		ent, _ = w.Entity(id)
		return events.EventPayload{"entity": id, "controlled": controlled}, nil
	})
	return ent, err
}

// ScheduleAction queues a registered action in ticks from now.
func (e Engine) ScheduleAction(ctx context.Context, worldID, action string, in int64) (domain.ScheduledAction, error) {
	var out domain.ScheduledAction
	_, err := e.update(ctx, worldID, "schedule.add", func(w *world.World) (events.EventPayload, error) {
		if in < 0 {
			return nil, errors.New("delay must not be negative")
		}
		tick := w.Tick() + in
		entry, err := w.ScheduleAction(action, tick)
		if err != nil {
			return nil, err
		}
		out = domain.ScheduledAction{Seq: entry.Seq, Command: entry.Ref.String(), TargetTick: entry.Tick}
		return events.EventPayload{"command": out.Command, "target_tick": tick}, nil
	})
	return out, err
}

// SpawnOptions describe a new entity.
type SpawnOptions struct {
	Kind    string
	Faction string
	Name    string
	X, Y    int
	GroupOf string
}

func (e Engine) Spawn(ctx context.Context, worldID string, opts SpawnOptions) (domain.Entity, error) {
	var ent domain.Entity
	_, err := e.update(ctx, worldID, "entity.spawn", func(w *world.World) (events.EventPayload, error) {
		var err error
		ent, err = w.Spawn(opts.Kind, opts.Faction, opts.Name, domain.Cell{X: opts.X, Y: opts.Y})
		if err != nil {
			return nil, err
		}
		if opts.GroupOf != "" {
			if _, err := w.NewGroup(opts.Faction, opts.GroupOf, []string{ent.ID}); err != nil {
				return nil, err
			}
			ent, _ = w.Entity(ent.ID)
		}
		return events.EventPayload{"entity": ent.ID, "kind": ent.Kind}, nil
	})
	return ent, err
}

// Despawn removes an entity.
func (e Engine) Despawn(ctx context.Context, worldID, entityID string) error {
	_, err := e.update(ctx, worldID, "entity.despawn", func(w *world.World) (events.EventPayload, error) {
		return events.EventPayload{"entity": entityID}, w.Despawn(entityID)
	})
	return err
}

// ChangeVisibility moves the world visibility by delta.
func (e Engine) ChangeVisibility(ctx context.Context, worldID string, delta int) (int, error) {
	var v int
	_, err := e.update(ctx, worldID, "world.visibility", func(w *world.World) (events.EventPayload, error) {
		v = w.ChangeVisibility(delta, "manual")
		return events.EventPayload{"delta": delta, "visibility": v}, nil
	})
	return v, err
}

// FlagshipStatus is a read-only view of the encounter.
type FlagshipStatus struct {
	State      string   `json:"state"`
	Health     float32  `json:"health"`
	Controller string   `json:"controller,omitempty"`
	Controlled bool     `json:"controlled"`
	Cannons    []string `json:"cannons"`
	ShouldFire bool     `json:"should_fire"`
	Damaged    string   `json:"damaged_signal,omitempty"`
	Destroyed  string   `json:"destroyed_signal,omitempty"`
}

func (e Engine) Status(ctx context.Context, worldID string) (FlagshipStatus, error) {
	w, err := e.Load(ctx, worldID)
	if err != nil {
		return FlagshipStatus{}, err
	}
	return statusOf(ctx, w), nil
}

func statusOf(ctx context.Context, w *world.World) FlagshipStatus {
	f := w.Flagship()
	env := w.Env(ctx)
	st := FlagshipStatus{
		State:      f.State().String(),
		Health:     f.Health(),
		Cannons:    []string{},
		ShouldFire: f.CannonsShouldFire(env),
	}
	st.Damaged, st.Destroyed = f.Signals()
	if c, ok := f.Controller(env); ok {
		st.Controller = c.ID
		st.Controlled = c.Controlled
	}
	for _, c := range f.Cannons(env) {
		st.Cannons = append(st.Cannons, c.ID)
	}
	return st
}

// ImportConfig replaces the stored config of a world. Geometry and seed are
// fixed at creation and kept.
func (e Engine) ImportConfig(ctx context.Context, worldID string, cfg *config.Config) error {
	w, err := e.Repo.GetWorld(ctx, worldID)
	if err != nil {
		return err
	}
	cfg.World.Width, cfg.World.Height, cfg.World.Seed = w.Width, w.Height, w.Seed
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertWorldConfigTx(ctx, tx, worldID, cfg); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, worldID, w.Tick, "config.import", worldID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
