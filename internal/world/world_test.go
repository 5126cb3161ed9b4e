package world_test

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"

	"flagship/internal/chance"
	"flagship/internal/command"
	"flagship/internal/config"
	"flagship/internal/domain"
	"flagship/internal/encounter"
	"flagship/internal/events"
	"flagship/internal/world"
)

func testConfig() *config.Config {
	cfg := config.Default("test-world")
	cfg.World.Width, cfg.World.Height = 60, 60
	cfg.World.Seed = 7
	cfg.Encounter.CannonDamage = 0.25
	cfg.Visibility.Initial = 3
	cfg.Visibility.DecayInterval = 5
	return cfg
}

func newWorld(t *testing.T, cfg *config.Config) *world.World {
	t.Helper()
	w, err := world.New(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func spawn(t *testing.T, w *world.World, kind, faction, name string, x, y int) domain.Entity {
	t.Helper()
	e, err := w.Spawn(kind, faction, name, domain.Cell{X: x, Y: y})
	if err != nil {
		t.Fatalf("spawn %s: %v", kind, err)
	}
	return e
}

// battlefield spawns a cannon control, two cannons and three factions.
func battlefield(t *testing.T, w *world.World) (control domain.Entity) {
	t.Helper()
	control = spawn(t, w, domain.KindCannonControl, "player", "control", 5, 5)
	spawn(t, w, domain.KindZeusCannon, "player", "zeus a", 6, 5)
	spawn(t, w, domain.KindZeusCannon, "player", "zeus b", 7, 5)
	var empire []string
	for i := 0; i < 3; i++ {
		empire = append(empire, spawn(t, w, domain.KindPawn, "empire", "trooper", 20+i, 20).ID)
	}
	if _, err := w.NewGroup("empire", domain.DirectiveAssault, empire); err != nil {
		t.Fatalf("empire group: %v", err)
	}
	d := spawn(t, w, domain.KindPawn, "deserters", "deserter", 30, 30)
	if _, err := w.NewGroup("deserters", domain.DirectiveDefend, []string{d.ID}); err != nil {
		t.Fatalf("deserter group: %v", err)
	}
	spawn(t, w, domain.KindPawn, "player", "Ada", 10, 10)
	spawn(t, w, domain.KindPawn, "player", "Brin", 11, 10)
	return control
}

func TestStepDrainsScheduleBeforeTickables(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, testConfig())
	for i := 0; i < 4; i++ {
		w.Step(ctx)
	}
	if got := w.Meta().Visibility; got != 3 {
		t.Fatalf("visibility decayed early: %d", got)
	}
	rep := w.Step(ctx)
	if len(rep.Executed) != 1 || rep.Executed[0].Ref.Member != "decayVisibility" {
		t.Fatalf("executed %+v", rep.Executed)
	}
	if got := w.Meta().Visibility; got != 2 {
		t.Fatalf("visibility %d, want 2", got)
	}
	pending := w.ScheduledActions()
	if len(pending) != 1 || pending[0].TargetTick != 10 {
		t.Fatalf("decay not rescheduled: %+v", pending)
	}
	w.AdvanceTo(ctx, 30)
	if got := w.Meta().Visibility; got != 0 {
		t.Fatalf("visibility went below zero or stalled: %d", got)
	}
}

func TestScheduledArrivalInitiatesEncounter(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, testConfig())
	battlefield(t, w)
	if _, err := w.ScheduleAction("arriveFlagship", 3); err != nil {
		t.Fatalf("schedule arrival: %v", err)
	}
	if _, err := w.ScheduleAction("noSuchAction", 3); !errors.Is(err, command.ErrResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	w.AdvanceTo(ctx, 2)
	if w.Flagship().State() != encounter.Dormant {
		t.Fatalf("arrived early")
	}
	w.Step(ctx)
	f := w.Flagship()
	if f.State() != encounter.ActiveFull {
		t.Fatalf("state %s", f.State())
	}
	if len(f.Cannons(w.Env(ctx))) != 2 {
		t.Fatalf("cannons %d", len(f.Cannons(w.Env(ctx))))
	}
	damaged, destroyed := f.Signals()
	if damaged != "flagship.damaged" || destroyed != "flagship.destroyed" {
		t.Fatalf("signals %q %q", damaged, destroyed)
	}
}

func TestCannonsDestroyFlagship(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	w := newWorld(t, cfg)
	control := battlefield(t, w)
	if err := w.Initiate(ctx, "dmg", "dead"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := w.FireCannons(ctx); !errors.Is(err, world.ErrCannonsOffline) {
		t.Fatalf("uncontrolled cannons fired: %v", err)
	}
	if err := w.SetControlled(control.ID, true); err != nil {
		t.Fatalf("control: %v", err)
	}
	w.DrainEvents()
	for i := 0; i < 4; i++ {
		if err := w.FireCannons(ctx); err != nil {
			t.Fatalf("salvo %d: %v", i, err)
		}
	}
	f := w.Flagship()
	if f.State() != encounter.Destroyed {
		t.Fatalf("state %s health %v", f.State(), f.Health())
	}
	if err := w.FireCannons(ctx); !errors.Is(err, world.ErrCannonsOffline) {
		t.Fatalf("cannons fired at a wreck: %v", err)
	}
	if got := w.Signals().Published("dmg"); got != 4 {
		t.Fatalf("damaged published %d times", got)
	}
	if got := w.Signals().Published("dead"); got != 1 {
		t.Fatalf("destroyed published %d times", got)
	}
	if got, want := w.Meta().Visibility, cfg.Visibility.Initial+cfg.Visibility.OnDestroyed; got != want {
		t.Fatalf("visibility %d, want %d", got, want)
	}

	var routed, exiting bool
	for _, g := range w.Groups() {
		switch g.Faction {
		case "empire":
			routed = g.Directive == domain.DirectiveFlee && g.HasDirective(domain.DirectiveAssault)
		case "deserters":
			exiting = g.Directive == domain.DirectiveExitMap && len(w.Members(g.ID)) == 1
		}
	}
	if !routed || !exiting {
		t.Fatalf("groups after destruction: %+v", w.Groups())
	}
	if len(w.Buildings()) != 3 {
		t.Fatalf("buildings %d", len(w.Buildings()))
	}

	var summary events.Record
	var chunks int
	for _, r := range w.DrainEvents() {
		if r.Type == events.TypeNotice && r.Subject == "summary" {
			summary = r
		}
		if r.Type == events.TypeEffect && r.Subject == "debris" {
			chunks++
		}
	}
	if names, _ := summary.Payload["names"].([]string); !reflect.DeepEqual(names, []string{"Ada", "Brin"}) {
		t.Fatalf("summary %+v", summary)
	}
	if chunks != 4 {
		t.Fatalf("debris %d", chunks)
	}
}

func TestDespawnedControllerSilencesCannons(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, testConfig())
	control := battlefield(t, w)
	if err := w.Initiate(ctx, "dmg", "dead"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := w.SetControlled(control.ID, true); err != nil {
		t.Fatalf("control: %v", err)
	}
	if err := w.Despawn(control.ID); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if _, ok := w.Flagship().Controller(w.Env(ctx)); ok {
		t.Fatalf("controller still resolved")
	}
	if err := w.FireCannons(ctx); !errors.Is(err, world.ErrCannonsOffline) {
		t.Fatalf("expected offline, got %v", err)
	}
}

type queued struct {
	Command string
	Tick    int64
}

func pendingOf(w *world.World) []queued {
	var out []queued
	for _, a := range w.ScheduledActions() {
		out = append(out, queued{a.Command, a.TargetTick})
	}
	return out
}

func TestRestoreContinuesSameWorld(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	fast := chance.Process{MTB: 1, Unit: 60, Check: 30}
	cfg.Encounter.Processes.Strike = fast
	cfg.Encounter.Processes.Slice = fast
	cfg.Encounter.Processes.Reinforce = fast
	cfg.Encounter.Processes.Defector = fast

	a := newWorld(t, cfg)
	battlefield(t, a)
	if err := a.Initiate(ctx, "dmg", "dead"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := a.Damage(ctx, 0.5); err != nil {
		t.Fatalf("damage: %v", err)
	}
	if _, err := a.ScheduleAction("cannonSalvo", 40); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	a.AdvanceTo(ctx, 31)

	save, err := a.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := world.Restore(cfg, save, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(pendingOf(a), pendingOf(b)) {
		t.Fatalf("schedule differs: %v vs %v", pendingOf(a), pendingOf(b))
	}
	a.DrainEvents()

	a.AdvanceTo(ctx, 200)
	b.AdvanceTo(ctx, 200)
	if !reflect.DeepEqual(a.Entities(), b.Entities()) {
		t.Fatalf("entities diverged after restore")
	}
	if !reflect.DeepEqual(a.Groups(), b.Groups()) {
		t.Fatalf("groups diverged after restore")
	}
	if !reflect.DeepEqual(a.Flagship().Snapshot(), b.Flagship().Snapshot()) {
		t.Fatalf("encounter diverged: %+v vs %+v", a.Flagship().Snapshot(), b.Flagship().Snapshot())
	}
	if !reflect.DeepEqual(a.DrainEvents(), b.DrainEvents()) {
		t.Fatalf("event streams diverged after restore")
	}
	if !reflect.DeepEqual(pendingOf(a), pendingOf(b)) {
		t.Fatalf("schedule diverged: %v vs %v", pendingOf(a), pendingOf(b))
	}
}

func TestStaleActionIsDroppedAfterRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	w := newWorld(t, cfg)
	save, err := w.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	save.Schedule = append(save.Schedule, domain.ScheduledAction{
		Seq:        99,
		Command:    "retiredAction.flagship/internal/world",
		TargetTick: 1,
	})
	r, err := world.Restore(cfg, save, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	rep := r.Step(ctx)
	if len(rep.Failures) != 1 || !errors.Is(rep.Failures[0], command.ErrResolution) {
		t.Fatalf("failures %+v", rep.Failures)
	}
	var logged bool
	for _, e := range r.DrainEvents() {
		if e.Type == events.TypeSchedule && e.Payload["dropped"] == true {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("dropped entry not recorded")
	}
	if len(r.ScheduledActions()) != 1 {
		t.Fatalf("pending %+v", r.ScheduledActions())
	}

	save.Schedule = append(save.Schedule, domain.ScheduledAction{Seq: 100, Command: "no-dot", TargetTick: 1})
	if _, err := world.Restore(cfg, save, nil); err == nil {
		t.Fatalf("malformed tag accepted")
	}
}

func TestHostility(t *testing.T) {
	w := newWorld(t, testConfig())
	battlefield(t, w)
	if got := len(w.HostilesTo("empire")); got != 3 {
		t.Fatalf("empire sees %d hostiles", got)
	}
	if got := len(w.HostilesTo("player")); got != 3 {
		t.Fatalf("player sees %d hostiles", got)
	}
	for _, e := range w.HostilesTo("deserters") {
		if e.Faction != "empire" {
			t.Fatalf("deserters hostile to %s", e.Faction)
		}
	}
}

func TestFindDropCell(t *testing.T) {
	w := newWorld(t, testConfig())
	rng := w.Env(context.Background()).Rand
	if _, ok := w.FindDropCell(rng, w.Center(), 30, 100); ok {
		t.Fatalf("found a cell inside an impossible margin")
	}
	occupied := spawn(t, w, domain.KindBuilding, "", "wall", 30, 30)
	for i := 0; i < 50; i++ {
		c, ok := w.FindDropCell(rng, w.Center(), 10, 3)
		if !ok {
			t.Fatalf("no cell found")
		}
		if c == occupied.Cell {
			t.Fatalf("picked an occupied cell")
		}
		if c.X < 27 || c.X > 33 || c.Y < 27 || c.Y > 33 {
			t.Fatalf("cell %v too far from center", c)
		}
	}
	if _, err := w.Spawn(domain.KindPawn, "player", "lost", domain.Cell{X: -1, Y: 0}); !errors.Is(err, world.ErrOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	if _, err := w.Spawn("dragon", "", "", domain.Cell{}); !errors.Is(err, world.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}
