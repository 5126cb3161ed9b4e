package world

import (
	"fmt"
	"strings"

	"flagship/internal/command"
	"flagship/internal/events"
	"flagship/internal/schedule"
)

// actions holds every function a world may schedule. Saved schedules refer to
// them by tag, so renaming one strands its pending entries.
var actions = command.NewRegistry[Turn]()

func init() {
	actions.MustRegister(decayVisibility, arriveFlagship, cannonSalvo)
}

// ActionTags lists the registered tags.
func ActionTags() []string { return actions.Tags() }

// LookupAction accepts a full tag or a bare member name.
func LookupAction(name string) (command.Ref, error) {
	if ref, err := command.ParseRef(name); err == nil && actions.Has(ref) {
		return ref, nil
	}
	for _, tag := range actions.Tags() {
		if member, _, _ := strings.Cut(tag, "."); member == name {
			return command.ParseRef(tag)
		}
	}
	return command.Ref{}, fmt.Errorf("%w: unknown action %q", command.ErrResolution, name)
}

// ScheduleAction queues a registered action at tick.
func (w *World) ScheduleAction(name string, tick int64) (schedule.Entry, error) {
	ref, err := LookupAction(name)
	if err != nil {
		return schedule.Entry{}, err
	}
	e, err := w.sched.ScheduleRef(ref, tick)
	if err != nil {
		return schedule.Entry{}, err
	}
	w.record(events.TypeSchedule, ref.String(), events.EventPayload{"target_tick": e.Tick})
	return e, nil
}

// decayVisibility lowers visibility and queues its next run.
func decayVisibility(t Turn) {
	w := t.World
	w.ChangeVisibility(-w.cfg.Visibility.DecayAmount, "decay")
	if _, err := w.sched.Schedule(decayVisibility, t.Tick+w.cfg.Visibility.DecayInterval); err != nil {
		w.logger.Printf("world %s: reschedule visibility decay: %v", w.meta.ID, err)
	}
}

// arriveFlagship starts the fight with the configured signal names.
func arriveFlagship(t Turn) {
	w := t.World
	s := w.cfg.Encounter.Signals
	if err := w.Initiate(t.Ctx, s.Damaged, s.Destroyed); err != nil {
		w.logger.Printf("world %s: flagship arrival at tick %d: %v", w.meta.ID, t.Tick, err)
	}
}

func cannonSalvo(t Turn) {
	w := t.World
	if err := w.FireCannons(t.Ctx); err != nil {
		w.logger.Printf("world %s: cannon salvo at tick %d: %v", w.meta.ID, t.Tick, err)
	}
}
