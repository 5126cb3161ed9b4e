package schedule_test

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"flagship/internal/command"
	"flagship/internal/schedule"
)

type recorder struct {
	ran []string
	s   *schedule.Scheduler[*recorder]
}

func first(r *recorder)  { r.ran = append(r.ran, "first") }
func second(r *recorder) { r.ran = append(r.ran, "second") }
func third(r *recorder)  { r.ran = append(r.ran, "third") }
func boom(r *recorder)   { panic("boom") }

// chain queues third for the tick it is already draining.
func chain(r *recorder) {
	r.ran = append(r.ran, "chain")
	if _, err := r.s.Schedule(third, 0); err != nil {
		panic(err)
	}
}

func newRecorder(t *testing.T) (*recorder, *command.Registry[*recorder], *bytes.Buffer) {
	t.Helper()
	reg := command.NewRegistry[*recorder]()
	reg.MustRegister(first, second, third, boom, chain)
	var buf bytes.Buffer
	r := &recorder{}
	r.s = schedule.New(reg, log.New(&buf, "", 0))
	return r, reg, &buf
}

func mustSchedule(t *testing.T, s *schedule.Scheduler[*recorder], fn command.Action[*recorder], tick int64) {
	t.Helper()
	if _, err := s.Schedule(fn, tick); err != nil {
		t.Fatalf("schedule: %v", err)
	}
}

func TestAdvanceOrdersByTickThenFIFO(t *testing.T) {
	r, _, _ := newRecorder(t)
	mustSchedule(t, r.s, third, 30)
	mustSchedule(t, r.s, second, 10)
	mustSchedule(t, r.s, first, 10)
	mustSchedule(t, r.s, first, 5)

	rep := r.s.Advance(r, 9)
	if got := strings.Join(r.ran, ","); got != "first" {
		t.Fatalf("after tick 9 ran %q", got)
	}
	if len(rep.Executed) != 1 || rep.Executed[0].Tick != 5 {
		t.Fatalf("unexpected report %+v", rep)
	}
	r.s.Advance(r, 10)
	if got := strings.Join(r.ran, ","); got != "first,second,first" {
		t.Fatalf("after tick 10 ran %q", got)
	}
	if r.s.Len() != 1 {
		t.Fatalf("pending = %d, want 1", r.s.Len())
	}
}

func TestAdvanceIsIdempotentForSameTick(t *testing.T) {
	r, _, _ := newRecorder(t)
	mustSchedule(t, r.s, first, 3)
	r.s.Advance(r, 3)
	r.s.Advance(r, 3)
	if len(r.ran) != 1 {
		t.Fatalf("ran %v, want exactly one execution", r.ran)
	}
}

func TestAdvanceCatchesUpSkippedTicks(t *testing.T) {
	r, _, _ := newRecorder(t)
	mustSchedule(t, r.s, first, 1)
	mustSchedule(t, r.s, second, 50)
	mustSchedule(t, r.s, third, 100)
	r.s.Advance(r, 1000)
	if got := strings.Join(r.ran, ","); got != "first,second,third" {
		t.Fatalf("ran %q", got)
	}
	if r.s.Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestScheduleInPastRunsOnNextAdvance(t *testing.T) {
	r, _, _ := newRecorder(t)
	r.s.Advance(r, 100)
	mustSchedule(t, r.s, first, 20)
	r.s.Advance(r, 101)
	if len(r.ran) != 1 {
		t.Fatalf("past entry did not run: %v", r.ran)
	}
}

func TestActionsQueuedDuringDrainRunWhenDue(t *testing.T) {
	r, _, _ := newRecorder(t)
	mustSchedule(t, r.s, chain, 0)
	mustSchedule(t, r.s, second, 0)
	r.s.Advance(r, 0)
	if got := strings.Join(r.ran, ","); got != "chain,second,third" {
		t.Fatalf("ran %q", got)
	}
}

func TestFailuresDoNotAbortDrain(t *testing.T) {
	r, _, logs := newRecorder(t)
	mustSchedule(t, r.s, boom, 1)
	stale, err := command.ParseRef("gone.flagship/internal/world")
	if err != nil {
		t.Fatal(err)
	}
	r.s.Restore(append(r.s.Entries(), schedule.Entry{Ref: stale, Tick: 1, Seq: 99}))
	mustSchedule(t, r.s, first, 2)

	rep := r.s.Advance(r, 5)
	if len(rep.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(rep.Failures))
	}
	if !errors.Is(rep.Failures[0], schedule.ErrActionPanic) {
		t.Fatalf("first failure should be a panic: %v", rep.Failures[0])
	}
	if !errors.Is(rep.Failures[1], command.ErrResolution) {
		t.Fatalf("second failure should be a resolution error: %v", rep.Failures[1])
	}
	if !errors.Is(rep.Err(), command.ErrResolution) {
		t.Fatalf("joined error lost cause: %v", rep.Err())
	}
	if len(r.ran) != 1 || r.ran[0] != "first" {
		t.Fatalf("remaining entries did not run: %v", r.ran)
	}
	if !strings.Contains(logs.String(), "gone.flagship/internal/world") {
		t.Fatalf("stale tag not logged: %q", logs.String())
	}
}

func TestScheduleRejectsClosureAtEncodeTime(t *testing.T) {
	r, _, _ := newRecorder(t)
	name := "closure"
	_, err := r.s.Schedule(func(r *recorder) { r.ran = append(r.ran, name) }, 1)
	if !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("expected ErrInvalidEncode, got %v", err)
	}
	if r.s.Len() != 0 {
		t.Fatalf("rejected action was queued")
	}
	if _, err := r.s.ScheduleRef(command.Ref{Scope: "x", Member: "y"}, 1); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("expected ErrInvalidEncode for unknown ref, got %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	r, reg, _ := newRecorder(t)
	mustSchedule(t, r.s, third, 40)
	mustSchedule(t, r.s, first, 10)
	mustSchedule(t, r.s, second, 10)
	mustSchedule(t, r.s, first, 25)

	saved := r.s.Entries()
	for i := 1; i < len(saved); i++ {
		if saved[i-1].Tick > saved[i].Tick {
			t.Fatalf("entries not in tick order: %+v", saved)
		}
	}
	// shuffle to prove restore does not rely on slice order for ticks
	shuffled := []schedule.Entry{saved[3], saved[1], saved[0], saved[2]}

	restored := &recorder{}
	restored.s = schedule.New(reg, log.New(&bytes.Buffer{}, "", 0))
	restored.s.Restore(shuffled)

	for _, tick := range []int64{5, 10, 30, 100} {
		r.s.Advance(r, tick)
		restored.s.Advance(restored, tick)
		if strings.Join(r.ran, ",") != strings.Join(restored.ran, ",") {
			t.Fatalf("tick %d diverged: %v vs %v", tick, r.ran, restored.ran)
		}
	}
	if got := strings.Join(restored.ran, ","); got != "first,second,first,third" {
		t.Fatalf("restored ran %q", got)
	}
}

func TestRestoreKeepsNewEntriesBehindRestoredTies(t *testing.T) {
	r, _, _ := newRecorder(t)
	r.s.Restore([]schedule.Entry{
		{Ref: mustRef(t, r, second), Tick: 7, Seq: 40},
		{Ref: mustRef(t, r, first), Tick: 7, Seq: 12},
	})
	mustSchedule(t, r.s, third, 7)
	r.s.Advance(r, 7)
	if got := strings.Join(r.ran, ","); got != "first,second,third" {
		t.Fatalf("ran %q", got)
	}
}

func mustRef(t *testing.T, r *recorder, fn command.Action[*recorder]) command.Ref {
	t.Helper()
	e, err := r.s.Schedule(fn, 1<<40)
	if err != nil {
		t.Fatal(err)
	}
	return e.Ref
}
