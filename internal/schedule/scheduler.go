// Package schedule runs registered actions at a future simulation tick.
package schedule

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"sort"

	"flagship/internal/command"
)

// ErrActionPanic marks a drain failure caused by a panicking action.
var ErrActionPanic = errors.New("schedule: action panicked")

// Entry is one pending action. Entries are never mutated once queued.
type Entry struct {
	Ref  command.Ref
	Tick int64
	Seq  uint64
}

// DrainError describes an entry that was dequeued but could not run.
type DrainError struct {
	Entry Entry
	Err   error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("scheduled %s at tick %d: %v", e.Entry.Ref, e.Entry.Tick, e.Err)
}

func (e *DrainError) Unwrap() error { return e.Err }

// Report summarises one Advance call.
type Report struct {
	Executed []Entry
	Failures []*DrainError
}

// Err joins the failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Scheduler is a min-heap of entries keyed by (tick, seq). It is not safe for
// concurrent use; the owning world drives it from its tick callback.
type Scheduler[T any] struct {
	registry *command.Registry[T]
	queue    entryHeap
	nextSeq  uint64
	logger   *log.Logger
}

// New returns an empty scheduler resolving actions through registry.
func New[T any](registry *command.Registry[T], logger *log.Logger) *Scheduler[T] {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler[T]{registry: registry, logger: logger}
}

// Schedule encodes fn and queues it for tick. Ticks in the past are legal and
// run on the next Advance. An encode failure leaves the queue untouched.
func (s *Scheduler[T]) Schedule(fn command.Action[T], tick int64) (Entry, error) {
	ref, err := s.registry.Encode(fn)
	if err != nil {
		return Entry{}, fmt.Errorf("schedule at tick %d: %w", tick, err)
	}
	return s.push(ref, tick), nil
}

// ScheduleRef queues an already encoded reference. The reference must be
// registered at the time of the call.
func (s *Scheduler[T]) ScheduleRef(ref command.Ref, tick int64) (Entry, error) {
	if !s.registry.Has(ref) {
		return Entry{}, fmt.Errorf("schedule at tick %d: %w: %s is not registered", tick, command.ErrInvalidEncode, ref)
	}
	return s.push(ref, tick), nil
}

func (s *Scheduler[T]) push(ref command.Ref, tick int64) Entry {
	e := Entry{Ref: ref, Tick: tick, Seq: s.nextSeq}
	s.nextSeq++
	heap.Push(&s.queue, e)
	return e
}

// Advance runs every entry due at or before tick, earliest first and FIFO
// within a tick. Actions may schedule further entries; those that are already
// due run in the same call. A failing entry is logged and dropped and the
// drain continues.
func (s *Scheduler[T]) Advance(env T, tick int64) Report {
	var report Report
	for len(s.queue) > 0 && s.queue[0].Tick <= tick {
		e := heap.Pop(&s.queue).(Entry)
		if err := s.run(env, e); err != nil {
			de := &DrainError{Entry: e, Err: err}
			s.logger.Printf("scheduler: drop %s (due %d) at tick %d: %v", e.Ref, e.Tick, tick, err)
			report.Failures = append(report.Failures, de)
			continue
		}
		report.Executed = append(report.Executed, e)
	}
	return report
}

func (s *Scheduler[T]) run(env T, e Entry) (err error) {
	fn, err := s.registry.Resolve(e.Ref)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	fn(env)
	return nil
}

// Len returns the number of pending entries.
func (s *Scheduler[T]) Len() int { return len(s.queue) }

// Peek returns the next entry to run.
func (s *Scheduler[T]) Peek() (Entry, bool) {
	if len(s.queue) == 0 {
		return Entry{}, false
	}
	return s.queue[0], true
}

// Entries returns the pending entries in execution order without draining.
func (s *Scheduler[T]) Entries() []Entry {
	out := make([]Entry, len(s.queue))
	copy(out, s.queue)
	sortEntries(out)
	return out
}

// Restore replaces the queue with entries. Entries are ordered by tick, then
// by their saved sequence, then by slice position, and renumbered so that
// entries queued afterwards sort behind them within a tick. References are
// not resolved here: a stale tag only fails when its tick comes due.
func (s *Scheduler[T]) Restore(entries []Entry) {
	restored := make([]Entry, len(entries))
	copy(restored, entries)
	sortEntries(restored)
	for i := range restored {
		restored[i].Seq = uint64(i)
	}
	s.queue = entryHeap(restored)
	heap.Init(&s.queue)
	s.nextSeq = uint64(len(restored))
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Tick != entries[j].Tick {
			return entries[i].Tick < entries[j].Tick
		}
		return entries[i].Seq < entries[j].Seq
	})
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Tick != h[j].Tick {
		return h[i].Tick < h[j].Tick
	}
	return h[i].Seq < h[j].Seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
