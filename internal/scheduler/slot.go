package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Slot holds at most one pending callback. Scheduling into an occupied slot
// cancels the previous callback first.
type Slot struct {
	name  string
	sched *Scheduler

	mu      sync.Mutex
	current Handle
}

// NewSlot creates an empty slot on s.
func (s *Scheduler) NewSlot(name string) *Slot {
	return &Slot{name: name, sched: s}
}

func (sl *Slot) Name() string { return sl.name }

// Clock is the clock of the owning scheduler.
func (sl *Slot) Clock() clock.Clock { return sl.sched.clock }

// Schedule replaces any pending callback with fn after delay.
func (sl *Slot) Schedule(delay time.Duration, fn func(Token)) Handle {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current.Valid() {
		sl.sched.Cancel(sl.current)
	}
	sl.current = sl.sched.ScheduleOnce(delay, fn)
	return sl.current
}

// Claim marks the fired callback as consumed. It returns false when token is
// no longer the slot's current callback, i.e. it was cancelled or replaced
// after the timer had already started firing.
func (sl *Slot) Claim(token Token) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.current.Valid() || sl.current.token != token {
		return false
	}
	sl.current = Handle{}
	return true
}

// Cancel empties the slot. It reports whether a callback was pending.
func (sl *Slot) Cancel() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.current.Valid() {
		return false
	}
	h := sl.current
	sl.current = Handle{}
	return sl.sched.Cancel(h)
}

// Pending reports whether the slot holds an unclaimed callback.
func (sl *Slot) Pending() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.current.Valid()
}
