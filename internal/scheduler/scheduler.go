// Package scheduler owns every delayed callback in the feed core so pending
// timers can be counted, replaced and cancelled in one place.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Token identifies one scheduled callback. Zero is never issued.
type Token uint64

// Handle refers to a scheduled callback.
type Handle struct {
	token Token
}

// Token returns the identifier passed to the callback when it fires.
func (h Handle) Token() Token { return h.token }

// Valid reports whether the handle refers to a scheduled callback.
func (h Handle) Valid() bool { return h.token != 0 }

// Scheduler runs one-shot callbacks on a clock.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	next    Token
	pending map[Token]*clock.Timer
}

// New returns a scheduler driven by c. A nil clock uses wall time.
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{clock: c, pending: make(map[Token]*clock.Timer)}
}

// Clock exposes the clock the scheduler runs on.
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// ScheduleOnce runs fn after delay unless the returned handle is cancelled first.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn func(Token)) Handle {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	token := s.next
	s.pending[token] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.pending[token]
		delete(s.pending, token)
		s.mu.Unlock()
		if live {
			fn(token)
		}
	})
	return Handle{token: token}
}

// Cancel stops the callback behind h. It reports whether the callback was
// still pending.
func (s *Scheduler) Cancel(h Handle) bool {
	if !h.Valid() {
		return false
	}
	s.mu.Lock()
	timer, ok := s.pending[h.token]
	delete(s.pending, h.token)
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
	return ok
}

// CancelAll stops every pending callback.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	timers := s.pending
	s.pending = make(map[Token]*clock.Timer)
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// Pending is the number of callbacks scheduled and neither fired nor cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
