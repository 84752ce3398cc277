// Package retention applies the bounded newest-first trade window on top of
// the state container: pause gating, silent tail eviction and the full-clear
// reset protocol.
package retention

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"optionflow/internal/metrics"
	"optionflow/internal/scheduler"
	"optionflow/internal/state"
	"optionflow/logger"
	"optionflow/models"
)

// DefaultResetReason is shown to users while the window is being reset.
const DefaultResetReason = "Service has been reset due to memory management limits. This is a streaming demo - in production, implement proper data pagination and cleanup."

const component = "retention"

// Outcome describes what Insert did with a trade.
type Outcome uint8

const (
	OutcomeIgnored Outcome = iota
	OutcomeInserted
	OutcomeEvicted
	OutcomeReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeEvicted:
		return "evicted"
	case OutcomeReset:
		return "reset"
	default:
		return "ignored"
	}
}

// Config bounds the window. A zero ResetLimit disables the reset protocol and
// a zero RecordLimit disables tail eviction.
type Config struct {
	RecordLimit     int
	ResetLimit      int
	ResetClearDelay time.Duration
	ResetReason     string
}

// Archiver receives the trades cleared by a reset. Archive must not block.
type Archiver interface {
	Archive(batch models.TradeBatch) bool
}

// Store is the only writer of trades into the container.
type Store struct {
	cfg      Config
	state    *state.Container
	slot     *scheduler.Slot
	events   *metrics.Recorder
	archiver Archiver
	log      *logger.Log

	mu     sync.Mutex
	closed bool
}

type Option func(*Store)

func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Store) { s.events = r }
}

func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

func WithLogger(l *logger.Log) Option {
	return func(s *Store) { s.log = l }
}

func New(container *state.Container, sched *scheduler.Scheduler, cfg Config, opts ...Option) *Store {
	if cfg.ResetReason == "" {
		cfg.ResetReason = DefaultResetReason
	}
	if cfg.ResetClearDelay <= 0 {
		cfg.ResetClearDelay = 3 * time.Second
	}
	s := &Store{
		cfg:   cfg,
		state: container,
		slot:  sched.NewSlot("reset-clear"),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert applies t to the window. A reset fires when the window already holds
// ResetLimit trades before t arrives; t is discarded together with the rest.
// A closed store ignores every insert.
func (s *Store) Insert(t models.Trade) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.Paused() {
		return OutcomeIgnored
	}

	if s.cfg.ResetLimit > 0 && s.state.Len() >= s.cfg.ResetLimit {
		s.reset()
		return OutcomeReset
	}

	added, evicted := s.state.AddTrade(t, s.cfg.RecordLimit)
	switch {
	case !added:
		return OutcomeIgnored
	case evicted:
		return OutcomeEvicted
	default:
		return OutcomeInserted
	}
}

func (s *Store) reset() {
	removed := s.state.SetServiceReset(s.cfg.ResetReason)

	s.log.WithComponent(component).WithFields(logger.Fields{
		"cleared":     len(removed),
		"reset_limit": s.cfg.ResetLimit,
		"clear_after": s.cfg.ResetClearDelay.String(),
	}).Warn("trade window reset")
	s.events.Event(component, metrics.EventServiceReset, logger.Fields{"cleared": len(removed)})

	if s.archiver != nil && len(removed) > 0 {
		batch := models.TradeBatch{
			BatchID:     uuid.New().String(),
			Reason:      "reset",
			Trades:      removed,
			RecordCount: len(removed),
			Timestamp:   s.slot.Clock().Now().UTC(),
		}
		if !s.archiver.Archive(batch) {
			s.log.WithComponent(component).WithField("batch_id", batch.BatchID).Warn("archive queue full, dropping reset batch")
		}
	}

	s.slot.Schedule(s.cfg.ResetClearDelay, s.clearReset)
}

func (s *Store) clearReset(tok scheduler.Token) {
	if !s.slot.Claim(tok) {
		return
	}
	if s.state.ClearServiceReset() {
		s.events.Event(component, metrics.EventServiceResetClear, nil)
	}
}

// TogglePause flips the pause flag and returns the new value.
func (s *Store) TogglePause() bool {
	paused := s.state.TogglePause()
	s.events.Emit(component, metrics.EventPauseChanged, paused, "state", nil)
	return paused
}

// SetPaused sets the pause flag.
func (s *Store) SetPaused(paused bool) {
	s.state.SetPauseState(paused)
	s.events.Emit(component, metrics.EventPauseChanged, paused, "state", nil)
}

// Len is the current window size.
func (s *Store) Len() int { return s.state.Len() }

// ResetPending reports whether a reset-clear callback is scheduled.
func (s *Store) ResetPending() bool { return s.slot.Pending() }

// Close cancels the pending reset-clear callback and stops scheduling new
// ones. A reset in progress is cleared immediately so the status never stays
// parked in reset.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.slot.Cancel() {
		s.state.ClearServiceReset()
	}
}
