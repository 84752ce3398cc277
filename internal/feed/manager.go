// Package feed owns the connection lifecycle: connect, reconnect with backoff,
// the unbounded application retry loop and the heartbeat liveness check. All
// state transitions run on a single event loop goroutine.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"optionflow/internal/metrics"
	"optionflow/internal/scheduler"
	"optionflow/internal/state"
	"optionflow/internal/transport"
	"optionflow/internal/wire"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/processor"
)

const component = "feed"

// User-facing connection notices.
const (
	ConnectFailedMessage    = "Failed to connect. Retrying..."
	ReconnectFailedMessage  = "Failed to reconnect. Will try again..."
	HeartbeatTimeoutMessage = "Connection heartbeat timed out"
)

// Backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config drives the connection lifecycle.
type Config struct {
	ReconnectAttempts   int
	InitialRetryDelay   time.Duration
	MaxRetryDelay       time.Duration
	RetryDelay          time.Duration
	Backoff             string
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	Encoding            wire.Encoding
}

// Handler processes one inbound payload.
type Handler interface {
	Handle(data []byte, binary bool) (processor.Result, error)
}

type attempt uint8

const (
	attemptStart attempt = iota
	attemptReconnect
)

// Manager is the connection state machine.
type Manager struct {
	cfg       Config
	dialer    transport.Dialer
	state     *state.Container
	handler   Handler
	sched     *scheduler.Scheduler
	events    *metrics.Recorder
	log       *logger.Log
	retry     *scheduler.Slot
	reconnect *scheduler.Slot
	heartbeat *scheduler.Slot

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan func()
	loopDone chan struct{}
	wg       sync.WaitGroup

	// owned by the loop goroutine
	conn     transport.Conn
	session  string
	gen      uint64
	missed   int
	stopping bool
	backoff  *backoff.Backoff
}

type Option func(*Manager)

func WithRecorder(r *metrics.Recorder) Option {
	return func(m *Manager) { m.events = r }
}

func WithLogger(l *logger.Log) Option {
	return func(m *Manager) { m.log = l }
}

func New(cfg Config, dialer transport.Dialer, container *state.Container, handler Handler, sched *scheduler.Scheduler, opts ...Option) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.InitialRetryDelay {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = 2
	}
	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		state:     container,
		handler:   handler,
		sched:     sched,
		log:       logger.GetLogger(),
		retry:     sched.NewSlot("retry"),
		reconnect: sched.NewSlot("reconnect"),
		heartbeat: sched.NewSlot("heartbeat"),
		backoff:   newBackoff(cfg),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newBackoff(cfg Config) *backoff.Backoff {
	if cfg.Backoff == BackoffExponential {
		return &backoff.Backoff{Min: cfg.InitialRetryDelay, Max: cfg.MaxRetryDelay, Factor: 2, Jitter: true}
	}
	return &backoff.Backoff{Min: cfg.RetryDelay, Max: cfg.RetryDelay, Factor: 1}
}

// Start launches the event loop and the first connect attempt.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("feed manager already running")
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.queue = make(chan func(), 256)
	m.loopDone = make(chan struct{})
	m.stopping = false

	m.log.WithComponent(component).WithFields(logger.Fields{
		"reconnect_attempts": m.cfg.ReconnectAttempts,
		"retry_delay":        m.cfg.RetryDelay.String(),
		"backoff":            m.cfg.Backoff,
		"encoding":           string(m.cfg.Encoding),
	}).Info("starting feed manager")

	go m.loop(m.ctx, m.queue, m.loopDone)
	m.queue <- func() { m.connect(attemptStart) }
	return nil
}

// Stop cancels every pending timer, closes the connection and waits for the
// loop to exit. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.loopDone
	m.mu.Unlock()

	cancel()
	<-done
	m.wg.Wait()
	m.log.WithComponent(component).Info("feed manager stopped")
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState { return m.state.Connection() }

func (m *Manager) loop(ctx context.Context, queue chan func(), done chan struct{}) {
	defer close(done)
	for {
		select {
		case fn := <-queue:
			fn()
		case <-ctx.Done():
			m.shutdown()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the loop is shutting down.
func (m *Manager) post(fn func()) bool {
	m.mu.Lock()
	ctx, queue := m.ctx, m.queue
	m.mu.Unlock()
	if ctx == nil {
		return false
	}
	select {
	case queue <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) shutdown() {
	m.stopping = true
	m.retry.Cancel()
	m.reconnect.Cancel()
	m.heartbeat.Cancel()
	wasOpen := m.dropConn()
	if wasOpen {
		m.state.UpdateLastDisconnected()
	} else {
		m.state.SetStatus(models.StatusDisconnected)
	}
	m.events.Event(component, metrics.EventStopped, logger.Fields{"session": m.session})
}

func (m *Manager) connect(kind attempt) {
	if m.stopping {
		return
	}
	m.state.SetStatus(models.StatusConnecting)
	m.events.Event(component, metrics.EventConnecting, logger.Fields{
		"attempt": m.state.Connection().ReconnectAttempt,
		"mode":    kind.String(),
	})

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, err := m.dialer.Dial(ctx)
		if !m.post(func() { m.onDial(kind, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) onDial(kind attempt, conn transport.Conn, err error) {
	if m.stopping {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.connectFailed(kind, err)
		return
	}
	m.connected(conn)
}

func (m *Manager) connected(conn transport.Conn) {
	m.gen++
	gen := m.gen
	m.conn = conn
	m.session = uuid.New().String()
	m.missed = 0
	m.backoff.Reset()
	m.retry.Cancel()
	m.reconnect.Cancel()

	cs := m.state.Connection()
	cs.Status = models.StatusConnected
	cs.ReconnectAttempt = 0
	m.state.SetConnectionStats(cs)
	m.state.UpdateLastConnected()

	m.log.WithComponent(component).WithFields(logger.Fields{
		"session":     m.session,
		"subprotocol": conn.Subprotocol(),
	}).Info("feed connected")
	m.events.Event(component, metrics.EventConnected, logger.Fields{"session": m.session})

	conn.SetPongHandler(func() {
		m.post(func() { m.onPong(gen) })
	})
	m.armHeartbeat()

	m.wg.Add(1)
	go m.read(gen, conn)
}

func (m *Manager) connectFailed(kind attempt, err error) {
	log := m.log.WithComponent(component).WithError(err)
	m.events.Event(component, metrics.EventConnectFailed, logger.Fields{
		"mode":    kind.String(),
		"timeout": errors.Is(err, transport.ErrConnectTimeout),
	})

	if kind == attemptReconnect {
		attempts := m.state.Connection().ReconnectAttempt
		if attempts < m.cfg.ReconnectAttempts {
			log.WithField("attempt", attempts).Warn("reconnect attempt failed")
			m.state.SetStatus(models.StatusDisconnected)
			m.scheduleReconnect()
			return
		}
		log.WithField("attempt", attempts).Warn("reconnect attempts exhausted, falling back to retry loop")
		m.events.Event(component, metrics.EventReconnectExhausted, logger.Fields{"attempts": attempts})
		m.state.SetError(ReconnectFailedMessage)
		m.state.SetStatus(models.StatusDisconnected)
		m.scheduleRetry()
		return
	}

	log.Warn("connect failed")
	m.state.SetError(ConnectFailedMessage)
	m.state.UpdateLastDisconnected()
	m.scheduleRetry()
}

// scheduleRetry arms the unbounded application retry. The slot guarantees a
// single pending retry.
func (m *Manager) scheduleRetry() {
	m.reconnect.Cancel()
	m.retry.Schedule(m.cfg.RetryDelay, func(tok scheduler.Token) {
		m.post(func() {
			if m.retry.Claim(tok) {
				m.connect(attemptStart)
			}
		})
	})
	m.events.Emit(component, metrics.EventRetryScheduled, m.cfg.RetryDelay.Milliseconds(), "duration", nil)
}

func (m *Manager) scheduleReconnect() {
	delay := m.backoff.Duration()
	m.reconnect.Schedule(delay, func(tok scheduler.Token) {
		m.post(func() {
			if m.reconnect.Claim(tok) {
				m.state.IncrementReconnectAttempt()
				m.connect(attemptReconnect)
			}
		})
	})
	m.events.Emit(component, metrics.EventReconnectScheduled, delay.Milliseconds(), "duration", nil)
}

func (m *Manager) read(gen uint64, conn transport.Conn) {
	defer m.wg.Done()
	for {
		frame, err := conn.Read()
		if err != nil {
			m.post(func() { m.onClosed(gen, err) })
			return
		}
		if !m.post(func() { m.onFrame(gen, frame) }) {
			return
		}
	}
}

func (m *Manager) onFrame(gen uint64, frame transport.Frame) {
	if gen != m.gen || m.conn == nil {
		return
	}
	res, err := m.handler.Handle(frame.Data, frame.Binary)
	if err != nil {
		return
	}
	switch res.Kind {
	case wire.MessagePing:
		if err := m.conn.WriteText(wire.ControlFrame(wire.MessagePong)); err != nil {
			m.lost(err)
		}
	case wire.MessagePong:
		m.missed = 0
	}
}

func (m *Manager) onPong(gen uint64) {
	if gen == m.gen {
		m.missed = 0
	}
}

func (m *Manager) onClosed(gen uint64, err error) {
	if gen != m.gen || m.conn == nil {
		return
	}
	m.lost(err)
}

// lost tears down the current connection and starts transport reconnects.
func (m *Manager) lost(err error) {
	m.dropConn()
	m.heartbeat.Cancel()
	m.state.UpdateLastDisconnected()
	m.log.WithComponent(component).WithError(err).WithField("session", m.session).Warn("feed connection lost")
	m.events.Event(component, metrics.EventDisconnected, logger.Fields{"session": m.session})
	if m.stopping {
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) dropConn() bool {
	if m.conn == nil {
		return false
	}
	m.gen++
	m.conn.Close()
	m.conn = nil
	return true
}

func (m *Manager) armHeartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat.Schedule(m.cfg.HeartbeatInterval, func(tok scheduler.Token) {
		m.post(func() {
			if m.heartbeat.Claim(tok) {
				m.beat()
			}
		})
	})
}

func (m *Manager) beat() {
	if m.conn == nil {
		return
	}
	if m.missed >= m.cfg.MaxMissedHeartbeats {
		m.events.Event(component, metrics.EventHeartbeatTimeout, logger.Fields{"missed": m.missed})
		m.state.SetError(HeartbeatTimeoutMessage)
		m.lost(errors.New("heartbeat timed out"))
		return
	}
	m.missed++
	m.armHeartbeat()

	var err error
	if m.cfg.Encoding == wire.EncodingMsgpack {
		err = m.conn.WritePing()
	} else {
		err = m.conn.WriteText(wire.ControlFrame(wire.MessagePing))
	}
	if err != nil {
		m.lost(err)
	}
}

func (a attempt) String() string {
	if a == attemptReconnect {
		return "reconnect"
	}
	return "start"
}
