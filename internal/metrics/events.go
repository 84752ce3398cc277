package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"optionflow/logger"
)

// Named events emitted by the feed core.
const (
	EventConnecting         = "connecting"
	EventConnected          = "connected"
	EventConnectFailed      = "connect_failed"
	EventDisconnected       = "disconnected"
	EventReconnectScheduled = "reconnect_scheduled"
	EventReconnectExhausted = "reconnect_exhausted"
	EventRetryScheduled     = "retry_scheduled"
	EventHeartbeatTimeout   = "heartbeat_timeout"
	EventStopped            = "stopped"
	EventTradeInvalid       = "trade_invalid"
	EventTradeFailed        = "trade_failed"
	EventServiceReset       = "service_reset"
	EventServiceResetClear  = "service_reset_cleared"
	EventPauseChanged       = "pause_changed"
	EventArchiveWritten     = "archive_written"
	EventArchiveFailed      = "archive_failed"
)

// Event is a structured observability event.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// Handler consumes emitted events. Handlers run synchronously.
type Handler func(Event)

// HandlerID uniquely identifies a registered handler.
type HandlerID uint64

// Recorder logs events and fans them out to registered handlers. A nil
// *Recorder discards everything.
type Recorder struct {
	log   *logger.Log
	clock clock.Clock

	mu       sync.RWMutex
	handlers map[HandlerID]Handler
	next     HandlerID
}

func NewRecorder(log *logger.Log, c clock.Clock) *Recorder {
	if log == nil {
		log = logger.GetLogger()
	}
	if c == nil {
		c = clock.New()
	}
	return &Recorder{log: log, clock: c, handlers: make(map[HandlerID]Handler)}
}

// Register adds a handler that will receive every emitted event.
// A zero identifier is returned when the provided handler is nil.
func (r *Recorder) Register(handler Handler) HandlerID {
	if r == nil || handler == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[r.next] = handler
	return r.next
}

// Unregister removes the handler associated with the given identifier.
func (r *Recorder) Unregister(id HandlerID) {
	if r == nil || id == 0 {
		return
	}
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// Emit records an event. Events without a name are dropped.
func (r *Recorder) Emit(component, name string, value interface{}, eventType string, fields logger.Fields) (Event, bool) {
	if r == nil || name == "" {
		return Event{}, false
	}
	if eventType == "" {
		eventType = "counter"
	}

	event := Event{
		Timestamp: r.clock.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      eventType,
		Fields:    cloneFields(fields),
	}

	r.log.WithComponent(component).LogMetric(component, name, value, eventType, event.Fields)
	r.dispatch(event)
	return event, true
}

// Event emits a counter event of value 1.
func (r *Recorder) Event(component, name string, fields logger.Fields) {
	r.Emit(component, name, 1, "event", fields)
}

func (r *Recorder) dispatch(event Event) {
	r.mu.RLock()
	if len(r.handlers) == 0 {
		r.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(r.handlers))
	for _, handler := range r.handlers {
		handlers = append(handlers, handler)
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	if len(fields) == 0 {
		return logger.Fields{}
	}
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
