// Package state holds the process-wide view consumed by the rendering layer:
// retained trades, connection state, the current error and statistics.
package state

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"optionflow/models"
)

// Action names match the outbound interface consumed by the UI.
type Action string

const (
	ActionAddTrade                  Action = "addTrade"
	ActionClearTrades               Action = "clearTrades"
	ActionSetConnectionStats        Action = "setConnectionStats"
	ActionResetConnectionStats      Action = "resetConnectionStats"
	ActionUpdateLastConnected       Action = "updateLastConnected"
	ActionUpdateLastDisconnected    Action = "updateLastDisconnected"
	ActionIncrementReconnectAttempt Action = "incrementReconnectAttempt"
	ActionSetServiceReset           Action = "setServiceReset"
	ActionClearServiceReset         Action = "clearServiceReset"
	ActionSetError                  Action = "setError"
	ActionTogglePause               Action = "togglePause"
	ActionSetPauseState             Action = "setPauseState"
	ActionSetStatistics             Action = "setStatistics"
)

// Change describes one applied action.
type Change struct {
	Seq        uint64                 `json:"seq"`
	Action     Action                 `json:"action"`
	Trade      *models.Trade          `json:"trade,omitempty"`
	Connection models.ConnectionState `json:"connection"`
	Error      string                 `json:"error,omitempty"`
	Paused     bool                   `json:"paused"`
	TradeCount int                    `json:"tradeCount"`
}

// Observer receives every applied change. Observers run synchronously on the
// goroutine that applied the action and must not call back into the container.
type Observer func(Change)

// SubscriptionID identifies a registered observer.
type SubscriptionID uint64

// Snapshot is a deep copy of the container contents.
type Snapshot struct {
	// Seq is the sequence number of the last change the snapshot includes.
	Seq        uint64                 `json:"seq"`
	Trades     []models.Trade         `json:"trades"`
	Paused     bool                   `json:"isPaused"`
	Connection models.ConnectionState `json:"connectionStats"`
	Error      string                 `json:"error,omitempty"`
	Statistics models.Statistics      `json:"statistics"`
}

// Container is safe for concurrent use.
type Container struct {
	clock clock.Clock

	mu         sync.RWMutex
	trades     []models.Trade
	paused     bool
	conn       models.ConnectionState
	errMsg     string
	statistics models.Statistics
	seq        uint64

	obsMu     sync.RWMutex
	observers map[SubscriptionID]Observer
	nextObs   SubscriptionID
}

// New returns an empty container in the disconnected state.
func New(c clock.Clock) *Container {
	if c == nil {
		c = clock.New()
	}
	return &Container{
		clock:     c,
		conn:      models.ConnectionState{Status: models.StatusDisconnected},
		observers: make(map[SubscriptionID]Observer),
	}
}

// Subscribe registers fn. A zero id is returned for a nil observer.
func (c *Container) Subscribe(fn Observer) SubscriptionID {
	if fn == nil {
		return 0
	}
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.nextObs++
	c.observers[c.nextObs] = fn
	return c.nextObs
}

// Unsubscribe removes the observer registered under id.
func (c *Container) Unsubscribe(id SubscriptionID) {
	if id == 0 {
		return
	}
	c.obsMu.Lock()
	delete(c.observers, id)
	c.obsMu.Unlock()
}

func (c *Container) notify(ch Change) {
	c.obsMu.RLock()
	if len(c.observers) == 0 {
		c.obsMu.RUnlock()
		return
	}
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.obsMu.RUnlock()

	for _, o := range observers {
		o(ch)
	}
}

// apply runs mutate under the write lock and publishes the resulting change.
func (c *Container) apply(action Action, mutate func() *models.Trade) {
	c.mu.Lock()
	trade := mutate()
	c.seq++
	ch := Change{
		Seq:        c.seq,
		Action:     action,
		Trade:      trade,
		Connection: c.conn.Clone(),
		Error:      c.errMsg,
		Paused:     c.paused,
		TradeCount: len(c.trades),
	}
	c.mu.Unlock()
	c.notify(ch)
}

// Snapshot copies the current contents.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trades := make([]models.Trade, len(c.trades))
	copy(trades, c.trades)
	return Snapshot{
		Seq:        c.seq,
		Trades:     trades,
		Paused:     c.paused,
		Connection: c.conn.Clone(),
		Error:      c.errMsg,
		Statistics: c.statistics,
	}
}

// Trades copies the retained trades, newest first.
func (c *Container) Trades() []models.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Trade, len(c.trades))
	copy(out, c.trades)
	return out
}

// Len is the number of retained trades.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.trades)
}

func (c *Container) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Container) Connection() models.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Clone()
}

// Error returns the current user-facing error, empty when none.
func (c *Container) Error() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errMsg
}

func (c *Container) now() *time.Time {
	t := c.clock.Now().UTC()
	return &t
}
