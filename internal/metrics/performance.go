package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// PerformanceMetrics is a point-in-time view of feed throughput.
type PerformanceMetrics struct {
	MessagesPerSecond    float64 `json:"messagesPerSecond"`
	TotalMessages        int64   `json:"totalMessages"`
	UptimeSeconds        float64 `json:"uptimeSeconds"`
	LastMessageLatencyMs float64 `json:"lastMessageLatencyMs"`
}

// Monitor counts inbound messages. It never influences control flow.
type Monitor struct {
	clock clock.Clock

	mu      sync.Mutex
	started time.Time
	total   int64
	last    time.Time
}

func NewMonitor(c clock.Clock) *Monitor {
	if c == nil {
		c = clock.New()
	}
	return &Monitor{clock: c, started: c.Now()}
}

// TrackMessage counts one message received now.
func (m *Monitor) TrackMessage() {
	now := m.clock.Now()
	m.mu.Lock()
	m.total++
	m.last = now
	m.mu.Unlock()
}

// Metrics computes rates over the time since construction or the last Reset.
// LastMessageLatencyMs is the age of the last message, 0 before any message.
func (m *Monitor) Metrics() PerformanceMetrics {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := now.Sub(m.started).Seconds()
	out := PerformanceMetrics{
		TotalMessages: m.total,
		UptimeSeconds: uptime,
	}
	if uptime > 0 {
		out.MessagesPerSecond = float64(m.total) / uptime
	}
	if !m.last.IsZero() {
		out.LastMessageLatencyMs = float64(now.Sub(m.last)) / float64(time.Millisecond)
	}
	return out
}

// Reset zeroes the counters and restarts the uptime clock.
func (m *Monitor) Reset() {
	now := m.clock.Now()
	m.mu.Lock()
	m.started = now
	m.total = 0
	m.last = time.Time{}
	m.mu.Unlock()
}
