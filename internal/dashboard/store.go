package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"optionflow/internal/metrics"
)

// eventStore keeps the most recent feed events for /api/events. It is safe
// for concurrent use.
type eventStore struct {
	mu    sync.RWMutex
	items []metrics.Event
	limit int
}

func newEventStore(limit int) *eventStore {
	if limit <= 0 {
		limit = 200
	}
	return &eventStore{limit: limit}
}

func (s *eventStore) handle(event metrics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, event)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Event(nil), s.items[len(s.items)-s.limit:]...)
	}
}

// snapshot returns the retained events, optionally restricted to one name.
func (s *eventStore) snapshot(name string) []metrics.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Event, 0, len(s.items))
	for _, e := range s.items {
		if name != "" && e.Name != name {
			continue
		}
		out = append(out, e)
	}
	return out
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook retaining the latest log lines.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

// snapshot returns records at or above minLevel. An empty level keeps all.
func (s *logStore) snapshot(minLevel string) []logRecord {
	threshold := logrus.TraceLevel
	if minLevel != "" {
		if lvl, err := logrus.ParseLevel(minLevel); err == nil {
			threshold = lvl
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, 0, len(s.items))
	for _, r := range s.items {
		lvl, err := logrus.ParseLevel(r.Level)
		if err == nil && lvl > threshold {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
