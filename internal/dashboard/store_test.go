package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"optionflow/internal/metrics"
)

func TestEventStoreLimit(t *testing.T) {
	store := newEventStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Event{Timestamp: time.Unix(int64(i), 0), Name: "connected", Value: i})
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 events in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected events retained: %#v", snapshot)
	}
}

func TestEventStoreFiltersByName(t *testing.T) {
	store := newEventStore(10)
	store.handle(metrics.Event{Name: metrics.EventConnected})
	store.handle(metrics.Event{Name: metrics.EventServiceReset})
	store.handle(metrics.Event{Name: metrics.EventConnected})

	if got := len(store.snapshot(metrics.EventConnected)); got != 2 {
		t.Fatalf("expected 2 connected events, got %d", got)
	}
	if got := len(store.snapshot("unknown")); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "feed", "attempt": 2}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}
	if snapshot[0].Component != "feed" || snapshot[0].Fields["attempt"] != 2 {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
	}
}

func TestLogStoreLevelFilter(t *testing.T) {
	store := newLogStore(10)
	for _, lvl := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel} {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = lvl
		entry.Message = lvl.String()
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := store.snapshot("warning")
	if len(got) != 2 || got[0].Level != "warning" || got[1].Level != "error" {
		t.Fatalf("unexpected filtered logs: %#v", got)
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snapshot))
	}
	if snapshot[0].Fields["index"] != 2 || snapshot[1].Fields["index"] != 3 {
		t.Fatalf("unexpected entries retained: %#v", snapshot)
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "after close"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.snapshot("")) != 2 {
		t.Fatal("closed store should not capture entries")
	}
}
