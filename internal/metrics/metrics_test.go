package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionflow/logger"
)

func quietLogger() *logger.Log {
	log := logger.Logger()
	log.SetOutput(io.Discard)
	return log
}

func TestRegisterReturnsUniqueIDs(t *testing.T) {
	r := NewRecorder(quietLogger(), clock.NewMock())

	id := r.Register(func(Event) {})
	require.NotZero(t, id)

	second := r.Register(func(Event) {})
	assert.NotZero(t, second)
	assert.NotEqual(t, id, second)
	assert.Zero(t, r.Register(nil))
}

func TestEmitDispatchesToHandlers(t *testing.T) {
	mock := clock.NewMock()
	r := NewRecorder(quietLogger(), mock)

	var got []Event
	id := r.Register(func(e Event) { got = append(got, e) })

	fields := logger.Fields{"session": "s-1"}
	_, ok := r.Emit("feed", EventConnected, 1, "", fields)
	require.True(t, ok)

	require.Len(t, got, 1)
	assert.Equal(t, "feed", got[0].Component)
	assert.Equal(t, EventConnected, got[0].Name)
	assert.Equal(t, "counter", got[0].Type)
	assert.Equal(t, mock.Now(), got[0].Timestamp)
	assert.Equal(t, "s-1", got[0].Fields["session"])
	_, mutated := fields["metric"]
	assert.False(t, mutated)

	r.Unregister(id)
	r.Event("feed", EventDisconnected, nil)
	assert.Len(t, got, 1)
}

func TestEmitWithoutNameIsDropped(t *testing.T) {
	r := NewRecorder(quietLogger(), nil)
	called := false
	r.Register(func(Event) { called = true })

	_, ok := r.Emit("feed", "", 1, "", nil)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.Zero(t, r.Register(func(Event) {}))
	r.Unregister(1)
	r.Event("feed", EventConnected, nil)
}

func TestMonitorMetrics(t *testing.T) {
	mock := clock.NewMock()
	m := NewMonitor(mock)

	assert.Equal(t, PerformanceMetrics{}, m.Metrics())

	for i := 0; i < 10; i++ {
		m.TrackMessage()
	}
	mock.Add(2 * time.Second)
	m.TrackMessage()
	mock.Add(250 * time.Millisecond)

	got := m.Metrics()
	assert.Equal(t, int64(11), got.TotalMessages)
	assert.InDelta(t, 2.25, got.UptimeSeconds, 1e-9)
	assert.InDelta(t, 11/2.25, got.MessagesPerSecond, 1e-9)
	assert.InDelta(t, 250, got.LastMessageLatencyMs, 1e-9)

	m.Reset()
	mock.Add(time.Second)
	got = m.Metrics()
	assert.Zero(t, got.TotalMessages)
	assert.Zero(t, got.LastMessageLatencyMs)
	assert.InDelta(t, 1, got.UptimeSeconds, 1e-9)
}

func TestExporterCountsEvents(t *testing.T) {
	mock := clock.NewMock()
	monitor := NewMonitor(mock)
	exp, err := NewExporter(monitor, func() int { return 3 })
	require.NoError(t, err)

	r := NewRecorder(quietLogger(), mock)
	r.Register(exp.Observe)
	r.Event("feed", EventHeartbeatTimeout, nil)
	r.Event("feed", EventHeartbeatTimeout, nil)
	monitor.TrackMessage()

	assert.Equal(t, 2.0, testutil.ToFloat64(exp.events.WithLabelValues("feed", EventHeartbeatTimeout)))

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "optionflow_messages_total 1"), body)
	assert.True(t, strings.Contains(body, "optionflow_retained_trades 3"), body)
}
