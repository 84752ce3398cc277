package processor

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"optionflow/internal/metrics"
	"optionflow/internal/retention"
	"optionflow/internal/wire"
	"optionflow/logger"
	"optionflow/models"
)

type recordingSink struct {
	mu     sync.Mutex
	trades []models.Trade
	panics bool
}

func (s *recordingSink) Insert(t models.Trade) retention.Outcome {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return retention.OutcomeInserted
}

type noticeBoard struct {
	notices []string
}

func (n *noticeBoard) SetError(msg string) { n.notices = append(n.notices, msg) }

type pipeline struct {
	proc    *Processor
	sink    *recordingSink
	notices *noticeBoard
	monitor *metrics.Monitor
	events  *[]string
}

func newPipeline(t *testing.T, enc wire.Encoding, keys KeyStyle) pipeline {
	t.Helper()
	log := logger.Logger()
	log.SetOutput(io.Discard)

	mock := clock.NewMock()
	monitor := metrics.NewMonitor(mock)
	rec := metrics.NewRecorder(log, mock)
	names := []string{}
	rec.Register(func(e metrics.Event) { names = append(names, e.Name) })

	sink := &recordingSink{}
	notices := &noticeBoard{}
	proc := New(enc, keys, sink, notices,
		WithMonitor(monitor),
		WithRecorder(rec),
		WithClock(mock),
		WithLogger(log),
	)
	return pipeline{proc: proc, sink: sink, notices: notices, monitor: monitor, events: &names}
}

const validTrade = `{"id":"t-1","timestamp":"2024-03-01T14:30:00.000Z","stockId":7,"symbol":"AAPL","option":"AAPL 240315C00180000","price":2.35,"quantity":10,"type":"call","strike":180,"expiration":"2024-03-15","iv":0.31,"delta":0.45,"gamma":0.02,"theta":-0.05,"vega":0.11,"rho":0.01}`

func TestHandleValidNamedTrade(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	res, err := p.proc.Handle([]byte(validTrade), false)
	require.NoError(t, err)
	assert.Equal(t, wire.MessageTrade, res.Kind)
	assert.Equal(t, retention.OutcomeInserted, res.Outcome)

	require.Len(t, p.sink.trades, 1)
	got := p.sink.trades[0]
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, int64(7), got.StockID)
	assert.Equal(t, "AAPL 240315C00180000", got.OptionLabel)
	assert.Equal(t, 2.35, got.Price)
	assert.Equal(t, int64(10), got.Quantity)
	assert.Equal(t, -0.05, got.Theta)
	assert.Empty(t, p.notices.notices)
	assert.Equal(t, int64(1), p.monitor.Metrics().TotalMessages)
}

func TestHandleTradeEnvelope(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	_, err := p.proc.Handle([]byte(`{"type":"trade","data":`+validTrade+`}`), false)
	require.NoError(t, err)
	require.Len(t, p.sink.trades, 1)
	assert.Equal(t, "call", p.sink.trades[0].Type)
}

func TestHandleControlMessages(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	res, err := p.proc.Handle([]byte(`{"type":"PING"}`), false)
	require.NoError(t, err)
	assert.Equal(t, wire.MessagePing, res.Kind)

	res, err = p.proc.Handle([]byte("PONG"), false)
	require.NoError(t, err)
	assert.Equal(t, wire.MessagePong, res.Kind)

	assert.Empty(t, p.sink.trades)
	assert.Zero(t, p.monitor.Metrics().TotalMessages)
}

func TestHandleInvalidTrade(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	_, err := p.proc.Handle([]byte(`{"id":"t-2","symbol":"AAPL","price":1,"quantity":1,"type":"put"}`), false)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"timestamp"}, verr.Missing)
	assert.Empty(t, p.sink.trades)
	assert.Equal(t, []string{InvalidTradeMessage}, p.notices.notices)
	assert.Contains(t, *p.events, metrics.EventTradeInvalid)

	// counted before validation
	assert.Equal(t, int64(1), p.monitor.Metrics().TotalMessages)
	_, invalid, _ := p.proc.Counts()
	assert.Equal(t, int64(1), invalid)
}

func TestHandleUndecodablePayload(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	_, err := p.proc.Handle([]byte(`{"id":`), false)
	require.Error(t, err)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	var derr *wire.DecodeError
	assert.True(t, errors.As(err, &derr))
	assert.Equal(t, []string{ProcessingErrorMessage}, p.notices.notices)
	assert.Contains(t, *p.events, metrics.EventTradeFailed)
	assert.Empty(t, p.sink.trades)
}

func TestHandleRecoversSinkPanic(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)
	p.sink.panics = true

	_, err := p.proc.Handle([]byte(validTrade), false)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{ProcessingErrorMessage}, p.notices.notices)

	p.sink.panics = false
	_, err = p.proc.Handle([]byte(validTrade), false)
	assert.NoError(t, err)
}

func TestHandleIsolatesFailures(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	payloads := []string{validTrade, `not json`, `{"symbol":"X"}`, validTrade, `[]`, validTrade}
	for _, raw := range payloads {
		p.proc.Handle([]byte(raw), false)
	}

	assert.Len(t, p.sink.trades, 3)
	processed, invalid, failed := p.proc.Counts()
	assert.Equal(t, int64(3), processed)
	assert.Equal(t, int64(2), invalid)
	assert.Equal(t, int64(1), failed)
}

func TestHandlePositionalMsgpack(t *testing.T) {
	p := newPipeline(t, wire.EncodingMsgpack, KeyStyleCapitalized)

	frame := []any{"t-9", "2024-03-01T14:30:00Z", 3, "TSLA", "TSLA P", 4.1, 2, "PUT", 200, "2024-04-19", 0.6, -0.3, 0.01, -0.2, 0.15, -0.02}
	data, err := msgpack.Marshal(frame)
	require.NoError(t, err)

	res, err := p.proc.Handle(data, true)
	require.NoError(t, err)
	assert.Equal(t, retention.OutcomeInserted, res.Outcome)

	got := p.sink.trades[0]
	assert.Equal(t, "t-9", got.ID)
	assert.Equal(t, "TSLA P", got.OptionLabel)
	assert.Equal(t, "put", got.Type)
	assert.Equal(t, 200.0, got.Strike)
	assert.Equal(t, -0.02, got.Rho)
}

func TestHandleShortPositionalFrameIsInvalid(t *testing.T) {
	p := newPipeline(t, wire.EncodingJSON, KeyStyleEither)

	_, err := p.proc.Handle([]byte(`["t-1","2024-03-01T14:30:00Z",1,"AAPL"]`), false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"price", "quantity", "type"}, verr.Missing)
}
