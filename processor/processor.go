package processor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"optionflow/internal/metrics"
	"optionflow/internal/retention"
	"optionflow/internal/wire"
	"optionflow/logger"
	"optionflow/models"
)

const component = "processor"

// User-facing notices for per-message failures.
const (
	InvalidTradeMessage    = "Received invalid trade data"
	ProcessingErrorMessage = "Error processing trade data"
)

// ProcessingError wraps a failure to decode or normalize one message.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing trade message: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// TradeSink stores normalized trades.
type TradeSink interface {
	Insert(trade models.Trade) retention.Outcome
}

// ErrorReporter surfaces a user-facing notice.
type ErrorReporter interface {
	SetError(msg string)
}

// Result describes one handled message.
type Result struct {
	Kind    wire.MessageKind
	Trade   models.Trade
	Outcome retention.Outcome
}

// Processor runs decode, validate, normalize and insert for one message at a
// time. Failures are isolated to the message that caused them.
type Processor struct {
	encoding wire.Encoding
	keys     KeyStyle
	sink     TradeSink
	notices  ErrorReporter
	monitor  *metrics.Monitor
	events   *metrics.Recorder
	clock    clock.Clock
	log      *logger.Log
	warn     *rate.Limiter

	processed atomic.Int64
	invalid   atomic.Int64
	failed    atomic.Int64
}

type Option func(*Processor)

func WithMonitor(m *metrics.Monitor) Option {
	return func(p *Processor) { p.monitor = m }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(p *Processor) { p.events = r }
}

func WithClock(c clock.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

func WithLogger(l *logger.Log) Option {
	return func(p *Processor) { p.log = l }
}

// WithWarnRate limits how often invalid payloads are logged at warn level.
func WithWarnRate(every time.Duration, burst int) Option {
	return func(p *Processor) { p.warn = rate.NewLimiter(rate.Every(every), burst) }
}

func New(enc wire.Encoding, keys KeyStyle, sink TradeSink, notices ErrorReporter, opts ...Option) *Processor {
	p := &Processor{
		encoding: enc,
		keys:     keys,
		sink:     sink,
		notices:  notices,
		clock:    clock.New(),
		log:      logger.GetLogger(),
		warn:     rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one raw transport payload. Control messages are returned
// to the caller untouched. Errors are *ValidationError or *ProcessingError and
// have already been reported; the caller only needs them for bookkeeping.
func (p *Processor) Handle(data []byte, binary bool) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(&ProcessingError{Err: fmt.Errorf("panic: %v", r)})
			res = Result{Kind: wire.MessageTrade}
		}
	}()

	msg, err := wire.Parse(data, binary, p.encoding)
	if err != nil {
		return Result{}, p.fail(&ProcessingError{Err: err})
	}
	if msg.Kind != wire.MessageTrade {
		return Result{Kind: msg.Kind}, nil
	}
	return p.HandleFrame(msg.Frame)
}

// HandleFrame processes an already parsed trade frame.
func (p *Processor) HandleFrame(frame wire.Frame) (Result, error) {
	start := p.clock.Now()
	if p.monitor != nil {
		p.monitor.TrackMessage()
	}

	rec := wire.Decode(frame)

	// positional frames are already mapped onto canonical keys
	keys := p.keys
	if frame.Kind() == wire.KindPositional {
		keys = KeyStyleCamel
	}
	if err := Validate(rec, keys); err != nil {
		return Result{Kind: wire.MessageTrade}, p.reject(err, frame)
	}

	trade := Normalize(rec, p.clock.Now())
	outcome := p.sink.Insert(trade)
	p.processed.Add(1)

	logger.LogPerformanceEntry(p.log.WithComponent(component), component, "handle_trade", p.clock.Since(start), logger.Fields{
		"trade_id": trade.ID,
		"outcome":  outcome.String(),
	})
	return Result{Kind: wire.MessageTrade, Trade: trade, Outcome: outcome}, nil
}

func (p *Processor) reject(err error, frame wire.Frame) error {
	p.invalid.Add(1)
	p.notices.SetError(InvalidTradeMessage)

	var verr *ValidationError
	fields := logger.Fields{"frame": frame.Kind().String()}
	if errors.As(err, &verr) {
		fields["missing"] = verr.Missing
	}
	p.events.Event(component, metrics.EventTradeInvalid, fields)
	if p.warn.Allow() {
		p.log.WithComponent(component).WithError(err).WithFields(fields).Warn("dropping invalid trade")
	}
	return err
}

func (p *Processor) fail(err *ProcessingError) error {
	p.failed.Add(1)
	p.notices.SetError(ProcessingErrorMessage)
	p.events.Event(component, metrics.EventTradeFailed, nil)
	if p.warn.Allow() {
		p.log.WithComponent(component).WithError(err).Warn("dropping unprocessable message")
	}
	return err
}

// Counts returns processed, invalid and failed message totals.
func (p *Processor) Counts() (processed, invalid, failed int64) {
	return p.processed.Load(), p.invalid.Load(), p.failed.Load()
}
