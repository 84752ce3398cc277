// Package transport dials the trade feed over WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectTimeout is returned when a dial does not complete within the
// configured window.
var ErrConnectTimeout = errors.New("connect timed out")

// Error is a socket level failure.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Frame is one inbound WebSocket data message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is an open feed connection. Read must be called from a single
// goroutine; writes are serialized internally.
type Conn interface {
	Read() (Frame, error)
	WriteText(data []byte) error
	WritePing() error
	SetPongHandler(fn func())
	Subprotocol() string
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Options configures a WebSocket dialer.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	Subprotocols   []string
	UserAgent      string
	LocalIP        string
	ReadLimit      int64
	// WriteTimeout bounds every text and control write. Defaults to 5s.
	WriteTimeout time.Duration
}

// WebSocket dials Options.URL with gorilla/websocket.
type WebSocket struct {
	opts Options
}

func NewWebSocket(opts Options) *WebSocket {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "optionflow/1.0"
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &WebSocket{opts: opts}
}

// Dial connects within the configured timeout. A timeout is reported as a
// dial *Error wrapping ErrConnectTimeout.
func (w *WebSocket) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.opts.ConnectTimeout,
		Subprotocols:     w.opts.Subprotocols,
	}
	if w.opts.LocalIP != "" {
		if ip := net.ParseIP(w.opts.LocalIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		}
	}

	dctx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("User-Agent", w.opts.UserAgent)

	conn, resp, err := dialer.DialContext(dctx, w.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, w.opts.ConnectTimeout, err)
		}
		return nil, &Error{Op: "dial", URL: w.opts.URL, Err: err}
	}
	if w.opts.ReadLimit > 0 {
		conn.SetReadLimit(w.opts.ReadLimit)
	}
	return &wsConn{conn: conn, url: w.opts.URL, writeWait: w.opts.WriteTimeout}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

type wsConn struct {
	conn      *websocket.Conn
	url       string
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read() (Frame, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, &Error{Op: "read", URL: c.url, Err: err}
		}
		switch mt {
		case websocket.TextMessage:
			return Frame{Data: data}, nil
		case websocket.BinaryMessage:
			return Frame{Binary: true, Data: data}, nil
		}
	}
}

func (c *wsConn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return &Error{Op: "write", URL: c.url, Err: err}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &Error{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

func (c *wsConn) WritePing() error {
	deadline := time.Now().Add(c.writeWait)
	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return &Error{Op: "ping", URL: c.url, Err: err}
	}
	return nil
}

// SetPongHandler runs fn on the reading goroutine for every control pong.
func (c *wsConn) SetPongHandler(fn func()) {
	c.conn.SetPongHandler(func(string) error {
		if fn != nil {
			fn()
		}
		return nil
	})
}

func (c *wsConn) Subprotocol() string { return c.conn.Subprotocol() }

// Close sends a normal closure and closes the socket. Repeated calls return
// the first result.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if err := c.conn.Close(); err != nil {
			c.closeErr = &Error{Op: "close", URL: c.url, Err: err}
		}
	})
	return c.closeErr
}
