package dashboard

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"optionflow/internal/state"
	"optionflow/logger"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var errHubClosed = errors.New("live push hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushMessage is the envelope written to live clients.
type pushMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mu; changes seen before the snapshot is queued wait in
	// backlog, and changes already in the snapshot (seq <= since) are skipped
	ready   bool
	since   uint64
	backlog []queuedChange
}

type queuedChange struct {
	seq uint64
	msg []byte
}

// hub fans container changes out to websocket clients. A slow client drops
// changes instead of blocking the goroutine that applied them.
type hub struct {
	state *state.Container
	log   *logger.Log

	mu      sync.Mutex
	clients map[*client]struct{}
	sub     state.SubscriptionID
	closed  bool
}

func newHub(c *state.Container, log *logger.Log) *hub {
	h := &hub{state: c, log: log, clients: make(map[*client]struct{})}
	h.sub = c.Subscribe(h.publish)
	return h
}

func (h *hub) publish(ch state.Change) {
	msg, err := json.Marshal(pushMessage{Type: "change", Data: ch})
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Warn("failed to encode change")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.ready {
			if len(c.backlog) < clientBuffer {
				c.backlog = append(c.backlog, queuedChange{seq: ch.Seq, msg: msg})
			}
			continue
		}
		if ch.Seq <= c.since {
			continue
		}
		h.deliver(c, msg, ch.Action)
	}
}

func (h *hub) deliver(c *client, msg []byte, action state.Action) {
	select {
	case c.send <- msg:
	default:
		h.log.WithComponent("dashboard").WithField("action", string(action)).Debug("live client behind, change dropped")
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// attach registers c before its snapshot is taken so no change is missed.
func (h *hub) attach(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// prime queues the snapshot followed by the backlogged changes it does not
// already include, then switches c to live delivery.
func (h *hub) prime(c *client, snap state.Snapshot) error {
	initial, err := json.Marshal(pushMessage{Type: "snapshot", Data: snap})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return errHubClosed
	}
	c.send <- initial
	for _, q := range c.backlog {
		if q.seq > snap.Seq {
			h.deliver(c, q.msg, "")
		}
	}
	c.backlog = nil
	c.since = snap.Seq
	c.ready = true
	return nil
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.attach(c) {
		conn.Close()
		return
	}
	if err := h.prime(c, h.state.Snapshot()); err != nil {
		h.remove(c)
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound messages and detects the peer going away.
func (h *hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// close detaches from the container and disconnects every client.
func (h *hub) close() {
	h.state.Unsubscribe(h.sub)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
