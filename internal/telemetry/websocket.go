package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBuffer = 256
	writeWait    = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage is what plot clients receive.
type WSMessage struct {
	Type    string   `json:"type"` // "signals" or "sample"
	Signals []Signal `json:"signals,omitempty"`
	Point   *Point   `json:"point,omitempty"`
}

type wsClient struct {
	send chan WSMessage
}

// Hub streams samples to connected websocket plot clients. A client that
// cannot keep up is disconnected.
type Hub struct {
	log   *zap.SugaredLogger
	units units

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{log: log, clients: make(map[*wsClient]struct{})}
}

func (h *Hub) RegisterSignal(name, unit string) {
	h.units.add(name, unit)
}

func (h *Hub) AppendSample(name string, ts, value float64) {
	msg := WSMessage{Type: "sample", Point: &Point{Signal: name, Unit: h.units.unit(name), T: ts, V: value}}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected plot clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("plot: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{send: make(chan WSMessage, clientBuffer)}
	c.send <- WSMessage{Type: "signals", Signals: h.units.list()}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debugf("plot: client connected from %s", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer h.remove(c)
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-c.send:
			if !ok {
				h.log.Warnf("plot: dropping slow client %s", r.RemoteAddr)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warnf("plot: websocket error: %v", err)
				}
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
