package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srec-ev/tracker/pkg/core"
	"github.com/srec-ev/tracker/pkg/streaming"
)

const (
	clientSendSize  = 64
	clientWriteWait = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans renderer messages out to every connected browser. It implements
// notify.Output so alarm and speech commands reach the renderers, and its
// Publish method is an engine subscriber. No method blocks on a slow client;
// a client whose queue is full is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger

	lastView []byte
	alarmOn  bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the request and registers the client. The client first
// receives the latest view and, if an SOS is sounding, the alarm.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade error", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.lastView != nil {
		c.send <- h.lastView
	}
	if h.alarmOn {
		if data, err := encode(streaming.TypeAlarm, streaming.AlarmPayload{Action: streaming.AlarmPlay}); err == nil {
			c.send <- data
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (h *Hub) broadcast(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("Failed to encode renderer message", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if msgType == streaming.TypeView {
		h.lastView = data
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Renderer too slow, dropping client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Publish sends a fresh view to every renderer.
func (h *Hub) Publish(v core.View) {
	h.broadcast(streaming.TypeView, v)
}

func (h *Hub) PlayAlarm() {
	h.mu.Lock()
	h.alarmOn = true
	h.mu.Unlock()
	h.broadcast(streaming.TypeAlarm, streaming.AlarmPayload{Action: streaming.AlarmPlay})
}

func (h *Hub) StopAlarm() {
	h.mu.Lock()
	h.alarmOn = false
	h.mu.Unlock()
	h.broadcast(streaming.TypeAlarm, streaming.AlarmPayload{Action: streaming.AlarmStop})
}

func (h *Hub) Speak(text string) {
	h.broadcast(streaming.TypeSpeech, streaming.SpeechPayload{Text: text})
}

func (h *Hub) CancelSpeech() {
	h.broadcast(streaming.TypeSpeechCancel, nil)
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every renderer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
