// Package transport is the upstream feed client. It keeps one WebSocket to
// the fleet gateway open, reconnecting with backoff, and hands every inbound
// envelope to the dispatcher.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/srec-ev/tracker/internal/dispatcher"
	"github.com/srec-ev/tracker/pkg/streaming"
)

const (
	sendChSize     = 256
	defaultBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	defaultPong    = 60 * time.Second
)

// Dispatcher routes decoded events.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
	HasHandler(command string) bool
}

// Config holds upstream connection settings.
type Config struct {
	URL    string
	Secret string
	// Events is announced in a subscribe message after every connect.
	Events []string
	// MaxReconnect caps reconnect attempts; zero retries forever.
	MaxReconnect int
	// Backoff is the first reconnect delay. It doubles up to 30s.
	Backoff time.Duration
	// PongWait is how long the connection may stay silent before it is
	// treated as dead. Pings go out at 9/10 of it.
	PongWait time.Duration
}

// Client manages a WebSocket connection with a single write goroutine per
// connection.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when the current connection is abandoned
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	cfg    Config
	disp   Dispatcher
	logger *slog.Logger

	// Cached subscribe message, replayed after every reconnect.
	subscribeMsg []byte

	reconnecting atomic.Bool
	connected    atomic.Bool
	received     atomic.Int64
}

func New(cfg Config, disp Dispatcher, logger *slog.Logger) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPong
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		cfg:    cfg,
		disp:   disp,
		logger: logger,
	}
}

// Start connects to the gateway. A failed first dial is not fatal: the
// client keeps retrying in the background. Only a malformed URL is returned.
func (c *Client) Start() error {
	if _, err := c.buildURL(); err != nil {
		return err
	}

	if len(c.cfg.Events) > 0 {
		env, err := streaming.NewEnvelope(streaming.TypeSubscribe, streaming.SubscribePayload{Events: c.cfg.Events})
		if err != nil {
			return fmt.Errorf("marshal subscribe payload: %w", err)
		}
		c.subscribeMsg, err = json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal subscribe envelope: %w", err)
		}
	}

	conn, err := c.dialOnce()
	if err != nil {
		c.logger.Warn("Upstream dial failed, retrying in background", "error", err)
		go c.reconnect()
		return nil
	}
	if err := c.attach(conn); err != nil {
		c.logger.Warn("Upstream handshake failed, retrying in background", "error", err)
		go c.reconnect()
	}
	return nil
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid websocket URL scheme %q", u.Scheme)
	}
	if c.cfg.Secret != "" {
		q := u.Query()
		q.Set("secret", c.cfg.Secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *Client) dialOnce() (*ws.Conn, error) {
	target, err := c.buildURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := ws.DefaultDialer.Dial(target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// attach replays the subscribe message and starts the loops for conn.
func (c *Client) attach(conn *ws.Conn) error {
	if c.subscribeMsg != nil {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			_ = conn.Close()
			return err
		}
		if err := conn.WriteMessage(ws.TextMessage, c.subscribeMsg); err != nil {
			_ = conn.Close()
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("client closed")
	}
	stop := make(chan struct{})
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Info("Connected to upstream feed", "url", c.cfg.URL)

	go c.writeLoop(conn, stop)
	go c.readLoop(conn, stop)
	return nil
}

// writeLoop drains sendCh and writes messages to conn until it is abandoned.
// It also pings the gateway so a half-open connection is noticed by readLoop.
func (c *Client) writeLoop(conn *ws.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.logger.Warn("WebSocket ping error", "error", err)
				go c.reconnect()
				return
			}
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect()
				return
			}
		}
	}
}

// readLoop decodes envelopes and dispatches them. Every frame or pong
// extends the read deadline.
func (c *Client) readLoop(conn *ws.Conn, stop chan struct{}) {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect()
			return
		}
		c.received.Add(1)
		_ = extend()

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Non-envelope message received", "raw", string(message))
			continue
		}
		if env.Type == streaming.TypeAck {
			continue
		}
		if !c.disp.HasHandler(env.Type) {
			c.logger.Debug("Ignoring unhandled upstream event", "type", env.Type)
			continue
		}

		_, err = c.disp.Dispatch(dispatcher.Event{
			Command:   env.Type,
			Payload:   env.Payload,
			Timestamp: time.Now(),
		})
		if err != nil {
			c.logger.Warn("Failed to dispatch upstream event", "type", env.Type, "error", err)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. Only one
// reconnect runs at a time.
func (c *Client) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	backoff := c.cfg.Backoff
	for attempt := 1; c.cfg.MaxReconnect == 0 || attempt <= c.cfg.MaxReconnect; attempt++ {
		c.logger.Info("Reconnecting to upstream feed", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err == nil {
			err = c.attach(conn)
		}
		if err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Upstream feed reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("Upstream reconnect failed after max attempts", "maxAttempts", c.cfg.MaxReconnect)
}

// Send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *Client) Send(msgType string, payload any) error {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message", "type", msgType)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Received returns the number of frames read since start.
func (c *Client) Received() int64 {
	return c.received.Load()
}

// Close sends a WebSocket close frame and shuts down all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.connected.Store(false)

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
