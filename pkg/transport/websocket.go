package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/setup"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSetupTimeout     = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second

	// pongWait bounds silence on the socket. Pings from the engine's
	// keepalive refresh it through the pong handler.
	defaultPongWait = 90 * time.Second

	maxMessageSize = 16 * 1024 * 1024
)

// WebSocket is a Transport over gorilla/websocket.
type WebSocket struct {
	Dialer       *websocket.Dialer
	SetupTimeout time.Duration
	WriteTimeout time.Duration
	PongWait     time.Duration
	Logger       *slog.Logger
}

// NewWebSocket returns a WebSocket transport with default timeouts.
func NewWebSocket(logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		SetupTimeout: defaultSetupTimeout,
		WriteTimeout: defaultWriteTimeout,
		PongWait:     defaultPongWait,
		Logger:       logger,
	}
}

// Open dials ep and writes the setup frame. OnOpen fires once the server
// replies with setupComplete.
func (w *WebSocket) Open(ctx context.Context, ep Endpoint, cfg setup.Config, cb Callbacks) (Handle, error) {
	url := ep.URL
	if url == "" {
		url = DefaultURL
	}
	frame, err := cfg.SetupMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: encode setup: %w", err)
	}

	conn, resp, err := w.Dialer.DialContext(ctx, url, ep.RequestHeader())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &wsConn{
		conn:         conn,
		cb:           cb,
		writeTimeout: w.WriteTimeout,
		pongWait:     w.PongWait,
		logger:       w.Logger.With("component", "transport.websocket"),
		setupDone:    make(chan struct{}),
	}
	if err := c.write(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: send setup: %w", err)
	}

	go c.readLoop()
	go c.awaitSetup(w.SetupTimeout)

	c.logger.Debug("connection opened, awaiting setup ack", "model", cfg.Model, "resuming", cfg.Handle() != "")
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	cb           Callbacks
	writeTimeout time.Duration
	pongWait     time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	setupOnce sync.Once
	setupDone chan struct{}

	// ended guards the single terminal callback.
	ended atomic.Bool
}

func (c *wsConn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(kind, data)
}

// Send encodes and writes m.
func (c *wsConn) Send(m Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", m.Kind(), err)
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send %s: %w", m.Kind(), err)
	}
	return nil
}

// Ping writes a ping control frame.
func (c *wsConn) Ping() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal close frame and tears the socket down.
func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) awaitSetup(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.setupDone:
	case <-t.C:
		c.fail(ErrSetupTimeout)
		c.conn.Close()
	}
}

func (c *wsConn) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closeWith(CloseInfo{Code: ce.Code, Reason: ce.Text})
			} else {
				c.fail(err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg genai.LiveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping undecodable server message", "error", err, "bytes", len(data))
			continue
		}

		if msg.SetupComplete != nil {
			c.setupOnce.Do(func() { close(c.setupDone) })
			if !c.closed.Load() && c.cb.OnOpen != nil {
				c.cb.OnOpen()
			}
			continue
		}
		if !c.closed.Load() && c.cb.OnMessage != nil {
			c.cb.OnMessage(&msg)
		}
	}
}

func (c *wsConn) fail(err error) {
	if c.closed.Load() || !c.ended.CompareAndSwap(false, true) {
		return
	}
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *wsConn) closeWith(info CloseInfo) {
	if c.closed.Load() || !c.ended.CompareAndSwap(false, true) {
		return
	}
	if c.cb.OnClose != nil {
		c.cb.OnClose(info)
	}
}

var _ Transport = (*WebSocket)(nil)
