package transport

import (
	"context"
	"sync"

	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/setup"
)

// Mock is an in-memory Transport for tests. Every Open creates a MockHandle
// whose callbacks are driven by the Simulate* helpers.
type Mock struct {
	mu      sync.Mutex
	handles []*MockHandle

	// OpenFunc overrides Open's result when set, e.g. to fail dials.
	OpenFunc func(ep Endpoint, cfg setup.Config) error

	// Opened, if set, receives every new handle.
	Opened chan *MockHandle
}

// NewMock creates a mock transport.
func NewMock() *Mock {
	return &Mock{Opened: make(chan *MockHandle, 32)}
}

// Open records the attempt and returns a new handle.
func (m *Mock) Open(ctx context.Context, ep Endpoint, cfg setup.Config, cb Callbacks) (Handle, error) {
	if m.OpenFunc != nil {
		if err := m.OpenFunc(ep, cfg); err != nil {
			return nil, err
		}
	}
	h := &MockHandle{Endpoint: ep, Config: cfg, cb: cb}

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()

	if m.Opened != nil {
		select {
		case m.Opened <- h:
		default:
		}
	}
	return h, nil
}

// Handles returns every handle opened so far.
func (m *Mock) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockHandle(nil), m.handles...)
}

// Last returns the most recent handle, or nil.
func (m *Mock) Last() *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// MockHandle is one simulated connection.
type MockHandle struct {
	Endpoint Endpoint
	Config   setup.Config

	cb Callbacks

	mu      sync.Mutex
	sent    []Message
	pings   int
	closed  bool
	SendErr error
}

// Send records m.
func (h *MockHandle) Send(m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.SendErr != nil {
		return h.SendErr
	}
	h.sent = append(h.sent, m)
	return nil
}

// Ping counts keepalives.
func (h *MockHandle) Ping() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.pings++
	return nil
}

// Close marks the handle closed.
func (h *MockHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Sent returns a copy of every message sent.
func (h *MockHandle) Sent() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.sent...)
}

// SentKind returns sent messages whose Kind matches.
func (h *MockHandle) SentKind(kind string) []Message {
	var out []Message
	for _, m := range h.Sent() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Pings returns the number of keepalives sent.
func (h *MockHandle) Pings() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings
}

// Closed reports whether Close was called.
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// SimulateOpen fires OnOpen.
func (h *MockHandle) SimulateOpen() {
	if h.cb.OnOpen != nil {
		h.cb.OnOpen()
	}
}

// SimulateMessage fires OnMessage.
func (h *MockHandle) SimulateMessage(msg *genai.LiveServerMessage) {
	if h.cb.OnMessage != nil {
		h.cb.OnMessage(msg)
	}
}

// SimulateClose fires OnClose.
func (h *MockHandle) SimulateClose(code int, reason string) {
	if h.cb.OnClose != nil {
		h.cb.OnClose(CloseInfo{Code: code, Reason: reason})
	}
}

// SimulateError fires OnError.
func (h *MockHandle) SimulateError(err error) {
	if h.cb.OnError != nil {
		h.cb.OnError(err)
	}
}

var (
	_ Transport = (*Mock)(nil)
	_ Handle    = (*MockHandle)(nil)
)
