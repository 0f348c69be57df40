// Package transport carries live-session frames over a message-oriented
// connection with open, message, error and close notifications.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/setup"
)

// DefaultURL is the Gemini Live bidirectional streaming endpoint.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

var (
	// ErrClosed is returned when sending on a closed handle.
	ErrClosed = errors.New("transport: connection closed")

	// ErrSetupTimeout is reported when the server never acknowledges setup.
	ErrSetupTimeout = errors.New("transport: setup not acknowledged")
)

// Endpoint says where and how to connect.
type Endpoint struct {
	URL string

	// Exactly one of APIKey or Bearer is normally set.
	APIKey string
	Bearer string

	Header http.Header
}

// RequestHeader builds the handshake headers.
func (e Endpoint) RequestHeader() http.Header {
	h := make(http.Header)
	for k, v := range e.Header {
		h[k] = append([]string(nil), v...)
	}
	if e.APIKey != "" {
		h.Set("x-goog-api-key", e.APIKey)
	}
	if e.Bearer != "" {
		h.Set("Authorization", "Bearer "+e.Bearer)
	}
	return h
}

// CloseInfo describes why a connection closed.
type CloseInfo struct {
	Code   int
	Reason string
}

func (c CloseInfo) String() string {
	if c.Reason == "" {
		return fmt.Sprintf("code %d", c.Code)
	}
	return fmt.Sprintf("code %d: %s", c.Code, c.Reason)
}

// Callbacks receive connection events. They are invoked from the
// transport's read goroutine and must not block for long.
type Callbacks struct {
	// OnOpen fires once the server has acknowledged the setup frame.
	OnOpen func()

	// OnMessage fires for every decoded server message after open.
	OnMessage func(*genai.LiveServerMessage)

	// OnError fires for transport failures other than a clean close.
	OnError func(error)

	// OnClose fires when the peer closes the connection.
	OnClose func(CloseInfo)
}

// Handle is one open connection.
type Handle interface {
	// Send writes one client message.
	Send(Message) error

	// Ping writes a keepalive control frame.
	Ping() error

	// Close closes the connection. No callbacks fire afterwards.
	Close() error
}

// Transport opens connections.
type Transport interface {
	// Open dials ep, writes the setup frame for cfg and starts reading.
	// An error means no connection was established.
	Open(ctx context.Context, ep Endpoint, cfg setup.Config, cb Callbacks) (Handle, error)
}
