package realtime

import (
	"fmt"

	"github.com/teslashibe/go-live/pkg/video"
)

// State is the connection lifecycle state.
type State int

const (
	// StateIdle means no session is open or being opened.
	StateIdle State = iota
	// StateConnecting means the first attempt of a session is in progress.
	StateConnecting
	// StateConnected means the session is open.
	StateConnected
	// StateReconnecting means the session was lost and a retry is pending
	// or in progress.
	StateReconnecting
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason says why a session ended.
type Reason int

const (
	// ReasonNone is used while a session is alive.
	ReasonNone Reason = iota
	// ReasonUserClosed means Disconnect was called.
	ReasonUserClosed
	// ReasonRetriesExhausted means the reconnection budget ran out.
	ReasonRetriesExhausted
	// ReasonFatal means a prerequisite such as credentials or a device failed.
	ReasonFatal
)

// String returns a human-readable reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserClosed:
		return "user_closed"
	case ReasonRetriesExhausted:
		return "retries_exhausted"
	case ReasonFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText encodes the reason as its name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Snapshot is the observable engine state for UIs.
type Snapshot struct {
	State        State      `json:"state"`
	Reason       Reason     `json:"reason"`
	Connected    bool       `json:"connected"`
	Reconnecting bool       `json:"reconnecting"`
	Speaking     bool       `json:"speaking"`
	Muted        bool       `json:"muted"`
	Volume       float64    `json:"volume"`
	Video        video.Kind `json:"video"`

	// Attempt is the current reconnection attempt, zero when healthy.
	Attempt int `json:"attempt"`

	// Status is a human-readable line such as "Reconnecting (attempt 2/5)…".
	Status string `json:"status"`

	// Error is set only for terminal failures.
	Error string `json:"error,omitempty"`

	// SessionID identifies the conversation across reconnects.
	SessionID string `json:"session_id,omitempty"`
}

func reconnectStatus(attempt, max int) string {
	return fmt.Sprintf("Reconnecting (attempt %d/%d)…", attempt, max)
}

func exhaustedMessage(max int) string {
	return fmt.Sprintf("connection lost: reconnection failed after %d attempts", max)
}
