// Package hub fans messages out to websocket clients.
package hub

import "github.com/gofiber/websocket/v2"

// Message is one frame queued for every client. Binary frames carry raw
// bytes such as JPEG previews, everything else is JSON text.
type Message struct {
	Binary bool
	Data   []byte
}

// JSON wraps pre-encoded JSON as a text frame.
func JSON(data []byte) Message { return Message{Data: data} }

// Bytes wraps data as a binary frame.
func Bytes(data []byte) Message { return Message{Binary: true, Data: data} }

func (m Message) opcode() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
