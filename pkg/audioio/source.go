package audioio

import (
	"context"
	"errors"
	"io"
)

// ErrBackendUnavailable is returned when a backend was not compiled in.
var ErrBackendUnavailable = errors.New("audioio: backend not available in this build")

// Chunk is one block of normalized mono samples in [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the wall-clock length of the chunk.
func (c Chunk) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start acquires the device and begins delivering chunks on Stream.
	// A failure here means the device could not be acquired.
	Start(ctx context.Context) error

	// Stop halts capture and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the channel that receives captured chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan Chunk

	// SetEnabled toggles the input track. A disabled source keeps
	// delivering chunks, but they contain silence.
	SetEnabled(enabled bool)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g. "portaudio", "mock").
	Name() string

	io.Closer
}
