// Package video captures camera or screen frames and samples them on demand
// as small JPEG stills for the live session.
package video

import (
	"context"
	"errors"
	"image"
	"sync"
)

// Kind identifies the active video source.
type Kind string

const (
	KindNone   Kind = "none"
	KindCamera Kind = "camera"
	KindScreen Kind = "screen"
)

// ErrNoFrame is returned by Source.Frame before the first frame arrives.
var ErrNoFrame = errors.New("video: no frame available")

// Source is a live image stream.
type Source interface {
	// Kind reports what the source captures.
	Kind() Kind

	// Frame returns the most recent frame.
	Frame() (image.Image, error)

	// Ended is closed when the stream stops, either because the user ended
	// it outside the program or because Close was called.
	Ended() <-chan struct{}

	// Close releases the device.
	Close() error
}

// OpenFunc opens a source.
type OpenFunc func(ctx context.Context) (Source, error)

// StaticSource serves a fixed image. Useful for tests and previews.
type StaticSource struct {
	kind Kind

	mu    sync.RWMutex
	img   image.Image
	ended chan struct{}
	once  sync.Once
}

// NewStaticSource creates a source of kind that always returns img.
// img may be nil to simulate a device that has not produced a frame yet.
func NewStaticSource(kind Kind, img image.Image) *StaticSource {
	return &StaticSource{kind: kind, img: img, ended: make(chan struct{})}
}

// Kind returns the configured kind.
func (s *StaticSource) Kind() Kind { return s.kind }

// Frame returns the image.
func (s *StaticSource) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil, ErrNoFrame
	}
	return s.img, nil
}

// SetFrame replaces the image.
func (s *StaticSource) SetFrame(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

// Ended returns the end channel.
func (s *StaticSource) Ended() <-chan struct{} { return s.ended }

// End simulates the stream being stopped externally.
func (s *StaticSource) End() { s.once.Do(func() { close(s.ended) }) }

// Close ends the stream.
func (s *StaticSource) Close() error {
	s.End()
	return nil
}
