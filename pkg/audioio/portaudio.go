//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// PortAudioSource captures the default input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	stream   *portaudio.Stream
	streamCh chan Chunk
	closed   bool

	enabled atomic.Bool
	dropped atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	s := &PortAudioSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.portaudio.source"),
		streamCh: make(chan Chunk, 16),
	}
	s.enabled.Store(true)
	return s, nil
}

// Start opens the default input stream.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	ch := make(chan Chunk, 16)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), s.cfg.FramesPerBuffer, func(in []float32) {
		samples := make([]float32, len(in))
		if s.enabled.Load() {
			copy(samples, in)
		}
		select {
		case ch <- Chunk{Samples: samples, SampleRate: s.cfg.SampleRate}:
		default:
			s.dropped.Add(1)
		}
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	s.stream = stream
	s.streamCh = ch
	s.logger.Info("microphone opened", "sample_rate", s.cfg.SampleRate, "frames", s.cfg.FramesPerBuffer)
	return nil
}

// Stop closes the input stream.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	// Stop blocks until the callback has returned, so closing ch is safe.
	s.stream.Stop()
	s.stream.Close()
	s.stream = nil
	close(s.streamCh)
	portaudio.Terminate()

	if n := s.dropped.Swap(0); n > 0 {
		s.logger.Warn("microphone buffers dropped", "count", n)
	}
	return nil
}

// Stream returns the chunk channel for the current run.
func (s *PortAudioSource) Stream() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// SetEnabled toggles the input track.
func (s *PortAudioSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSource) Name() string { return "portaudio" }

// Close releases the device.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// PortAudioOutput renders a Timeline to the default output device.
type PortAudioOutput struct {
	*Timeline
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

func newPortAudioOutput(cfg Config, logger *slog.Logger) (Output, error) {
	return &PortAudioOutput{
		Timeline: NewTimeline(cfg.SampleRate),
		cfg:      cfg,
		logger:   logger.With("component", "audioio.portaudio.output"),
	}, nil
}

// Start opens the default output stream.
func (o *PortAudioOutput) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(o.cfg.SampleRate), o.cfg.FramesPerBuffer, o.Render)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}
	o.stream = stream
	o.logger.Info("speaker opened", "sample_rate", o.cfg.SampleRate)
	return nil
}

// Name returns "portaudio".
func (o *PortAudioOutput) Name() string { return "portaudio" }

// Close stops rendering and releases the device.
func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return nil
	}
	o.stream.Stop()
	o.stream.Close()
	o.stream = nil
	portaudio.Terminate()
	return nil
}
