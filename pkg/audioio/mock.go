package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a synthetic audio source for testing.
// It can generate a tone on a ticker, and accepts pushed samples.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sendMu   sync.RWMutex // held by Push while sending
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}
	startErr error

	enabled atomic.Bool

	interval  time.Duration // 0 disables the generator
	frequency float64       // Hz, 0 = silence
	amplitude float64
	phase     float64

	chunks atomic.Int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the generator to produce a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithGenerator makes the source emit one buffer every FramesPerBuffer worth
// of wall-clock time.
func WithGenerator() MockSourceOption {
	return func(m *MockSource) {
		m.interval = m.cfg.BufferDuration()
	}
}

// WithStartError makes Start fail, simulating an unavailable device.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan Chunk, 16),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	m.enabled.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins delivering audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Chunk, 16)

	if m.interval > 0 {
		go m.generateLoop(ctx, m.stopCh)
	}

	m.logger.Debug("mock audio source started", "sample_rate", m.cfg.SampleRate)
	return nil
}

// Push delivers samples as one chunk, as if the device had produced them.
// It blocks until the chunk is queued or the source stops.
func (m *MockSource) Push(samples []float32) bool {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	ch, stop := m.streamCh, m.stopCh
	m.mu.Unlock()

	chunk := m.shape(samples)
	select {
	case ch <- chunk:
		m.chunks.Add(1)
		return true
	case <-stop:
		return false
	}
}

func (m *MockSource) generateLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			samples := make([]float32, m.cfg.FramesPerBuffer)
			if m.frequency > 0 {
				for i := range samples {
					samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
					m.phase++
				}
			}
			m.Push(samples)
		}
	}
}

func (m *MockSource) shape(samples []float32) Chunk {
	if !m.enabled.Load() {
		samples = make([]float32, len(samples))
	}
	return Chunk{Samples: samples, SampleRate: m.cfg.SampleRate}
}

// Stop halts audio delivery and closes the stream.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	ch := m.streamCh
	m.mu.Unlock()

	// Wait for in-flight pushes to observe stopCh before closing.
	m.sendMu.Lock()
	close(ch)
	m.sendMu.Unlock()
	return nil
}

// Stream returns the chunk channel for the current run.
func (m *MockSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// SetEnabled toggles the input track.
func (m *MockSource) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// Enabled reports whether the track is enabled.
func (m *MockSource) Enabled() bool { return m.enabled.Load() }

// Pushed returns the number of chunks delivered so far.
func (m *MockSource) Pushed() int64 { return m.chunks.Load() }

// Running reports whether the source is started.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return "mock" }

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

var _ Source = (*MockSource)(nil)

// MockOutput drives a Timeline in real time without a sound card.
type MockOutput struct {
	*Timeline
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewMockOutput creates a silent output device.
func NewMockOutput(cfg Config, logger *slog.Logger) *MockOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockOutput{
		Timeline: NewTimeline(cfg.SampleRate),
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins advancing the clock.
func (m *MockOutput) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return nil
	}
	m.stopCh = make(chan struct{})
	go m.renderLoop(ctx, m.stopCh)
	return nil
}

func (m *MockOutput) renderLoop(ctx context.Context, stop chan struct{}) {
	buf := make([]float32, m.cfg.FramesPerBuffer)
	ticker := time.NewTicker(m.cfg.BufferDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Render(buf)
		}
	}
}

// Name returns "mock".
func (m *MockOutput) Name() string { return "mock" }

// Close stops the clock.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	return nil
}

var _ Output = (*MockOutput)(nil)
