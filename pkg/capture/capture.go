// Package capture turns a microphone stream into fixed-size frames ready for
// the live session, with a cheap volume estimate for meters.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-live/pkg/audioio"
)

const (
	// DefaultBlockSize is the number of samples per frame.
	DefaultBlockSize = audioio.CaptureBlockSize

	// DefaultVolumeStride is the sampling stride for the RMS estimate.
	DefaultVolumeStride = 8
)

// Frame is one block of captured audio. Ownership passes to the callback.
type Frame struct {
	Samples    []float32
	SampleRate int

	// Volume is an RMS estimate scaled to 0..1. UI only.
	Volume float64

	// Muted is set when the frame was captured while muted.
	Muted bool
}

// PCM16 encodes the frame as little-endian PCM16.
func (f Frame) PCM16() []byte {
	return audioio.EncodePCM16(f.Samples)
}

// MIMEType describes the PCM16 payload of the frame.
func (f Frame) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Options configures a Pipeline.
type Options struct {
	BlockSize    int
	VolumeStride int
	Logger       *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithBlockSize overrides the frame length.
func WithBlockSize(n int) Option {
	return func(o *Options) { o.BlockSize = n }
}

// WithVolumeStride overrides the RMS sampling stride.
func WithVolumeStride(n int) Option {
	return func(o *Options) { o.VolumeStride = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Pipeline owns a started Source and delivers frames until torn down.
type Pipeline struct {
	src     audioio.Source
	onFrame func(Frame)
	opts    Options
	logger  *slog.Logger

	muted  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start acquires src and begins calling onFrame once per full block.
// A device acquisition failure is returned as is and nothing is retried.
func Start(ctx context.Context, src audioio.Source, onFrame func(Frame), opts ...Option) (*Pipeline, error) {
	o := Options{
		BlockSize:    DefaultBlockSize,
		VolumeStride: DefaultVolumeStride,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.BlockSize <= 0 {
		return nil, fmt.Errorf("capture: block size must be positive, got %d", o.BlockSize)
	}
	if o.VolumeStride <= 0 {
		o.VolumeStride = 1
	}

	if err := src.Start(ctx); err != nil {
		return nil, fmt.Errorf("capture: acquire microphone: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		src:     src,
		onFrame: onFrame,
		opts:    o,
		logger:  o.Logger.With("component", "capture"),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx)

	p.logger.Info("capture started", "backend", src.Name(), "block", o.BlockSize)
	return p, nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	stream := p.src.Stream()
	rate := p.src.Config().SampleRate
	block := make([]float32, 0, p.opts.BlockSize)

	// A partial block left over at teardown is discarded.
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if chunk.SampleRate != 0 {
				rate = chunk.SampleRate
			}
			in := chunk.Samples
			for len(in) > 0 {
				n := min(p.opts.BlockSize-len(block), len(in))
				block = append(block, in[:n]...)
				in = in[n:]
				if len(block) < p.opts.BlockSize {
					continue
				}
				p.emit(block, rate)
				block = make([]float32, 0, p.opts.BlockSize)
			}
		}
	}
}

func (p *Pipeline) emit(samples []float32, rate int) {
	f := Frame{
		Samples:    samples,
		SampleRate: rate,
		Muted:      p.muted.Load(),
	}
	if !f.Muted {
		f.Volume = Volume(samples, p.opts.VolumeStride)
	}
	p.onFrame(f)
}

// SetMuted disables or re-enables the input track. Frames keep flowing while
// muted so meters update, but they are flagged and carry silence.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
	p.src.SetEnabled(!muted)
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Teardown stops the device and waits for the frame loop to exit.
// It is safe to call more than once.
func (p *Pipeline) Teardown() {
	p.once.Do(func() {
		p.cancel()
		if err := p.src.Stop(); err != nil {
			p.logger.Warn("stop microphone", "error", err)
		}
		<-p.done
		p.logger.Info("capture stopped")
	})
}

// Volume returns the RMS of every stride-th sample, scaled so ordinary
// speech sits in the upper half of 0..1.
func Volume(samples []float32, stride int) float64 {
	if stride <= 0 {
		stride = 1
	}
	var sum float64
	var n int
	for i := 0; i < len(samples); i += stride {
		s := float64(samples[i])
		sum += s * s
		n++
	}
	if n == 0 {
		return 0
	}
	rms := math.Sqrt(sum / float64(n))
	return math.Min(1, rms*5)
}
