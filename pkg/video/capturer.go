package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Options configures a Capturer.
type Options struct {
	OpenCamera OpenFunc
	OpenScreen OpenFunc

	// MaxEdge and Quality shape frames returned by CaptureFrame.
	MaxEdge int
	Quality int

	// OnChange is called when the active kind changes, including when a
	// screen share is ended externally.
	OnChange func(Kind)

	Logger *slog.Logger
}

// Capturer holds at most one active video source.
type Capturer struct {
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	src Source

	listenMu  sync.Mutex
	listeners []func(Kind)
}

// NewCapturer creates a capturer. Missing openers fall back to ffmpeg.
func NewCapturer(opts Options) *Capturer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxEdge == 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}
	if opts.OpenCamera == nil {
		opts.OpenCamera = NewFFmpegOpener(KindCamera, DefaultCameraConfig(), opts.Logger)
	}
	if opts.OpenScreen == nil {
		opts.OpenScreen = NewFFmpegOpener(KindScreen, DefaultScreenConfig(), opts.Logger)
	}
	return &Capturer{
		opts:   opts,
		logger: opts.Logger.With("component", "video.capturer"),
	}
}

// StartCamera switches to the camera, stopping any other source first.
func (c *Capturer) StartCamera(ctx context.Context) error {
	return c.start(ctx, KindCamera, c.opts.OpenCamera)
}

// StartScreenShare switches to the screen, stopping any other source first.
func (c *Capturer) StartScreenShare(ctx context.Context) error {
	return c.start(ctx, KindScreen, c.opts.OpenScreen)
}

func (c *Capturer) start(ctx context.Context, kind Kind, open OpenFunc) error {
	c.Stop()

	src, err := open(ctx)
	if err != nil {
		return fmt.Errorf("video: start %s: %w", kind, err)
	}

	c.mu.Lock()
	prev := c.src
	c.src = src
	c.mu.Unlock()
	// Lost a race with another start.
	if prev != nil {
		prev.Close()
	}

	go c.watch(src)
	c.logger.Info("video source started", "kind", kind)
	c.changed(kind)
	return nil
}

// watch drops src when its stream ends on its own.
func (c *Capturer) watch(src Source) {
	<-src.Ended()

	c.mu.Lock()
	current := c.src == src
	if current {
		c.src = nil
	}
	c.mu.Unlock()

	if current {
		src.Close()
		c.logger.Info("video source ended", "kind", src.Kind())
		c.changed(KindNone)
	}
}

// Stop releases the active source, if any.
func (c *Capturer) Stop() {
	c.mu.Lock()
	src := c.src
	c.src = nil
	c.mu.Unlock()

	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		c.logger.Warn("close video source", "error", err)
	}
	c.changed(KindNone)
}

// Active returns the kind of the active source.
func (c *Capturer) Active() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.src == nil {
		return KindNone
	}
	return c.src.Kind()
}

// Source returns the active source for local preview, or nil.
func (c *Capturer) Source() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src
}

// CaptureFrame samples the active source as a downscaled JPEG. It returns
// nil with no error when there is no source or no frame yet.
func (c *Capturer) CaptureFrame() ([]byte, error) {
	src := c.Source()
	if src == nil {
		return nil, nil
	}
	img, err := src.Frame()
	if errors.Is(err, ErrNoFrame) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img, c.opts.MaxEdge, c.opts.Quality)
}

// OnChange adds a listener for active kind changes, on top of
// Options.OnChange.
func (c *Capturer) OnChange(fn func(Kind)) {
	c.listenMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenMu.Unlock()
}

func (c *Capturer) changed(kind Kind) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(kind)
	}
	c.listenMu.Lock()
	fns := make([]func(Kind), len(c.listeners))
	copy(fns, c.listeners)
	c.listenMu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}
